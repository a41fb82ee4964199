package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valpere/aclarador/internal"
)

// PassRecord is the persisted summary of one refinement pass.
type PassRecord struct {
	PassNumber   int
	Text         string
	OverallScore float64
	Scores       map[string]float64
	ChangeRatio  float64
	Issues       int
	Duration     time.Duration
}

// OutcomeRecord is the persisted result of a refinement run.
type OutcomeRecord struct {
	FinalText  string
	PassesRun  int
	Converged  bool
	Reason     string
	Degraded   bool
	FinalScore float64
}

func (s *Store) SaveRun(ctx context.Context, req internal.RefinementRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refinement_runs (id, source_text, language, declared_type, mode, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		req.ID, req.SourceText, req.Language, req.DeclaredType, req.Mode, req.Timestamp)
	return err
}

func (s *Store) SavePass(ctx context.Context, runID string, p PassRecord) error {
	scores, err := json.Marshal(p.Scores)
	if err != nil {
		return fmt.Errorf("failed to encode scores: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO refinement_passes (run_id, pass_number, text, overall_score, scores, change_ratio, issues, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, p.PassNumber, p.Text, p.OverallScore, string(scores), p.ChangeRatio, p.Issues, p.Duration.Milliseconds())
	return err
}

func (s *Store) SaveOutcome(ctx context.Context, runID string, o OutcomeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO refinement_outcomes (run_id, final_text, passes_run, converged, reason, degraded, final_score) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, o.FinalText, o.PassesRun, o.Converged, o.Reason, o.Degraded, o.FinalScore)
	return err
}

// GetPasses returns the recorded passes of a run in order.
func (s *Store) GetPasses(ctx context.Context, runID string) ([]PassRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pass_number, text, overall_score, scores, change_ratio, issues, duration_ms FROM refinement_passes WHERE run_id = ? ORDER BY pass_number`,
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passes []PassRecord
	for rows.Next() {
		var p PassRecord
		var scores string
		var durationMs int64
		if err := rows.Scan(&p.PassNumber, &p.Text, &p.OverallScore, &scores, &p.ChangeRatio, &p.Issues, &durationMs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(scores), &p.Scores); err != nil {
			return nil, fmt.Errorf("pass %d: failed to decode scores: %w", p.PassNumber, err)
		}
		p.Duration = time.Duration(durationMs) * time.Millisecond
		passes = append(passes, p)
	}
	return passes, rows.Err()
}

// GetOutcome returns the outcome of a run, or false when the run has none.
func (s *Store) GetOutcome(ctx context.Context, runID string) (*OutcomeRecord, bool, error) {
	var o OutcomeRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT final_text, passes_run, converged, reason, degraded, final_score FROM refinement_outcomes WHERE run_id = ?`,
		runID).Scan(&o.FinalText, &o.PassesRun, &o.Converged, &o.Reason, &o.Degraded, &o.FinalScore)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &o, true, nil
}

// BatchCheckpoint represents a batch refinement job's checkpoint record.
type BatchCheckpoint struct {
	ID         string
	InputFile  string
	OutputFile string
	Mode       string
	Status     string
	CreatedAt  time.Time
}

// CreateBatchCheckpoint creates a new checkpoint record and returns its ID.
func (s *Store) CreateBatchCheckpoint(ctx context.Context, inputFile, outputFile, mode string) (string, error) {
	id := fmt.Sprintf("cp_%d", time.Now().UnixNano())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_checkpoints (id, input_file, output_file, mode) VALUES (?, ?, ?, ?)`,
		id, inputFile, outputFile, mode)
	return id, err
}

// GetBatchCheckpoint retrieves a checkpoint by ID.
func (s *Store) GetBatchCheckpoint(ctx context.Context, checkpointID string) (*BatchCheckpoint, error) {
	var cp BatchCheckpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT id, input_file, output_file, mode, status, created_at FROM batch_checkpoints WHERE id = ?`,
		checkpointID).Scan(&cp.ID, &cp.InputFile, &cp.OutputFile, &cp.Mode, &cp.Status, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("checkpoint not found: %s", checkpointID)
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// SaveBatchCell persists the refined text for a single CSV cell.
func (s *Store) SaveBatchCell(ctx context.Context, checkpointID string, rowIdx, colIdx int, refinedText string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO batch_checkpoint_cells (checkpoint_id, row_idx, col_idx, refined_text) VALUES (?, ?, ?, ?)`,
		checkpointID, rowIdx, colIdx, refinedText)
	return err
}

// GetBatchCells returns all already-refined cells for a checkpoint as a
// "row:col" → text map.
func (s *Store) GetBatchCells(ctx context.Context, checkpointID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_idx, col_idx, refined_text FROM batch_checkpoint_cells WHERE checkpoint_id = ?`,
		checkpointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cells := make(map[string]string)
	for rows.Next() {
		var rowIdx, colIdx int
		var text string
		if err := rows.Scan(&rowIdx, &colIdx, &text); err != nil {
			return nil, err
		}
		cells[CellKey(rowIdx, colIdx)] = text
	}
	return cells, rows.Err()
}

// CellKey is the key GetBatchCells uses for a cell.
func CellKey(rowIdx, colIdx int) string {
	return fmt.Sprintf("%d:%d", rowIdx, colIdx)
}

// CompleteBatchCheckpoint marks a checkpoint as completed.
func (s *Store) CompleteBatchCheckpoint(ctx context.Context, checkpointID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batch_checkpoints SET status = 'completed', updated_at = ? WHERE id = ?`,
		time.Now(), checkpointID)
	return err
}

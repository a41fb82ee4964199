package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/valpere/aclarador/internal/retrieval"
)

// AddGuideline inserts or replaces a guideline and returns its id. An empty
// id gets a generated one.
func (s *Store) AddGuideline(ctx context.Context, g retrieval.Guideline) (string, error) {
	if strings.TrimSpace(g.Text) == "" {
		return "", fmt.Errorf("guideline text is empty")
	}
	if g.ID == "" {
		g.ID = "gl-" + uuid.NewString()[:8]
	}
	if g.Weight <= 0 {
		g.Weight = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO guidelines (id, source, locator, language, topics, text, weight) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Source, g.Locator, g.Language, strings.Join(g.Topics, ","), g.Text, g.Weight)
	return g.ID, err
}

// ImportGuidelines adds all entries in one transaction.
func (s *Store) ImportGuidelines(ctx context.Context, entries []retrieval.Guideline) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO guidelines (id, source, locator, language, topics, text, weight) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, g := range entries {
		if _, err := stmt.ExecContext(ctx, g.ID, g.Source, g.Locator, g.Language, strings.Join(g.Topics, ","), g.Text, g.Weight); err != nil {
			return 0, fmt.Errorf("guideline %s: %w", g.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// ListGuidelines returns all guidelines, optionally filtered by language
// (pass "" to return everything). Guidelines without a language match any
// filter.
func (s *Store) ListGuidelines(ctx context.Context, language string) ([]retrieval.Guideline, error) {
	query := `SELECT id, source, COALESCE(locator, ''), COALESCE(language, ''), COALESCE(topics, ''), text, weight FROM guidelines`
	var args []any
	if language != "" {
		query += ` WHERE language = ? OR language = '' OR language IS NULL`
		args = append(args, language)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []retrieval.Guideline
	for rows.Next() {
		var g retrieval.Guideline
		var topics string
		if err := rows.Scan(&g.ID, &g.Source, &g.Locator, &g.Language, &topics, &g.Text, &g.Weight); err != nil {
			return nil, err
		}
		if topics != "" {
			g.Topics = strings.Split(topics, ",")
		}
		entries = append(entries, g)
	}
	return entries, rows.Err()
}

// DeleteGuideline removes a guideline by ID.
func (s *Store) DeleteGuideline(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM guidelines WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("guideline not found: %s", id)
	}
	return nil
}

// Retrieve ranks the stored guidelines against query.
func (s *Store) Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Guideline, error) {
	entries, err := s.ListGuidelines(ctx, "")
	if err != nil {
		return nil, err
	}
	return retrieval.Rank(entries, query, topK), nil
}

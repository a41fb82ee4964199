/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/logger"
	"github.com/valpere/aclarador/internal/refiner"
	"github.com/valpere/aclarador/internal/store"
)

var (
	batchInputFile  string
	batchOutputFile string
	batchColumns    []int
	batchMode       string
	batchLang       string
	batchType       string
	batchSkipHeader bool
	batchNoCache    bool
	batchResume     string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Refine columns of a CSV file",
	Long: `Refine one or more columns in a CSV file.

By default all columns are refined. Use -c to select specific columns
(0-indexed). The flag may be repeated to select multiple columns.

A checkpoint ID is printed at the start of each run. If the job is interrupted,
use --resume with that ID to skip already-refined cells.

Example:
  aclarador batch -i avisos.csv -o avisos.clear.csv -c 1 -c 3
  aclarador batch -i avisos.csv -o avisos.clear.csv --resume cp_123456789`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if batchInputFile == batchOutputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		f, err := os.Open(batchInputFile)
		if err != nil {
			return fmt.Errorf("failed to open input CSV: %w", err)
		}
		defer f.Close()

		records, err := csv.NewReader(f).ReadAll()
		if err != nil {
			return fmt.Errorf("failed to read CSV: %w", err)
		}
		if len(records) == 0 {
			return fmt.Errorf("CSV file is empty")
		}

		if cmd.Flags().Changed("mode") {
			cfg.Mode = batchMode
		}
		if cmd.Flags().Changed("lang") {
			cfg.Language = batchLang
		}
		if cmd.Flags().Changed("type") {
			cfg.Type = batchType
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		m, _ := refiner.ParseMode(cfg.Mode)

		eng, err := buildEngine(cfg, batchNoCache)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		db := eng.db
		if db == nil && cfg.DBPath != "" {
			if db, err = openStore(cfg.DBPath); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v, checkpoints disabled\n", err)
			} else {
				defer db.Close()
			}
		}

		checkpointID, done, err := loadCheckpoint(ctx, db, m)
		if err != nil {
			return err
		}

		colSet := make(map[int]bool, len(batchColumns))
		for _, c := range batchColumns {
			colSet[c] = true
		}
		refineAll := len(batchColumns) == 0

		uctx := unitContext(cfg, cfg.Language, cfg.Type)
		refined, failed := 0, 0

		out := make([][]string, len(records))
		for rowIdx, row := range records {
			out[rowIdx] = make([]string, len(row))
			copy(out[rowIdx], row)
			if batchSkipHeader && rowIdx == 0 {
				continue
			}

			for colIdx, cell := range row {
				if !refineAll && !colSet[colIdx] {
					continue
				}
				if cell == "" {
					continue
				}
				if text, ok := done[store.CellKey(rowIdx, colIdx)]; ok {
					out[rowIdx][colIdx] = text
					continue
				}
				if ctx.Err() != nil {
					break
				}

				doc := internal.NewDocument(cell, cfg.Language, cfg.Type)
				res, err := eng.controller.Refine(ctx, doc, m, refiner.WithUnitContext(uctx))
				if err != nil {
					logger.Error("row %d col %d: %v, keeping original", rowIdx, colIdx, err)
					failed++
					continue
				}
				if ctx.Err() != nil {
					// interrupted mid-cell; the resumed run redoes it
					break
				}
				out[rowIdx][colIdx] = res.FinalDocument.Text
				refined++

				if db != nil && checkpointID != "" {
					if err := db.SaveBatchCell(ctx, checkpointID, rowIdx, colIdx, res.FinalDocument.Text); err != nil {
						fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint row %d col %d: %v\n", rowIdx, colIdx, err)
					}
				}
			}
		}

		outFile, err := os.Create(batchOutputFile)
		if err != nil {
			return fmt.Errorf("failed to create output CSV: %w", err)
		}
		defer outFile.Close()

		writer := csv.NewWriter(outFile)
		if err := writer.WriteAll(out); err != nil {
			return fmt.Errorf("failed to write output CSV: %w", err)
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("failed to flush output CSV: %w", err)
		}

		if ctx.Err() != nil {
			fmt.Fprintf(os.Stderr, "Interrupted; resume with --resume %s\n", checkpointID)
			return nil
		}
		if db != nil && checkpointID != "" {
			_ = db.CompleteBatchCheckpoint(context.Background(), checkpointID)
		}

		fmt.Printf("CSV refined successfully: %s (%d cells refined, %d resumed, %d failed)\n",
			batchOutputFile, refined, len(done), failed)
		return nil
	},
}

// loadCheckpoint resumes batchResume or starts a new checkpoint. It returns
// the checkpoint id and the cells already refined.
func loadCheckpoint(ctx context.Context, db *store.Store, m refiner.Mode) (string, map[string]string, error) {
	done := make(map[string]string)
	if batchResume != "" {
		if db == nil {
			return "", nil, fmt.Errorf("--resume requires a database")
		}
		cp, err := db.GetBatchCheckpoint(ctx, batchResume)
		if err != nil {
			return "", nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if cp.InputFile != batchInputFile {
			fmt.Fprintf(os.Stderr, "Warning: checkpoint %s was created for %s\n", cp.ID, cp.InputFile)
		}
		cells, err := db.GetBatchCells(ctx, cp.ID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to load checkpoint cells: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Resuming checkpoint %s (%d cells already done)\n", cp.ID, len(cells))
		return cp.ID, cells, nil
	}
	if db == nil {
		return "", done, nil
	}
	id, err := db.CreateBatchCheckpoint(ctx, batchInputFile, batchOutputFile, string(m))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create checkpoint: %v\n", err)
		return "", done, nil
	}
	fmt.Fprintf(os.Stderr, "Checkpoint ID: %s (use --resume %s to resume if interrupted)\n", id, id)
	return id, done, nil
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVarP(&batchInputFile, "input", "i", "", "Input CSV file (required)")
	batchCmd.Flags().StringVarP(&batchOutputFile, "output", "o", "", "Output CSV file (required)")
	batchCmd.Flags().IntSliceVarP(&batchColumns, "column", "c", nil, "Column index to refine (0-indexed, repeatable; default: all columns)")
	batchCmd.Flags().StringVarP(&batchMode, "mode", "m", "balanced", "Processing mode: conservative, balanced or aggressive")
	batchCmd.Flags().StringVarP(&batchLang, "lang", "l", "", "Language code (detected per cell when empty)")
	batchCmd.Flags().StringVarP(&batchType, "type", "t", "auto", "Document type: auto, document or web")
	batchCmd.Flags().BoolVar(&batchSkipHeader, "header", false, "Leave the first row unchanged")
	batchCmd.Flags().BoolVar(&batchNoCache, "no-cache", false, "Disable the unit result cache")
	batchCmd.Flags().StringVar(&batchResume, "resume", "", "Resume from checkpoint ID (printed at start of original run)")

	batchCmd.MarkFlagRequired("input")
	batchCmd.MarkFlagRequired("output")
}

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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/logger"
	"github.com/valpere/aclarador/internal/refiner"
	"github.com/valpere/aclarador/internal/store"
	"github.com/valpere/aclarador/internal/unit"
)

var (
	inputFile  string
	outputFile string
	mode       string
	language   string
	docType    string
	units      string
	maxPasses  int
	keywords   []string
	noCache    bool
	jsonOutput bool
)

var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Refine a text into plain language",
	Long: `Refine a text file into plain language in one or more passes.

The input is read from --input ("-" or empty for stdin) and the refined text is
written to --output (stdout when empty). A report is printed to stderr.

Examples:
  aclarador refine -i aviso.txt -o aviso.clear.txt
  aclarador refine -i page.md --type web --keywords "trámites en línea" --mode aggressive
  cat borrador.txt | aclarador refine --units grammar,style --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile != "" && inputFile != "-" && inputFile == outputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		text, err := readInput(inputFile)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("mode") {
			cfg.Mode = mode
		}
		if cmd.Flags().Changed("lang") {
			cfg.Language = language
		}
		if cmd.Flags().Changed("type") {
			cfg.Type = docType
		}
		if cmd.Flags().Changed("keywords") {
			cfg.Keywords = keywords
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		m, _ := refiner.ParseMode(cfg.Mode)

		var opts []refiner.Option
		if units != "" {
			caps, err := unit.ParseCapabilities(units)
			if err != nil {
				return err
			}
			opts = append(opts, refiner.WithSelection(caps...))
		}
		if maxPasses > 0 {
			opts = append(opts, refiner.WithMaxPasses(maxPasses))
		}
		opts = append(opts,
			refiner.WithUnitContext(unitContext(cfg, cfg.Language, cfg.Type)),
			refiner.WithObserver(func(r refiner.Record) {
				logger.Info("pass %d done in %v (change ratio %.2f)", r.PassNumber, r.Duration.Round(time.Millisecond), r.ChangeRatio)
			}),
		)

		eng, err := buildEngine(cfg, noCache)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		doc := internal.NewDocument(text, cfg.Language, cfg.Type)
		req := internal.RefinementRequest{
			ID:           uuid.New().String(),
			SourceText:   doc.Text,
			Language:     doc.Language,
			DeclaredType: doc.DeclaredType,
			Mode:         string(m),
			Timestamp:    time.Now(),
		}

		out, err := eng.controller.Refine(ctx, doc, m, opts...)
		if err != nil {
			return err
		}

		if eng.db != nil {
			saveRun(context.Background(), eng.db, req, out)
		}
		if eng.cache != nil && logger.IsVerbose() {
			st := eng.cache.Stats()
			logger.Debug("cache: %d hits, %d misses, %d computes, hit rate %.0f%%", st.Hits, st.Misses, st.Computes, st.HitRate()*100)
		}

		if jsonOutput {
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode outcome: %w", err)
			}
			return writeOutput(outputFile, string(data)+"\n")
		}

		printReport(out)
		return writeOutput(outputFile, out.FinalDocument.Text+"\n")
	},
}

func readInput(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read input file: %w", err)
	}
	return string(data), nil
}

func writeOutput(path, text string) error {
	if path == "" || path == "-" {
		_, err := fmt.Fprint(os.Stdout, text)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// saveRun records the request, its kept passes and the outcome. History is
// best effort: failures are reported and otherwise ignored.
func saveRun(ctx context.Context, db *store.Store, req internal.RefinementRequest, out *refiner.Outcome) {
	if err := db.SaveRun(ctx, req); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save run: %v\n", err)
		return
	}
	for _, r := range out.Records {
		p := store.PassRecord{
			PassNumber:  r.PassNumber,
			Text:        r.Document.Text,
			ChangeRatio: r.ChangeRatio,
			Issues:      r.Issues,
			Duration:    r.Duration,
		}
		if r.Snapshot != nil {
			p.OverallScore = r.Snapshot.OverallScore
			p.Scores = r.Snapshot.DimensionScores
		}
		if err := db.SavePass(ctx, req.ID, p); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save pass %d: %v\n", r.PassNumber, err)
		}
	}
	o := store.OutcomeRecord{
		FinalText: out.FinalDocument.Text,
		PassesRun: out.PassesRun,
		Converged: out.Converged,
		Reason:    string(out.Reason),
		Degraded:  out.Degraded,
	}
	if final := out.FinalSnapshot(); final != nil {
		o.FinalScore = final.OverallScore
	}
	if err := db.SaveOutcome(ctx, req.ID, o); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save outcome: %v\n", err)
	}
	logger.Info("run id: %s", req.ID)
}

func init() {
	rootCmd.AddCommand(refineCmd)

	refineCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input file to refine (default stdin)")
	refineCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file for the refined text (default stdout)")
	refineCmd.Flags().StringVarP(&mode, "mode", "m", "balanced", "Processing mode: conservative, balanced or aggressive")
	refineCmd.Flags().StringVarP(&language, "lang", "l", "", "Language code (detected when empty)")
	refineCmd.Flags().StringVarP(&docType, "type", "t", "auto", "Document type: auto, document or web")
	refineCmd.Flags().StringVar(&units, "units", "", "Correction units to run on every pass (default: as recommended by the analyzer)")
	refineCmd.Flags().IntVar(&maxPasses, "max-passes", 0, "Override the mode's pass budget")
	refineCmd.Flags().StringSliceVar(&keywords, "keywords", nil, "SEO keywords for web documents (comma-separated)")
	refineCmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable the unit result cache")
	refineCmd.Flags().BoolVar(&jsonOutput, "json", false, "Write the full outcome as JSON instead of the refined text")
}

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
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/aclarador/internal/retrieval"
	"github.com/valpere/aclarador/internal/store"
)

var guidelinesCmd = &cobra.Command{
	Use:   "guidelines",
	Short: "Manage the plain-language guideline store",
	Long: `Add, list, import, search and delete the guidelines that correction units
cite. The store is used for retrieval when retrieval.source is "store";
otherwise the built-in catalog (or retrieval.catalog) is used.`,
}

var guidelinesListLang string

var guidelinesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored guidelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			entries, err := db.ListGuidelines(ctx, guidelinesListLang)
			if err != nil {
				return fmt.Errorf("failed to list guidelines: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No guidelines stored. Use \"aclarador guidelines import\" to load the built-in catalog.")
				return nil
			}
			printGuidelines(entries, false)
			return nil
		})
	},
}

var (
	guidelinesAddID      string
	guidelinesAddSource  string
	guidelinesAddLocator string
	guidelinesAddLang    string
	guidelinesAddTopics  []string
	guidelinesAddWeight  float64
)

var guidelinesAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Add or update a guideline",
	Long: `Add a guideline. Reusing an existing --id replaces that guideline.

Example:
  aclarador guidelines add "Escriba los plazos con fecha exacta." --source "Guía municipal" --locator "p. 4" --topics style`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			id, err := db.AddGuideline(ctx, retrieval.Guideline{
				ID:       guidelinesAddID,
				Source:   guidelinesAddSource,
				Locator:  guidelinesAddLocator,
				Language: guidelinesAddLang,
				Topics:   guidelinesAddTopics,
				Text:     args[0],
				Weight:   guidelinesAddWeight,
			})
			if err != nil {
				return fmt.Errorf("failed to add guideline: %w", err)
			}
			fmt.Printf("Added guideline: %s\n", id)
			return nil
		})
	},
}

var guidelinesImportCmd = &cobra.Command{
	Use:   "import [catalog.yaml]",
	Short: "Import a YAML guideline catalog (default: the built-in catalog)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := retrieval.DefaultCatalog()
		if len(args) == 1 {
			var err error
			if catalog, err = retrieval.LoadCatalogFile(args[0]); err != nil {
				return fmt.Errorf("failed to load catalog: %w", err)
			}
		}
		return withStore(func(ctx context.Context, db *store.Store) error {
			n, err := db.ImportGuidelines(ctx, catalog.Entries())
			if err != nil {
				return fmt.Errorf("failed to import guidelines: %w", err)
			}
			fmt.Printf("Imported %d guidelines.\n", n)
			return nil
		})
	},
}

var guidelinesSearchTopK int

var guidelinesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Show the guidelines retrieval would return for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		return withStore(func(ctx context.Context, db *store.Store) error {
			var svc retrieval.Service = db
			if entries, err := db.ListGuidelines(ctx, ""); err == nil && len(entries) == 0 {
				svc = retrieval.DefaultCatalog()
			}
			hits, err := svc.Retrieve(ctx, query, guidelinesSearchTopK)
			if err != nil {
				return fmt.Errorf("failed to search guidelines: %w", err)
			}
			if len(hits) == 0 {
				fmt.Println("No matching guidelines.")
				return nil
			}
			printGuidelines(hits, true)
			return nil
		})
	},
}

var guidelinesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a guideline by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			if err := db.DeleteGuideline(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete guideline: %w", err)
			}
			fmt.Printf("Deleted guideline: %s\n", args[0])
			return nil
		})
	},
}

func printGuidelines(entries []retrieval.Guideline, withScore bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := "ID\tLANG\tTOPICS\tSOURCE\tTEXT"
	if withScore {
		header = "SCORE\t" + header
	}
	fmt.Fprintln(w, header)
	for _, g := range entries {
		snippet := []rune(g.Text)
		if len(snippet) > 50 {
			snippet = append(snippet[:47], []rune("...")...)
		}
		source := g.Source
		if g.Locator != "" {
			source += ", " + g.Locator
		}
		if withScore {
			fmt.Fprintf(w, "%.3f\t", g.Score)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			g.ID, g.Language, strings.Join(g.Topics, ","), source, string(snippet))
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(guidelinesCmd)

	guidelinesListCmd.Flags().StringVarP(&guidelinesListLang, "lang", "l", "", "Filter by language code (e.g. es)")

	guidelinesAddCmd.Flags().StringVar(&guidelinesAddID, "id", "", "Guideline ID (generated when empty)")
	guidelinesAddCmd.Flags().StringVar(&guidelinesAddSource, "source", "", "Source label shown in citations")
	guidelinesAddCmd.Flags().StringVar(&guidelinesAddLocator, "locator", "", "Location within the source (e.g. \"p. 12\")")
	guidelinesAddCmd.Flags().StringVarP(&guidelinesAddLang, "lang", "l", "es", "Language code")
	guidelinesAddCmd.Flags().StringSliceVar(&guidelinesAddTopics, "topics", nil, "Topics: grammar, style, seo, general (comma-separated)")
	guidelinesAddCmd.Flags().Float64Var(&guidelinesAddWeight, "weight", 1, "Ranking weight")

	guidelinesSearchCmd.Flags().IntVarP(&guidelinesSearchTopK, "top", "k", retrieval.DefaultTopK, "Number of guidelines to show")

	guidelinesCmd.AddCommand(guidelinesListCmd)
	guidelinesCmd.AddCommand(guidelinesAddCmd)
	guidelinesCmd.AddCommand(guidelinesImportCmd)
	guidelinesCmd.AddCommand(guidelinesSearchCmd)
	guidelinesCmd.AddCommand(guidelinesDeleteCmd)
}

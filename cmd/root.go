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
	"os"

	"github.com/spf13/cobra"

	"github.com/valpere/aclarador/internal/config"
	"github.com/valpere/aclarador/internal/logger"
)

var version = "0.1.0"

var (
	configPath string
	verbose    bool
	dbPath     string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "aclarador",
	Short: "Multi-pass plain-language text refiner",
	Long: `A CLI application that rewrites text into plain language. Each pass runs an
analyzer, grammar, style and SEO correction units and a validator; passes repeat
until quality stops improving or the mode's pass budget runs out.

Modes: conservative (2 passes), balanced (3), aggressive (5).

Use "aclarador refine --help" for refinement options.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("verbose") {
			loaded.Verbose = verbose
		}
		if cmd.Flags().Changed("db") {
			loaded.DBPath = dbPath
		}
		cfg = loaded
		logger.SetVerbose(cfg.Verbose)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./aclarador.yaml or ~/.aclarador/aclarador.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print per-unit diagnostics to stderr")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/aclarador.db", "Database path for the durable cache, run history and guidelines")
}

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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/valpere/aclarador/internal/cache"
	"github.com/valpere/aclarador/internal/completion"
	"github.com/valpere/aclarador/internal/config"
	"github.com/valpere/aclarador/internal/detector"
	"github.com/valpere/aclarador/internal/logger"
	"github.com/valpere/aclarador/internal/orchestrator"
	"github.com/valpere/aclarador/internal/quality"
	"github.com/valpere/aclarador/internal/refiner"
	"github.com/valpere/aclarador/internal/retrieval"
	"github.com/valpere/aclarador/internal/store"
	"github.com/valpere/aclarador/internal/unit"
)

// engine holds everything a refinement needs. db and cache may be nil.
type engine struct {
	db         *store.Store
	cache      *cache.Layer
	controller *refiner.Controller
}

func (e *engine) Close() {
	if e.db != nil {
		e.db.Close()
	}
}

// openStore opens the database, creating its directory.
func openStore(path string) (*store.Store, error) {
	if path == "" {
		return nil, fmt.Errorf("no database path configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// buildEngine wires the units, cache, retrieval and controller from cfg.
// A database that cannot be opened only disables the features that need it.
func buildEngine(cfg *config.Config, noCache bool) (*engine, error) {
	e := &engine{}

	needDB := (cfg.Cache.Enabled && cfg.Cache.Durable && !noCache) || cfg.Retrieval.Source == "store"
	if needDB && cfg.DBPath != "" {
		db, err := openStore(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v, continuing without database\n", err)
		} else {
			e.db = db
		}
	}

	svc, err := completion.New(cfg.Completion)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to configure completion service: %w", err)
	}
	if svc != nil {
		logger.Info("completion: %s", svc.Name())
	}

	registry, err := unit.Standard(unit.Deps{
		Completion: svc,
		Detector:   detector.New(),
		Scorer:     quality.NewScorer(),
	})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to register units: %w", err)
	}

	if cfg.Cache.Enabled && !noCache {
		opts := cache.Options{Capacity: cfg.Cache.Capacity, DefaultTTL: cfg.Cache.TTL}
		if cfg.Cache.Durable && e.db != nil {
			opts.Durable = e.db
		}
		e.cache, err = cache.New(opts)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
	}

	retriever, err := buildRetriever(cfg.Retrieval, e.db)
	if err != nil {
		e.Close()
		return nil, err
	}

	coord := orchestrator.New(registry, e.cache, retriever, orchestrator.Config{
		CacheTTL:             cfg.Cache.TTL,
		RetrievalTopK:        cfg.Retrieval.TopK,
		RetrievalConcurrency: cfg.Retrieval.Concurrency,
	})
	e.controller = refiner.New(coord, refiner.Config{
		Epsilon:       cfg.Epsilon,
		PassTimeout:   cfg.PassTimeout,
		MaxInputRunes: cfg.MaxInputRunes,
	})
	return e, nil
}

func buildRetriever(rc config.RetrievalConfig, db *store.Store) (retrieval.Service, error) {
	switch rc.Source {
	case "none":
		return nil, nil
	case "store":
		if db == nil {
			fmt.Fprintf(os.Stderr, "Warning: guideline store unavailable, using built-in catalog\n")
			return retrieval.DefaultCatalog(), nil
		}
		return db, nil
	}
	if rc.Catalog == "" {
		return retrieval.DefaultCatalog(), nil
	}
	catalog, err := retrieval.LoadCatalogFile(rc.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load guideline catalog: %w", err)
	}
	return catalog, nil
}

// unitContext builds the request context shared by all units.
func unitContext(cfg *config.Config, lang, docType string) unit.Context {
	return unit.NewContext(lang, docType).
		WithMinSeverity(cfg.Severity()).
		WithKeywords(cfg.Keywords...)
}

var (
	bold   = color.New(color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func scoreColor(score float64) string {
	s := fmt.Sprintf("%.2f", score)
	switch {
	case score >= 85:
		return green(s)
	case score >= 60:
		return yellow(s)
	default:
		return red(s)
	}
}

// printReport writes a human-readable summary of out to stderr.
func printReport(out *refiner.Outcome) {
	w := os.Stderr
	status := green("converged")
	if !out.Converged {
		status = yellow("stopped")
	}
	fmt.Fprintf(w, "%s %s after %d/%d passes (%s)\n", bold("Refinement"), status, out.PassesRun, out.MaxPasses, out.Reason)

	for _, s := range out.QualityHistory {
		if s == nil {
			fmt.Fprintf(w, "  pass ?: %s\n", gray("not scored"))
			continue
		}
		dims := make([]string, 0, len(quality.Dimensions))
		for _, d := range quality.Dimensions {
			dims = append(dims, fmt.Sprintf("%s=%.0f", d, s.DimensionScores[d]))
		}
		fmt.Fprintf(w, "  pass %d: %s  %s\n", s.PassNumber, scoreColor(s.OverallScore), gray(strings.Join(dims, " ")))
	}
	if final := out.FinalSnapshot(); final != nil {
		fmt.Fprintf(w, "Final score: %s (trend: %s)\n", scoreColor(final.OverallScore), out.Trend)
	}
	if out.Degraded {
		fmt.Fprintf(w, "%s some units ran degraded\n", yellow("!"))
	}
	for _, warn := range out.Warnings {
		fmt.Fprintf(w, "  %s %s\n", yellow("warning:"), warn)
	}
	if len(out.Issues) > 0 {
		fmt.Fprintf(w, "Remaining issues: %d\n", len(out.Issues))
		for _, is := range out.Issues {
			fmt.Fprintf(w, "  [%s] %s: %s\n", is.Severity, is.Kind, is.Message)
		}
	}
	for _, c := range out.Citations {
		fmt.Fprintf(w, "  %s %s, %s\n", cyan("see"), c.SourceLabel, c.Locator)
	}
	for _, r := range out.Recommendations {
		fmt.Fprintf(w, "  - %s\n", r)
	}
}

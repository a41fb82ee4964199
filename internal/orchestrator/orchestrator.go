// Package orchestrator runs one refinement pass: analysis, guideline
// retrieval, the selected correction units, merge and validation.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/cache"
	"github.com/valpere/aclarador/internal/logger"
	"github.com/valpere/aclarador/internal/quality"
	"github.com/valpere/aclarador/internal/retrieval"
	"github.com/valpere/aclarador/internal/unit"
)

// ErrPassAborted is returned when the pass context ends before the pass
// completes. It wraps the context error.
var ErrPassAborted = errors.New("pass aborted")

const defaultRetrievalConcurrency = 4

type Config struct {
	// CacheTTL is the lifetime of cached unit results; 0 uses the cache
	// default.
	CacheTTL time.Duration
	// RetrievalTopK is the number of guidelines fetched per unit.
	RetrievalTopK int
	// RetrievalConcurrency bounds concurrent retrieval calls.
	RetrievalConcurrency int
}

// UnitRun is the outcome of one correction unit. Result is nil when the
// unit failed.
type UnitRun struct {
	Capability unit.Capability
	Result     *unit.Result
	Err        error
}

// AggregatedResult is the outcome of a pass.
type AggregatedResult struct {
	Document internal.Document
	// Issues are the analyzer's findings on the pass input.
	Issues []internal.Issue
	// Residual are the validator's findings on the merged document.
	Residual  []internal.Issue
	Citations []internal.Citation
	// Snapshot is nil when the validator could not score the document.
	Snapshot *quality.Snapshot
	Runs     []UnitRun
	Changed  bool
	Degraded bool
	// AnalysisFailed reports that the analyzer did not run to completion, so
	// Issues says nothing about the document.
	AnalysisFailed bool
	Warnings       []string
}

// Coordinator runs passes over a fixed registry of units.
type Coordinator struct {
	registry  *unit.Registry
	cache     *cache.Layer
	retriever retrieval.Service
	config    Config
}

// New returns a coordinator. A nil cache disables caching and a nil
// retriever disables guideline retrieval.
func New(registry *unit.Registry, c *cache.Layer, retriever retrieval.Service, config Config) *Coordinator {
	if config.RetrievalTopK <= 0 {
		config.RetrievalTopK = retrieval.DefaultTopK
	}
	if config.RetrievalConcurrency <= 0 {
		config.RetrievalConcurrency = defaultRetrievalConcurrency
	}
	return &Coordinator{
		registry:  registry,
		cache:     c,
		retriever: retriever,
		config:    config,
	}
}

// RunPass refines doc once. An empty selection runs the units the analyzer
// recommends. Unit failures degrade the result instead of failing the pass;
// the only errors are invalid input and ErrPassAborted.
func (c *Coordinator) RunPass(ctx context.Context, doc internal.Document, selection []unit.Capability, uctx unit.Context) (*AggregatedResult, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, &internal.InputError{Reason: "text is empty"}
	}

	analyzer, ok := c.registry.Get(unit.CapAnalyze)
	if !ok {
		return nil, fmt.Errorf("no analyzer registered")
	}
	analysis, err := c.run(ctx, analyzer, doc, uctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrPassAborted, ctx.Err())
		}
		fb := fallback(doc, fmt.Sprintf("analyzer failed: %v", err))
		fb.AnalysisFailed = true
		return fb, nil
	}

	base := analysis.Output
	uctx = uctx.WithLanguage(base.Language).WithDeclaredType(base.DeclaredType)
	agg := &AggregatedResult{Issues: analysis.Issues}

	if len(selection) == 0 {
		selection = analysis.Recommended
	}
	caps := unit.Ordered(selection)

	guidance, failed := c.retrieve(ctx, caps, analysis.Issues)
	for cp, err := range failed {
		agg.warn("retrieval for %s failed: %v", cp, err)
	}
	sort.Strings(agg.Warnings)

	current := base
	for _, cp := range caps {
		u, ok := c.registry.Get(cp)
		if !ok {
			agg.warn("no unit registered for %s", cp)
			continue
		}
		res, err := c.run(ctx, u, current, uctx.WithGuidance(guidance[cp]))
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrPassAborted, ctx.Err())
			}
			agg.warn("%s failed: %v", u.ID(), err)
			agg.Degraded = true
			agg.Runs = append(agg.Runs, UnitRun{Capability: cp, Err: err})
			continue
		}
		if _, bad := failed[cp]; bad {
			res.Degraded = true
		}
		if res.Degraded {
			agg.Degraded = true
		}
		agg.Runs = append(agg.Runs, UnitRun{Capability: cp, Result: res})
		if res.Changed(current) {
			current = res.Output
		}
	}

	merged := Merge(base, agg.Runs)

	validator, ok := c.registry.Get(unit.CapValidate)
	if !ok {
		return nil, fmt.Errorf("no validator registered")
	}
	validation, err := c.run(ctx, validator, merged, uctx.WithGuidance(guidance[unit.CapValidate]))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrPassAborted, ctx.Err())
		}
		fb := fallback(doc, fmt.Sprintf("validator failed: %v", err))
		fb.Issues = analysis.Issues
		fb.Warnings = append(agg.Warnings, fb.Warnings...)
		return fb, nil
	}

	agg.Document = merged
	agg.Residual = validation.Issues
	agg.Snapshot = validation.Scores
	agg.Changed = merged.Text != doc.Text
	agg.Citations = collectCitations(agg.Runs, validation)
	return agg, nil
}

// Merge applies the successful runs to base in priority order. Each run's
// output already includes the runs before it, so the merged text is that of
// the last run that changed something; versions advance once per change.
func Merge(base internal.Document, runs []UnitRun) internal.Document {
	ordered := make([]UnitRun, len(runs))
	copy(ordered, runs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i].Capability) < rank(ordered[j].Capability)
	})

	merged := base
	for _, r := range ordered {
		if r.Result == nil {
			continue
		}
		if r.Result.Output.Text != merged.Text {
			merged = merged.Next(r.Result.Output.Text)
		}
	}
	return merged
}

func rank(c unit.Capability) int {
	for i, p := range unit.Priority {
		if p == c {
			return i
		}
	}
	return len(unit.Priority)
}

// retrieve fetches guidance for every selected unit and the validator
// concurrently. Failures are returned per capability and leave that unit
// without guidance.
func (c *Coordinator) retrieve(ctx context.Context, caps []unit.Capability, issues []internal.Issue) (map[unit.Capability][]unit.Guidance, map[unit.Capability]error) {
	guidance := make(map[unit.Capability][]unit.Guidance)
	failed := make(map[unit.Capability]error)
	if c.retriever == nil {
		return guidance, failed
	}

	targets := append(append([]unit.Capability(nil), caps...), unit.CapValidate)
	found := make([][]unit.Guidance, len(targets))
	errs := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(c.config.RetrievalConcurrency)
	for i, cp := range targets {
		query := retrieval.BuildQuery(string(cp), issuesFor(cp, issues))
		g.Go(func() error {
			hits, err := c.retriever.Retrieve(ctx, query, c.config.RetrievalTopK)
			if err != nil {
				errs[i] = err
				return nil
			}
			for _, h := range hits {
				found[i] = append(found[i], unit.Guidance{Text: h.Text, Citation: h.Citation()})
			}
			return nil
		})
	}
	g.Wait()

	for i, cp := range targets {
		if errs[i] != nil {
			failed[cp] = errs[i]
			continue
		}
		guidance[cp] = found[i]
	}
	return guidance, failed
}

func issuesFor(cp unit.Capability, issues []internal.Issue) []internal.Issue {
	if cp == unit.CapValidate {
		return issues
	}
	var out []internal.Issue
	for _, is := range issues {
		if unit.CapabilityOf(is.Kind) == cp {
			out = append(out, is)
		}
	}
	return out
}

// run processes doc with u, through the cache when one is configured.
func (c *Coordinator) run(ctx context.Context, u unit.Unit, doc internal.Document, uctx unit.Context) (*unit.Result, error) {
	start := time.Now()
	defer func() {
		logger.Debug("%s: %v", u.ID(), time.Since(start).Round(time.Millisecond))
	}()

	if c.cache == nil {
		return u.Process(ctx, doc, uctx)
	}

	key := cache.Key(u.ID(), doc.Text, uctx.Fingerprint()+"|"+doc.Language+"|"+doc.DeclaredType)
	data, err := c.cache.GetOrCompute(ctx, key, c.config.CacheTTL, func(ctx context.Context) (cache.Value, error) {
		res, err := u.Process(ctx, doc, uctx)
		if err != nil {
			return cache.Value{}, err
		}
		data, err := json.Marshal(res)
		if err != nil {
			return cache.Value{}, fmt.Errorf("failed to encode %s result: %w", u.ID(), err)
		}
		return cache.Value{Data: data, Transient: res.Degraded}, nil
	})
	if err != nil {
		return nil, err
	}

	var res unit.Result
	if err := json.Unmarshal(data, &res); err != nil {
		logger.Warn("cache: dropping unreadable entry for %s: %v", u.ID(), err)
		_ = c.cache.Invalidate(ctx, key)
		return u.Process(ctx, doc, uctx)
	}
	return restamp(doc, &res), nil
}

// restamp rebases a cached result onto doc so versions and score times
// follow the current pass rather than the one that filled the cache.
func restamp(doc internal.Document, res *unit.Result) *unit.Result {
	if res.Scores != nil {
		res.Scores.Timestamp = time.Now()
	}
	out := doc
	if res.Output.Language != "" {
		out.Language = res.Output.Language
	}
	if res.Output.DeclaredType != "" {
		out.DeclaredType = res.Output.DeclaredType
	}
	if res.Output.Text != doc.Text {
		out = out.Next(res.Output.Text)
	}
	res.Output = out
	return res
}

func collectCitations(runs []UnitRun, validation *unit.Result) []internal.Citation {
	seen := make(map[string]bool)
	var out []internal.Citation
	add := func(cs []internal.Citation) {
		for _, c := range cs {
			k := c.SourceLabel + "\x00" + c.Locator
			if !seen[k] {
				seen[k] = true
				out = append(out, c)
			}
		}
	}
	for _, r := range runs {
		if r.Result != nil {
			add(r.Result.Citations)
		}
	}
	if validation != nil {
		add(validation.Citations)
	}
	return out
}

func fallback(doc internal.Document, warning string) *AggregatedResult {
	logger.Warn("%s", warning)
	return &AggregatedResult{
		Document: doc,
		Degraded: true,
		Warnings: []string{warning},
	}
}

func (a *AggregatedResult) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Warn("%s", msg)
	a.Warnings = append(a.Warnings, msg)
}

// Package refiner drives a document through repeated passes until the
// quality stops improving or the mode's pass budget runs out.
package refiner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/logger"
	"github.com/valpere/aclarador/internal/orchestrator"
	"github.com/valpere/aclarador/internal/quality"
	"github.com/valpere/aclarador/internal/unit"
)

// DefaultPassTimeout bounds a single pass.
const DefaultPassTimeout = 60 * time.Second

// PassRunner runs one pass. *orchestrator.Coordinator satisfies it.
type PassRunner interface {
	RunPass(ctx context.Context, doc internal.Document, selection []unit.Capability, uctx unit.Context) (*orchestrator.AggregatedResult, error)
}

type Config struct {
	// Epsilon is the plateau threshold; 0 uses quality.DefaultEpsilon.
	Epsilon       float64
	PassTimeout   time.Duration
	MaxInputRunes int
}

// Record is one completed pass.
type Record struct {
	PassNumber   int               `json:"pass_number"`
	Document     internal.Document `json:"document"`
	Snapshot     *quality.Snapshot `json:"snapshot,omitempty"`
	ChangeRatio  float64           `json:"change_ratio"`
	Improvements int               `json:"improvements"`
	// Issues counts the analyzer's findings on the pass input.
	Issues    int              `json:"issues"`
	Residual  []internal.Issue `json:"residual,omitempty"`
	Degraded  bool             `json:"degraded,omitempty"`
	Discarded bool             `json:"discarded,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// Outcome is the result of a refinement.
type Outcome struct {
	FinalDocument   internal.Document   `json:"final_document"`
	PassesRun       int                 `json:"passes_run"`
	MaxPasses       int                 `json:"max_passes"`
	QualityHistory  []*quality.Snapshot `json:"quality_history"`
	Converged       bool                `json:"converged"`
	Reason          quality.Reason      `json:"reason"`
	Degraded        bool                `json:"degraded,omitempty"`
	Warnings        []string            `json:"warnings,omitempty"`
	Issues          []internal.Issue    `json:"issues,omitempty"`
	Citations       []internal.Citation `json:"citations,omitempty"`
	Trend           string              `json:"trend"`
	Recommendations []string            `json:"recommendations,omitempty"`
	// Records holds the passes up to and including the one whose document
	// was returned.
	Records []Record `json:"records"`
}

// FinalSnapshot returns the quality of the returned document, or nil when
// it was never scored.
func (o *Outcome) FinalSnapshot() *quality.Snapshot {
	if len(o.Records) == 0 {
		return nil
	}
	return o.Records[len(o.Records)-1].Snapshot
}

type options struct {
	maxPasses int
	selection []unit.Capability
	uctx      *unit.Context
	observer  func(Record)
}

// Option tunes a single Refine call.
type Option func(*options)

// WithMaxPasses overrides the mode's pass budget.
func WithMaxPasses(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPasses = n
		}
	}
}

// WithSelection runs the given units on every pass instead of the ones the
// analyzer recommends.
func WithSelection(caps ...unit.Capability) Option {
	return func(o *options) { o.selection = unit.Ordered(caps) }
}

// WithUnitContext replaces the context built from the document hints.
func WithUnitContext(uctx unit.Context) Option {
	return func(o *options) { o.uctx = &uctx }
}

// WithObserver is called after every pass, discarded ones included.
func WithObserver(fn func(Record)) Option {
	return func(o *options) { o.observer = fn }
}

// Controller repeats passes and picks the best one.
type Controller struct {
	runner   PassRunner
	analyzer *quality.Analyzer
	config   Config
}

func New(runner PassRunner, config Config) *Controller {
	if config.PassTimeout <= 0 {
		config.PassTimeout = DefaultPassTimeout
	}
	if config.MaxInputRunes <= 0 {
		config.MaxInputRunes = internal.DefaultMaxInputRunes
	}
	return &Controller{
		runner:   runner,
		analyzer: quality.NewAnalyzer(config.Epsilon),
		config:   config,
	}
}

// Refine improves doc in up to mode.MaxPasses() passes and returns the
// highest-scoring version seen. It fails only on invalid input; timeouts and
// cancellation return the best result so far.
func (c *Controller) Refine(ctx context.Context, doc internal.Document, mode Mode, opts ...Option) (*Outcome, error) {
	o := options{maxPasses: mode.MaxPasses()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxPasses <= 0 {
		return nil, &internal.InputError{Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	if err := internal.ValidateInput(doc.Text, c.config.MaxInputRunes); err != nil {
		return nil, err
	}
	doc = internal.NewDocument(doc.Text, doc.Language, doc.DeclaredType).WithVersion(doc.Version)

	uctx := unit.NewContext(doc.Language, doc.DeclaredType)
	if o.uctx != nil {
		uctx = *o.uctx
	}

	out := &Outcome{MaxPasses: o.maxPasses}
	var records []Record
	current := doc
	latest := doc.Version

	for pass := 1; pass <= o.maxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			out.Reason = abortReason(err)
			break
		}

		logger.Section(fmt.Sprintf("Pass %d/%d", pass, o.maxPasses))
		input := current.WithVersion(latest)
		start := time.Now()
		passCtx, cancel := context.WithTimeout(ctx, c.config.PassTimeout)
		res, err := c.runner.RunPass(passCtx, input, o.selection, uctx)
		cancel()
		if err != nil {
			var inputErr *internal.InputError
			if errors.As(err, &inputErr) {
				return nil, err
			}
			if !errors.Is(err, orchestrator.ErrPassAborted) {
				return nil, fmt.Errorf("pass %d: %w", pass, err)
			}
			logger.Warn("pass %d aborted: %v", pass, err)
			out.Reason = abortReason(err)
			out.Warnings = append(out.Warnings, fmt.Sprintf("pass %d: %v", pass, err))
			break
		}

		rec := c.record(pass, input, res, time.Since(start))
		latest = max(latest, res.Document.Version)
		records = append(records, rec)
		out.QualityHistory = append(out.QualityHistory, rec.Snapshot)
		out.PassesRun = pass
		out.Degraded = out.Degraded || rec.Degraded
		for _, w := range rec.Warnings {
			out.Warnings = append(out.Warnings, fmt.Sprintf("pass %d: %s", pass, w))
		}
		out.Citations = appendCitations(out.Citations, res.Citations)

		dec := c.analyzer.Decide(out.QualityHistory, quality.PassState{
			Pass:       pass,
			MaxPasses:  o.maxPasses,
			Issues:     rec.Issues,
			Changed:    res.Changed,
			Unanalyzed: res.AnalysisFailed,
		})
		if dec.Discard {
			records[len(records)-1].Discarded = true
		}
		logger.Debug("pass %d: score=%s changed=%v issues=%d decision=%+v",
			pass, scoreString(rec.Snapshot), res.Changed, rec.Issues, dec)
		if o.observer != nil {
			o.observer(records[len(records)-1])
		}
		if dec.Converged {
			out.Converged = true
			out.Reason = dec.Reason
			break
		}
		current = res.Document
	}

	c.finish(out, doc, records)
	return out, nil
}

func (c *Controller) record(pass int, input internal.Document, res *orchestrator.AggregatedResult, d time.Duration) Record {
	snap := res.Snapshot
	if snap == nil {
		if s, err := c.analyzer.Score(res.Document.Text, res.Document.Language, scoringType(res.Document)); err == nil {
			snap = s
		} else {
			logger.Debug("pass %d: document could not be scored: %v", pass, err)
		}
	}
	if snap != nil {
		snap = snap.Clone()
		snap.PassNumber = pass
	}
	return Record{
		PassNumber:   pass,
		Document:     res.Document,
		Snapshot:     snap,
		ChangeRatio:  quality.ChangeRatio(input.Text, res.Document.Text),
		Improvements: improvements(res),
		Issues:       len(res.Issues),
		Residual:     res.Residual,
		Degraded:     res.Degraded,
		Warnings:     res.Warnings,
		Duration:     d,
	}
}

// finish picks the winning pass and fills the summary fields.
func (c *Controller) finish(out *Outcome, input internal.Document, records []Record) {
	best := bestRecord(records)
	if best < 0 {
		out.FinalDocument = input
		out.Trend = quality.Trend(out.QualityHistory)
		out.Recommendations = quality.Recommendations(quality.Summary{
			PassesRun: out.PassesRun,
			MaxPasses: out.MaxPasses,
			Reason:    out.Reason,
		})
		return
	}

	winner := records[best]
	out.FinalDocument = winner.Document
	out.Issues = winner.Residual
	out.Records = records[:best+1]
	out.Trend = quality.Trend(out.QualityHistory)

	total := 0
	for _, r := range out.Records {
		if !r.Discarded {
			total += r.Improvements
		}
	}
	out.Recommendations = quality.Recommendations(quality.Summary{
		Final:        winner.Snapshot,
		PassesRun:    out.PassesRun,
		MaxPasses:    out.MaxPasses,
		Reason:       out.Reason,
		Improvements: total,
	})
}

// bestRecord returns the index of the highest-scoring kept pass, the
// earliest on ties. When no pass was scored the last kept pass wins.
func bestRecord(records []Record) int {
	history := make([]*quality.Snapshot, len(records))
	last := -1
	for i, r := range records {
		if r.Discarded {
			continue
		}
		history[i] = r.Snapshot
		last = i
	}
	if idx := quality.Best(history); idx >= 0 {
		return idx
	}
	return last
}

func improvements(res *orchestrator.AggregatedResult) int {
	if !res.Changed {
		return 0
	}
	return max(len(res.Issues)-len(res.Residual), 1)
}

func appendCitations(dst, src []internal.Citation) []internal.Citation {
	for _, c := range src {
		dup := false
		for _, d := range dst {
			if d.SourceLabel == c.SourceLabel && d.Locator == c.Locator {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, c)
		}
	}
	return dst
}

func abortReason(err error) quality.Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return quality.ReasonTimeout
	}
	return quality.ReasonCanceled
}

func scoringType(doc internal.Document) string {
	if doc.DeclaredType == "" || doc.DeclaredType == internal.TypeAuto {
		return internal.TypeDocument
	}
	return doc.DeclaredType
}

func scoreString(s *quality.Snapshot) string {
	if s == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", s.OverallScore)
}

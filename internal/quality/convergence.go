package quality

import (
	"fmt"
)

// Reason explains why a refinement run stopped.
type Reason string

const (
	ReasonPlateau    Reason = "plateau"
	ReasonMaxPasses  Reason = "maxPasses"
	ReasonRegression Reason = "regression"
	ReasonNoIssues   Reason = "noIssues"
	// ReasonTimeout and ReasonCanceled are set by the controller when a pass
	// is aborted; Decide never returns them.
	ReasonTimeout  Reason = "timeout"
	ReasonCanceled Reason = "canceled"
)

// DefaultEpsilon is the overall-score improvement, in points, below which a
// pass counts as flat.
const DefaultEpsilon = 0.5

// PassState describes the pass being judged.
type PassState struct {
	Pass      int
	MaxPasses int
	// Issues is the number of issues detected on the pass input.
	Issues int
	// Changed reports whether the pass altered the text.
	Changed bool
	// Unanalyzed marks a pass whose analysis failed, so Issues is unknown
	// and noIssues cannot apply.
	Unanalyzed bool
}

// Decision is the verdict after one pass. Discard asks the caller to drop the
// pass that was just judged.
type Decision struct {
	Converged bool   `json:"converged"`
	Reason    Reason `json:"reason,omitempty"`
	Discard   bool   `json:"discard,omitempty"`
}

// Analyzer scores documents and decides convergence.
type Analyzer struct {
	scorer  *Scorer
	epsilon float64
}

// NewAnalyzer returns an Analyzer. epsilon <= 0 selects DefaultEpsilon.
func NewAnalyzer(epsilon float64) *Analyzer {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Analyzer{scorer: NewScorer(), epsilon: epsilon}
}

// Epsilon returns the plateau threshold.
func (a *Analyzer) Epsilon() float64 {
	return a.epsilon
}

// Score measures a document.
func (a *Analyzer) Score(text, language, declaredType string) (*Snapshot, error) {
	return a.scorer.Score(text, language, declaredType)
}

// Decide judges pass st.Pass given the snapshot of every pass so far, in
// order; history[len(history)-1] belongs to st.Pass and nil marks a pass that
// could not be scored. Rules apply in order: regression, noIssues, plateau,
// maxPasses. An unscored latest pass only stops at maxPasses.
func (a *Analyzer) Decide(history []*Snapshot, st PassState) Decision {
	var latest *Snapshot
	if len(history) > 0 {
		latest = history[len(history)-1]
	}
	if latest == nil {
		return a.budget(st)
	}

	if st.Pass >= 2 {
		if best := bestOf(history[:len(history)-1]); best != nil && latest.OverallScore < best.OverallScore {
			return Decision{Converged: true, Reason: ReasonRegression, Discard: true}
		}
	}

	if !st.Unanalyzed && (st.Issues == 0 || (st.Pass == 1 && !st.Changed)) {
		return Decision{Converged: true, Reason: ReasonNoIssues}
	}

	if st.Pass >= 3 && len(history) >= 3 {
		a2, a1, a0 := history[len(history)-3], history[len(history)-2], latest
		if a2 != nil && a1 != nil &&
			a1.OverallScore-a2.OverallScore < a.epsilon &&
			a0.OverallScore-a1.OverallScore < a.epsilon {
			return Decision{Converged: true, Reason: ReasonPlateau}
		}
	}

	return a.budget(st)
}

func (a *Analyzer) budget(st PassState) Decision {
	if st.MaxPasses > 0 && st.Pass >= st.MaxPasses {
		return Decision{Converged: true, Reason: ReasonMaxPasses}
	}
	return Decision{}
}

func bestOf(history []*Snapshot) *Snapshot {
	var best *Snapshot
	for _, s := range history {
		if s != nil && (best == nil || s.OverallScore > best.OverallScore) {
			best = s
		}
	}
	return best
}

// Best returns the index of the highest-scoring snapshot, the earliest on
// ties, or -1 when none was scored.
func Best(history []*Snapshot) int {
	idx := -1
	for i, s := range history {
		if s == nil {
			continue
		}
		if idx < 0 || s.OverallScore > history[idx].OverallScore {
			idx = i
		}
	}
	return idx
}

// Trend labels the direction of the last two scored passes.
func Trend(history []*Snapshot) string {
	var scored []*Snapshot
	for _, s := range history {
		if s != nil {
			scored = append(scored, s)
		}
	}
	if len(scored) < 2 {
		return "insufficient_data"
	}
	last, prev := scored[len(scored)-1].OverallScore, scored[len(scored)-2].OverallScore
	switch {
	case last > prev:
		return "improving"
	case last < prev:
		return "declining"
	default:
		return "stable"
	}
}

// Summary holds the facts Recommendations looks at.
type Summary struct {
	Final        *Snapshot
	PassesRun    int
	MaxPasses    int
	Reason       Reason
	Improvements int
}

// Recommendations suggests follow-ups for a finished run.
func Recommendations(s Summary) []string {
	var out []string
	if s.Final != nil {
		switch {
		case s.Final.OverallScore < 60:
			out = append(out, "quality below 60: consider manual review")
		case s.Final.OverallScore < 85:
			out = append(out, "good quality: minor improvements possible")
		default:
			out = append(out, "excellent quality")
		}
		if r, ok := s.Final.DimensionScores[Readability]; ok && r < 60 {
			out = append(out, "low readability: simplify vocabulary and sentence structure")
		}
		if g, ok := s.Final.DimensionScores[Grammar]; ok && g < 70 {
			out = append(out, "grammar concerns remain: review corrections")
		}
	}

	switch {
	case s.PassesRun == 1 && s.Reason == ReasonNoIssues:
		out = append(out, "single pass was sufficient: text was already clear")
	case s.Reason == ReasonMaxPasses:
		out = append(out, "maximum passes used: consider manual refinement")
	case s.Reason == ReasonRegression:
		out = append(out, "last pass lowered quality and was discarded")
	}

	switch {
	case s.Improvements == 0:
		out = append(out, "no automatic improvements made")
	case s.Improvements > 10:
		out = append(out, fmt.Sprintf("%d improvements applied: verify meaning preservation", s.Improvements))
	}
	return out
}

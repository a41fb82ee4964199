package unit

import (
	"context"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/lint"
	"github.com/valpere/aclarador/internal/quality"
	"github.com/valpere/aclarador/internal/validator"
)

// Validator scores the merged document and reports what is left to fix.
type Validator struct {
	scorer *quality.Scorer
	lang   *validator.Validator
}

// NewValidator returns a validator. A nil scorer uses quality.NewScorer; a
// nil detector disables the language check.
func NewValidator(scorer *quality.Scorer, det LanguageDetector) *Validator {
	if scorer == nil {
		scorer = quality.NewScorer()
	}
	v := &Validator{scorer: scorer}
	if det != nil {
		v.lang = validator.New(det)
	}
	return v
}

func (v *Validator) ID() string { return "validator/1" }

func (v *Validator) Capability() Capability { return CapValidate }

func (v *Validator) Process(ctx context.Context, doc internal.Document, uctx Context) (*Result, error) {
	if err := checkInput(ctx, v.ID(), doc); err != nil {
		return nil, err
	}
	lang, typ := resolve(doc, uctx)

	snap, err := v.scorer.Score(doc.Text, lang, typ)
	if err != nil {
		return nil, &Error{Kind: InvalidInput, Unit: v.ID(), Err: err}
	}

	res := &Result{
		UnitID:     v.ID(),
		Output:     doc,
		Issues:     lint.All(doc.Text, typ, lintOptions(lang, uctx)),
		Confidence: 0.9,
		Scores:     snap,
	}
	if v.lang != nil {
		if ok, err := v.lang.CheckLanguage(doc.Text, lang); !ok && err != nil {
			res.Issues = append(res.Issues, internal.Issue{
				Kind:     internal.KindLanguageMismatch,
				Span:     internal.Span{Start: 0, End: len(doc.Text)},
				Severity: internal.SeverityHigh,
				Message:  err.Error(),
			})
		}
	}
	if len(res.Issues) > 0 {
		res.Citations = uctx.citations()
	}
	return res, nil
}

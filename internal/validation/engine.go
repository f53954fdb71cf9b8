package validation

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/entity"
)

// Thresholds used by the confidence rules.
const (
	MinDocNumberConfidence = 0.6
	MinAverageConfidence   = 0.5
	MaxThicknessMM         = 500.0
)

// Rule inspects a document and returns zero or more issues.
type Rule func(doc *entity.Document, now time.Time) []entity.ValidationIssue

// Engine runs every rule in order; no rule short-circuits another.
type Engine struct {
	rules  []Rule
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source used by the future-date rule.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRules appends extra rules after the built-in ones.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) {
		e.rules = append(e.rules, rules...)
	}
}

func NewEngine(logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		rules: []Rule{
			docNumberPresent,
			processKnown,
			thicknessReasonable,
			dateValid,
			docNumberConfidence,
			averageConfidence,
		},
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate returns the issues found in doc, in rule order.
func (e *Engine) Validate(doc *entity.Document) []entity.ValidationIssue {
	now := e.now()
	issues := []entity.ValidationIssue{}
	for _, rule := range e.rules {
		issues = append(issues, rule(doc, now)...)
	}
	e.logger.Debug("document validated", "doc_type", doc.DocType, "issues", len(issues))
	return issues
}

// HasErrors reports whether any issue has ERROR severity.
func HasErrors(issues []entity.ValidationIssue) bool {
	for _, is := range issues {
		if is.Severity == constants.SeverityError {
			return true
		}
	}
	return false
}

func issue(field entity.FieldName, sev constants.Severity, format string, args ...any) []entity.ValidationIssue {
	return []entity.ValidationIssue{{Field: field, Severity: sev, Message: fmt.Sprintf(format, args...)}}
}

func docNumberPresent(doc *entity.Document, _ time.Time) []entity.ValidationIssue {
	if doc.DocNumber != nil && strings.TrimSpace(doc.DocNumber.Value) != "" {
		return nil
	}
	return issue(entity.FieldDocNumber, constants.SeverityError, "%s number not found", doc.DocType)
}

// processKnown checks every component of combined processes such as GTAW/SMAW.
func processKnown(doc *entity.Document, _ time.Time) []entity.ValidationIssue {
	if doc.Process == nil {
		return nil
	}
	parts := strings.FieldsFunc(doc.Process.Value, func(r rune) bool {
		return r == '/' || r == '+' || r == ','
	})
	var unknown []string
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if _, ok := constants.AllowedProcesses[p]; !ok && p != "" {
			unknown = append(unknown, p)
		}
	}
	if len(parts) > 0 && len(unknown) == 0 {
		return nil
	}
	return issue(entity.FieldProcess, constants.SeverityWarn, "Unknown process '%s'", doc.Process.Value)
}

func thicknessReasonable(doc *entity.Document, _ time.Time) []entity.ValidationIssue {
	if doc.ThicknessMM == nil {
		return nil
	}
	v, ok := doc.ThicknessValue()
	if !ok {
		return issue(entity.FieldThicknessMM, constants.SeverityError, "Non-numeric thickness '%s'", doc.ThicknessMM.Value)
	}
	if v <= 0 || v > MaxThicknessMM {
		return issue(entity.FieldThicknessMM, constants.SeverityWarn, "Unreasonable thickness %g mm", v)
	}
	return nil
}

func dateValid(doc *entity.Document, now time.Time) []entity.ValidationIssue {
	if doc.Date == nil {
		return nil
	}
	d, ok := doc.DateISO()
	if !ok {
		return issue(entity.FieldDate, constants.SeverityWarn, "Unrecognized date '%s'", doc.Date.Value)
	}
	// d is a UTC midnight; compare against the calendar day of now in its own zone
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d.After(today) {
		return issue(entity.FieldDate, constants.SeverityWarn, "Date %s is in the future", doc.Date.Value)
	}
	return nil
}

func docNumberConfidence(doc *entity.Document, _ time.Time) []entity.ValidationIssue {
	var conf float64
	if doc.DocNumber != nil {
		conf = doc.DocNumber.Confidence
	}
	if conf >= MinDocNumberConfidence {
		return nil
	}
	return issue(entity.FieldDocNumber, constants.SeverityWarn, "Low confidence in document number extraction")
}

func averageConfidence(doc *entity.Document, _ time.Time) []entity.ValidationIssue {
	if avg := doc.AvgConfidence(); avg < MinAverageConfidence {
		return issue(entity.FieldDocument, constants.SeverityWarn, "Overall extraction confidence is low (%.2f)", avg)
	}
	return nil
}

package parse

import (
	"log/slog"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/entity"
)

// Parser turns normalized document text into typed fields.
type Parser struct {
	rules   []rule
	overlay *Overlay
	logger  *slog.Logger
}

// NewParser builds a parser with the generic rule table. overlay may be nil.
func NewParser(overlay *Overlay, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{rules: defaultRules(), overlay: overlay, logger: logger}
}

// Parse applies the rule table for docType and merges the layout overlay
// when it recognizes the text. Unmatched fields are absent from the map.
func (p *Parser) Parse(text string, docType constants.DocType) map[entity.FieldName]entity.Field {
	fields := extract(p.rules, text, docType)
	if p.overlay == nil || !p.overlay.Matches(text) {
		return fields
	}
	over := extract(p.overlay.rules, text, docType)
	p.logger.Debug("layout overlay matched", "overlay", p.overlay.Name, "doc_type", docType, "fields", len(over))
	return MergeOverlay(fields, over)
}

// ParseDocument classifies text and parses it into a Document.
func (p *Parser) ParseDocument(text string) *entity.Document {
	c := Classify(text)
	doc := &entity.Document{DocType: c.Type, ClassificationConfidence: c.Confidence, TypeDefaulted: c.Defaulted()}
	if doc.TypeDefaulted {
		p.logger.Debug("no type markers found, defaulted to WPS")
	}
	for _, f := range p.Parse(text, c.Type) {
		doc.Set(f)
	}
	p.logger.Debug("document parsed",
		"doc_type", doc.DocType,
		"classification_confidence", c.Confidence,
		"fields", len(doc.Present()),
	)
	return doc
}

func extract(rules []rule, text string, docType constants.DocType) map[entity.FieldName]entity.Field {
	out := make(map[entity.FieldName]entity.Field)
	if text == "" {
		return out
	}
	for _, r := range rules {
		if _, done := out[r.field]; done || !r.appliesTo(docType) {
			continue
		}
		f, ok := r.apply(text)
		if !ok {
			continue
		}
		if f.Name == entity.FieldDate {
			f = normalizeDateField(f)
		}
		out[r.field] = f
	}
	return out
}

func normalizeDateField(f entity.Field) entity.Field {
	if iso, ok := NormalizeDate(f.Value); ok {
		f.Value = iso
		f.Confidence = max(f.Confidence, 0.8)
	}
	return f
}

// overlayAuthoritative lists the fields where a present overlay value
// replaces the generic one.
var overlayAuthoritative = map[entity.FieldName]struct{}{
	entity.FieldDocNumber:    {},
	entity.FieldWPSNumber:    {},
	entity.FieldPQRNumber:    {},
	entity.FieldDate:         {},
	entity.FieldMaterial:     {},
	entity.FieldThicknessMM:  {},
	entity.FieldPosition:     {},
	entity.FieldWelderName:   {},
	entity.FieldWelderID:     {},
	entity.FieldStampNumber:  {},
	entity.FieldTestLab:      {},
	entity.FieldTestReportNo: {},
}

// MergeOverlay fills absent fields from overlay and lets overlay win for
// the authoritative fields.
func MergeOverlay(base, overlay map[entity.FieldName]entity.Field) map[entity.FieldName]entity.Field {
	out := make(map[entity.FieldName]entity.Field, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for name, f := range overlay {
		if f.Value == "" {
			continue
		}
		if _, present := out[name]; !present {
			out[name] = f
			continue
		}
		if _, auth := overlayAuthoritative[name]; auth {
			out[name] = f
		}
	}
	return out
}

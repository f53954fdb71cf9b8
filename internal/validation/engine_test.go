package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/entity"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newEngine() *Engine {
	return NewEngine(nil, WithClock(func() time.Time { return fixedNow }))
}

func field(name entity.FieldName, value string, conf float64) entity.Field {
	return entity.Field{Name: name, Value: value, Confidence: conf}
}

func goodDoc() *entity.Document {
	doc := &entity.Document{DocType: constants.DocTypeWPS, ClassificationConfidence: 1}
	doc.Set(field(entity.FieldDocNumber, "WPS-2024-001", 0.9))
	doc.Set(field(entity.FieldProcess, "GTAW", 0.7))
	doc.Set(field(entity.FieldThicknessMM, "12.5", 0.7))
	doc.Set(field(entity.FieldDate, "2024-01-15", 0.85))
	return doc
}

func byField(issues []entity.ValidationIssue, name entity.FieldName) []entity.ValidationIssue {
	var out []entity.ValidationIssue
	for _, is := range issues {
		if is.Field == name {
			out = append(out, is)
		}
	}
	return out
}

func TestValidate_Clean(t *testing.T) {
	issues := newEngine().Validate(goodDoc())
	assert.Empty(t, issues)
	assert.NotNil(t, issues)
}

func TestValidate_MissingDocNumber(t *testing.T) {
	doc := goodDoc()
	doc.DocNumber = nil
	doc.DocType = constants.DocTypePQR

	issues := newEngine().Validate(doc)
	dn := byField(issues, entity.FieldDocNumber)
	require.Len(t, dn, 2)
	assert.Equal(t, entity.ValidationIssue{Field: entity.FieldDocNumber, Severity: constants.SeverityError, Message: "PQR number not found"}, dn[0])
	assert.Equal(t, constants.SeverityWarn, dn[1].Severity, "absent number counts as zero confidence")

	errs := 0
	for _, is := range issues {
		if is.Severity == constants.SeverityError {
			errs++
		}
	}
	assert.Equal(t, 1, errs)
	assert.True(t, HasErrors(issues))
}

func TestValidate_Process(t *testing.T) {
	tests := []struct {
		value string
		warn  bool
	}{
		{"GTAW", false},
		{"gtaw", false},
		{"SMAW/GTAW", false},
		{"GMAW + FCAW", false},
		{"SAW, MCAW", false},
		{"GTAW/LASER", true},
		{"141", true},
		{"/", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			doc := goodDoc()
			doc.Set(field(entity.FieldProcess, tt.value, 0.7))
			got := byField(newEngine().Validate(doc), entity.FieldProcess)
			if tt.warn {
				require.Len(t, got, 1)
				assert.Equal(t, constants.SeverityWarn, got[0].Severity)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestValidate_Thickness(t *testing.T) {
	tests := []struct {
		value string
		want  constants.Severity
	}{
		{"12.5", ""},
		{"500", ""},
		{"0", constants.SeverityWarn},
		{"-3", constants.SeverityWarn},
		{"500.1", constants.SeverityWarn},
		{"3.0-12.0", constants.SeverityError},
		{"thick", constants.SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			doc := goodDoc()
			doc.Set(field(entity.FieldThicknessMM, tt.value, 0.7))
			got := byField(newEngine().Validate(doc), entity.FieldThicknessMM)
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Severity)
		})
	}
}

func TestValidate_Date(t *testing.T) {
	tests := []struct {
		value string
		warn  bool
	}{
		{"2024-01-15", false},
		{"2024-06-01", false},
		{"2024-06-02", true},
		{"15/13/2024", true},
		{"01/02/2024", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			doc := goodDoc()
			doc.Set(field(entity.FieldDate, tt.value, 0.8))
			got := byField(newEngine().Validate(doc), entity.FieldDate)
			if !tt.warn {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, constants.SeverityWarn, got[0].Severity)
		})
	}
}

func TestValidate_DateUsesLocalCalendarDay(t *testing.T) {
	sast := time.FixedZone("SAST", 2*60*60)
	tests := []struct {
		name  string
		now   time.Time
		value string
		warn  bool
	}{
		{"today just after local midnight", time.Date(2024, 6, 1, 1, 0, 0, 0, sast), "2024-06-01", false},
		{"tomorrow just after local midnight", time.Date(2024, 6, 1, 1, 0, 0, 0, sast), "2024-06-02", true},
		{"today just before local midnight", time.Date(2024, 6, 1, 23, 30, 0, 0, sast), "2024-06-01", false},
		{"today west of UTC late evening", time.Date(2024, 6, 1, 23, 0, 0, 0, time.FixedZone("EDT", -4*60*60)), "2024-06-02", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := goodDoc()
			doc.Set(field(entity.FieldDate, tt.value, 0.8))
			engine := NewEngine(nil, WithClock(func() time.Time { return tt.now }))
			got := byField(engine.Validate(doc), entity.FieldDate)
			if tt.warn {
				assert.Len(t, got, 1)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestValidate_LowConfidence(t *testing.T) {
	doc := &entity.Document{DocType: constants.DocTypeWPS}
	doc.Set(field(entity.FieldDocNumber, "WPS-1", 0.55))
	doc.Set(field(entity.FieldCompany, "X", 0.25))

	issues := newEngine().Validate(doc)
	assert.Equal(t, []entity.ValidationIssue{
		{Field: entity.FieldDocNumber, Severity: constants.SeverityWarn, Message: "Low confidence in document number extraction"},
		{Field: entity.FieldDocument, Severity: constants.SeverityWarn, Message: "Overall extraction confidence is low (0.40)"},
	}, issues)
}

func TestValidate_EmptyDocument(t *testing.T) {
	issues := newEngine().Validate(&entity.Document{DocType: constants.DocTypeWPS})
	require.Len(t, issues, 3)
	assert.Equal(t, entity.FieldDocNumber, issues[0].Field)
	assert.Equal(t, constants.SeverityError, issues[0].Severity)
	assert.Equal(t, entity.FieldDocument, issues[2].Field)
}

func TestValidate_ExtraRules(t *testing.T) {
	extra := func(doc *entity.Document, _ time.Time) []entity.ValidationIssue {
		if doc.Company == nil {
			return []entity.ValidationIssue{{Field: entity.FieldCompany, Severity: constants.SeverityInfo, Message: "no company"}}
		}
		return nil
	}
	issues := NewEngine(nil, WithClock(func() time.Time { return fixedNow }), WithRules(extra)).Validate(goodDoc())
	require.Len(t, issues, 1)
	assert.Equal(t, constants.SeverityInfo, issues[0].Severity)
}

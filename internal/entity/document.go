package entity

import (
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/weldingest/constants"
)

// ISODate is the canonical date layout.
const ISODate = "2006-01-02"

// Document is the parsed representation of one ingested file.
// A nil field means it was not found.
type Document struct {
	DocType                  constants.DocType `json:"doc_type"`
	ClassificationConfidence float64           `json:"classification_confidence"`
	TypeDefaulted            bool              `json:"type_defaulted"` // no type marker matched

	DocNumber        *Field `json:"doc_number,omitempty"`
	Process          *Field `json:"process,omitempty"`
	Material         *Field `json:"material,omitempty"`
	ThicknessMM      *Field `json:"thickness_mm,omitempty"`
	ThicknessRangeMM *Field `json:"thickness_range_mm,omitempty"`
	Filler           *Field `json:"filler,omitempty"`
	ShieldingGas     *Field `json:"shielding_gas,omitempty"`
	Position         *Field `json:"position,omitempty"`
	Company          *Field `json:"company,omitempty"`
	Date             *Field `json:"date,omitempty"`
	Revision         *Field `json:"revision,omitempty"`
	JointType        *Field `json:"joint_type,omitempty"`
	WPSNumber        *Field `json:"wps_number,omitempty"`
	PQRNumber        *Field `json:"pqr_number,omitempty"`
	WelderName       *Field `json:"welder_name,omitempty"`
	WelderID         *Field `json:"welder_id,omitempty"`
	StampNumber      *Field `json:"stamp_number,omitempty"`
	TestLab          *Field `json:"test_lab,omitempty"`
	TestReportNo     *Field `json:"test_report_no,omitempty"`
}

func (d *Document) slot(name FieldName) **Field {
	switch name {
	case FieldDocNumber:
		return &d.DocNumber
	case FieldProcess:
		return &d.Process
	case FieldMaterial:
		return &d.Material
	case FieldThicknessMM:
		return &d.ThicknessMM
	case FieldThicknessRangeMM:
		return &d.ThicknessRangeMM
	case FieldFiller:
		return &d.Filler
	case FieldShieldingGas:
		return &d.ShieldingGas
	case FieldPosition:
		return &d.Position
	case FieldCompany:
		return &d.Company
	case FieldDate:
		return &d.Date
	case FieldRevision:
		return &d.Revision
	case FieldJointType:
		return &d.JointType
	case FieldWPSNumber:
		return &d.WPSNumber
	case FieldPQRNumber:
		return &d.PQRNumber
	case FieldWelderName:
		return &d.WelderName
	case FieldWelderID:
		return &d.WelderID
	case FieldStampNumber:
		return &d.StampNumber
	case FieldTestLab:
		return &d.TestLab
	case FieldTestReportNo:
		return &d.TestReportNo
	}
	return nil
}

// Field returns the named field or nil when absent or unknown.
func (d *Document) Field(name FieldName) *Field {
	if s := d.slot(name); s != nil {
		return *s
	}
	return nil
}

// Set stores f under f.Name. It returns false for names outside the vocabulary.
func (d *Document) Set(f Field) bool {
	s := d.slot(f.Name)
	if s == nil {
		return false
	}
	cp := f
	*s = &cp
	return true
}

// Value returns the named field value and whether it is present.
func (d *Document) Value(name FieldName) (string, bool) {
	if f := d.Field(name); f != nil {
		return f.Value, true
	}
	return "", false
}

// Present returns the present fields in vocabulary order.
func (d *Document) Present() []Field {
	var out []Field
	for _, n := range FieldNames {
		if f := d.Field(n); f != nil {
			out = append(out, *f)
		}
	}
	return out
}

// AvgConfidence is the mean confidence of present fields, 0 when none.
func (d *Document) AvgConfidence() float64 {
	present := d.Present()
	if len(present) == 0 {
		return 0
	}
	var sum float64
	for _, f := range present {
		sum += f.Confidence
	}
	return sum / float64(len(present))
}

// ValueMap returns name -> value for the present fields.
func (d *Document) ValueMap() map[string]string {
	out := make(map[string]string)
	for _, f := range d.Present() {
		out[string(f.Name)] = f.Value
	}
	return out
}

// DateISO returns the date when it is in canonical form.
func (d *Document) DateISO() (time.Time, bool) {
	if d.Date == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(ISODate, d.Date.Value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ThicknessValue parses thickness_mm as a number.
func (d *Document) ThicknessValue() (float64, bool) {
	if d.ThicknessMM == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(d.ThicknessMM.Value), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

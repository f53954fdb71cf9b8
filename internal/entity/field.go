package entity

// FieldName is a key of the extraction vocabulary.
type FieldName string

const (
	FieldDocNumber        FieldName = "doc_number"
	FieldProcess          FieldName = "process"
	FieldMaterial         FieldName = "material"
	FieldThicknessMM      FieldName = "thickness_mm"
	FieldThicknessRangeMM FieldName = "thickness_range_mm"
	FieldFiller           FieldName = "filler"
	FieldShieldingGas     FieldName = "shielding_gas"
	FieldPosition         FieldName = "position"
	FieldCompany          FieldName = "company"
	FieldDate             FieldName = "date"
	FieldRevision         FieldName = "revision"
	FieldJointType        FieldName = "joint_type"
	FieldWPSNumber        FieldName = "wps_number"
	FieldPQRNumber        FieldName = "pqr_number"
	FieldWelderName       FieldName = "welder_name"
	FieldWelderID         FieldName = "welder_id"
	FieldStampNumber      FieldName = "stamp_number"
	FieldTestLab          FieldName = "test_lab"
	FieldTestReportNo     FieldName = "test_report_no"
)

// Pseudo-fields used by issues that do not belong to one field.
const (
	FieldDocument FieldName = "_document"
	FieldPipeline FieldName = "_pipeline"
)

// FieldNames lists the vocabulary in display order.
var FieldNames = []FieldName{
	FieldDocNumber,
	FieldProcess,
	FieldMaterial,
	FieldThicknessMM,
	FieldThicknessRangeMM,
	FieldFiller,
	FieldShieldingGas,
	FieldPosition,
	FieldCompany,
	FieldDate,
	FieldRevision,
	FieldJointType,
	FieldWPSNumber,
	FieldPQRNumber,
	FieldWelderName,
	FieldWelderID,
	FieldStampNumber,
	FieldTestLab,
	FieldTestReportNo,
}

// Span is a byte offset range into the raw text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Field is one extracted datum.
type Field struct {
	Name       FieldName `json:"name"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Span       *Span     `json:"span,omitempty"`
}

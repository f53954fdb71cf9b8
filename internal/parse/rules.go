package parse

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/entity"
)

// rule extracts one field. The value is the last capture group that
// participated; any earlier participating group counts as a label.
type rule struct {
	field     entity.FieldName
	re        *regexp.Regexp
	accept    func(string) bool
	normalize func(string) string
	notAfter  *regexp.Regexp      // rejects a match preceded by this text
	docTypes  []constants.DocType // empty = every type
}

func (r rule) appliesTo(dt constants.DocType) bool {
	if len(r.docTypes) == 0 {
		return true
	}
	for _, t := range r.docTypes {
		if t == dt {
			return true
		}
	}
	return false
}

// apply returns the first accepted match of r in text.
func (r rule) apply(text string) (entity.Field, bool) {
	for _, loc := range r.re.FindAllStringSubmatchIndex(text, -1) {
		if r.notAfter != nil && r.notAfter.MatchString(text[max(0, loc[0]-24):loc[0]]) {
			continue
		}
		vg := -1
		for g := len(loc)/2 - 1; g >= 1; g-- {
			if loc[2*g] >= 0 {
				vg = g
				break
			}
		}
		start, end := loc[0], loc[1]
		if vg > 0 {
			start, end = loc[2*vg], loc[2*vg+1]
		}
		value := strings.TrimSpace(text[start:end])
		if r.normalize != nil {
			value = r.normalize(value)
		}
		if value == "" || (r.accept != nil && !r.accept(value)) {
			continue
		}
		labeled := false
		for g := 1; g < vg; g++ {
			if loc[2*g] >= 0 {
				labeled = true
				break
			}
		}
		return entity.Field{
			Name:       r.field,
			Value:      value,
			Confidence: matchConfidence(value, labeled),
			Span:       &entity.Span{Start: start, End: end},
		}, true
	}
	return entity.Field{}, false
}

// matchConfidence is 0.5 plus a length bonus (at most 0.49) plus 0.1 for a
// labelled match, capped at 0.99.
func matchConfidence(value string, labeled bool) float64 {
	c := 0.5 + min(float64(utf8.RuneCountInString(value))/40.0, 0.49)
	if labeled {
		c += 0.1
	}
	return min(c, 0.99)
}

func ci(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + pattern)
}

const (
	numberLabel = `\s*(?:No\.?|Number|Nr\.?|#)`
	sep         = `\s*[:\-]?\s*`
	idValue     = `([A-Z0-9][A-Z0-9./_-]*)`
	numValue    = `([0-9]+(?:[.,][0-9]+)?)`
	rangeValue  = `([0-9]+(?:[.,][0-9]+)?\s*[-–]\s*[0-9]+(?:[.,][0-9]+)?)`
	processCode = `(?:GMAW|FCAW|SMAW|GTAW|SAW|MCAW|PAW|OFC|OAW)`
	positionVal = `(?:[1-6][FG]R?|P[A-G])`
)

var (
	reLabelStart = ci(`^(?:THICKNESS|PROCESS|FILLER|POSITION|SHIELDING|GAS|DATE|COMPANY|REV(?:ISION)?|JOINT|WELDER|STAMP|TYPE|GRADE|SPEC(?:IFICATION)?|ID|NO|NUMBER|IDENTIFICATION|NAME|PERFORMANCE|QUALIFICATION|CERTIFI\w*)\b`)
	reLabelCut   = ci(`\s+\b(?:THICKNESS|PROCESS|FILLER|POSITION|SHIELDING|GAS|DATE|COMPANY|REV(?:ISION)?|JOINT|WELDER|STAMP|DIAMETER|FLOW|WPS|PQR|WPQR)\b.*$`)
	reSepSpace   = regexp.MustCompile(`\s*([/+,])\s*`)
	reSpaces     = regexp.MustCompile(`\s+`)
)

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func notLabel(s string) bool {
	return !reLabelStart.MatchString(s)
}

func allOf(fns ...func(string) bool) func(string) bool {
	return func(s string) bool {
		for _, fn := range fns {
			if !fn(s) {
				return false
			}
		}
		return true
	}
}

func trimID(s string) string {
	return strings.TrimRight(s, "./_-")
}

// cutAtLabel drops a trailing neighbour cell, e.g. "S355J2 Thickness: 12".
func cutAtLabel(s string) string {
	s = reLabelCut.ReplaceAllString(s, "")
	return strings.TrimRight(strings.TrimSpace(s), " ,;-")
}

func upperCodes(s string) string {
	return strings.ToUpper(reSepSpace.ReplaceAllString(s, "$1"))
}

func decimal(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
}

// thicknessRange renders "3,0 – 12" as "3.0-12 mm".
func thicknessRange(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '–' })
	if len(parts) != 2 {
		return ""
	}
	return decimal(parts[0]) + "-" + decimal(parts[1]) + " mm"
}

func collapse(s string) string {
	return reSpaces.ReplaceAllString(strings.TrimSpace(s), " ")
}

// docNumberRules builds the label and bare-token rules for one type keyword.
func docNumberRules(field entity.FieldName, keyword string, types ...constants.DocType) []rule {
	return []rule{
		{
			field:     field,
			re:        ci(`\b(` + keyword + numberLabel + `)` + sep + idValue),
			accept:    hasDigit,
			normalize: trimID,
			docTypes:  types,
		},
		{
			field:     field,
			re:        ci(`\b(` + keyword + `[-_/]?\d[A-Z0-9./_-]*)`),
			normalize: trimID,
			docTypes:  types,
		},
	}
}

// defaultRules returns the generic rule table in evaluation order.
func defaultRules() []rule {
	var rules []rule

	rules = append(rules, docNumberRules(entity.FieldDocNumber, `WPS`, constants.DocTypeWPS)...)
	rules = append(rules, docNumberRules(entity.FieldDocNumber, `PQR`, constants.DocTypePQR)...)
	rules = append(rules, docNumberRules(entity.FieldDocNumber, `WPQR?`, constants.DocTypeWPQR)...)
	rules = append(rules, docNumberRules(entity.FieldWPSNumber, `(?:SUPPORTING\s*)?WPS`, constants.DocTypePQR, constants.DocTypeWPQR)...)
	rules = append(rules, docNumberRules(entity.FieldPQRNumber, `(?:SUPPORTING\s*)?PQR(?:\(S\))?`, constants.DocTypeWPS)...)

	rules = append(rules,
		rule{
			field:     entity.FieldProcess,
			re:        ci(`\b((?:WELD(?:ING)?\s*)?PROCESS(?:\(ES\)|ES)?)` + sep + `(` + processCode + `(?:\s*[/+,]\s*` + processCode + `)*)\b`),
			normalize: upperCodes,
		},
		rule{
			field:     entity.FieldProcess,
			re:        ci(`\b((?:WELD(?:ING)?\s*)?PROCESS(?:\(ES\)|ES)?)\s*[:\-]\s*([A-Z0-9]{2,8}(?:\s*[/+,]\s*[A-Z0-9]{2,8})*)\b`),
			accept:    notLabel,
			normalize: upperCodes,
		},
		rule{
			field:     entity.FieldProcess,
			re:        regexp.MustCompile(`\b(GTAW|SMAW|GMAW|FCAW|SAW)\b`),
			normalize: strings.ToUpper,
		},

		rule{
			field:     entity.FieldMaterial,
			re:        ci(`\b((?:BASE|PARENT)\s*(?:MATERIAL|METAL)|MATERIAL)(?:\s*(?:SPEC(?:IFICATION)?|GRADE|TYPE))?` + sep + `([A-Z0-9][A-Z0-9 /.,\-]*[A-Z0-9])`),
			accept:    allOf(notLabel, hasLetter),
			normalize: cutAtLabel,
			notAfter:  ci(`(?:FILLER|CONSUMABLE|WELD|BACKING)\s*$`),
		},

		rule{
			field:     entity.FieldThicknessMM,
			re:        ci(`\b((?:BASE|PARENT)\s*(?:MATERIAL|METAL)\s*THICKNESS|THICKNESS(?:\s*OF\s*TEST\s*(?:COUPON|PIECE|PLATE))?|MATL?\s*THK)` + sep + numValue + `\s*MM\b`),
			normalize: decimal,
		},
		rule{
			field:     entity.FieldThicknessRangeMM,
			re:        ci(`\b(THICKNESS(?:\s*RANGE)?(?:,?\s*T)?(?:\s*\(MM\))?(?:\s*RANGE)?)` + sep + rangeValue),
			normalize: thicknessRange,
		},

		rule{
			field:     entity.FieldFiller,
			re:        ci(`\b(FILLER(?:\s*(?:METAL|MATERIAL|WIRE))?(?:\s*(?:CLASS(?:IFICATION)?|SPEC(?:IFICATION)?|AWS\s*CLASS))?|ELECTRODE)` + sep + `([A-Z0-9./\-]*[0-9][A-Z0-9./\-]*)`),
			normalize: trimID,
		},

		rule{
			field:     entity.FieldShieldingGas,
			re:        ci(`\b(SHIELDING(?:\s*GAS(?:\s*(?:TYPE|COMPOSITION|\(ES\)))?)?)` + sep + `([A-Z0-9][A-Z0-9 +/%.,\-]*[A-Z0-9%])`),
			accept:    allOf(notLabel, hasLetter),
			normalize: cutAtLabel,
		},

		rule{
			field:     entity.FieldPosition,
			re:        ci(`\b((?:TEST\s*|WELD(?:ING)?\s*)?POSITIONS?)` + sep + `(` + positionVal + `(?:\s*[,/]\s*` + positionVal + `)*)\b`),
			normalize: upperCodes,
		},

		rule{
			field:     entity.FieldCompany,
			re:        ci(`\b(COMPANY(?:\s*NAME)?|FABRICATOR|MANUFACTURER|CONTRACTOR)` + sep + `([A-Z0-9][A-Z0-9 &.,'\-]*[A-Z0-9.])`),
			accept:    allOf(notLabel, hasLetter),
			normalize: cutAtLabel,
		},

		rule{
			field: entity.FieldDate,
			re:    ci(`\b(DATE(?:\s*(?:OF\s*(?:ISSUE|TEST(?:ING)?|WELDING)|ISSUED|QUALIFIED|TESTED))?|ISSUED|DATED)` + sep + `(\d{1,2}[-/.]\d{1,2}[-/.]\d{4}|\d{4}[-/.]\d{1,2}[-/.]\d{1,2})\b`),
		},
		rule{
			field: entity.FieldDate,
			re:    regexp.MustCompile(`\b(\d{1,2}[-/.]\d{1,2}[-/.]\d{4}|\d{4}[-/]\d{1,2}[-/]\d{1,2})\b`),
		},

		rule{
			field: entity.FieldRevision,
			re:    ci(`\b(REV(?:ISION)?\.?(?:\s*/\s*VER(?:SION)?)?(?:\s*(?:NO\.?|LEVEL))?|VER(?:SION)?)` + sep + `([0-9]{1,3}|[A-Z])\b`),
		},

		rule{
			field:     entity.FieldJointType,
			re:        ci(`\b(JOINT\s*(?:TYPE|DESIGN))` + sep + `([A-Z][A-Z0-9 /\-]*[A-Z0-9])`),
			accept:    notLabel,
			normalize: cutAtLabel,
		},

		rule{
			field:     entity.FieldWelderName,
			re:        ci(`\b(WELDER(?:'S)?\s*NAME|NAME\s*OF\s*WELDER|WELDER)` + sep + `([A-Z][A-Z .'\-]{2,}[A-Z.])`),
			accept:    notLabel,
			normalize: func(s string) string { return collapse(cutAtLabel(s)) },
			docTypes:  []constants.DocType{constants.DocTypeWPQR},
		},
		rule{
			field:     entity.FieldWelderID,
			re:        ci(`\b(WELDER\s*(?:ID|I\.D\.|NO\.?|NUMBER|IDENTIFICATION))` + sep + `([A-Z0-9][A-Z0-9/\-]*)`),
			accept:    hasDigit,
			normalize: trimID,
			docTypes:  []constants.DocType{constants.DocTypeWPQR},
		},
		rule{
			field:     entity.FieldStampNumber,
			re:        ci(`\b(STAMP(?:\s*(?:NO\.?|NUMBER))?)` + sep + `([A-Z0-9][A-Z0-9/\-]*)`),
			accept:    hasDigit,
			normalize: trimID,
			docTypes:  []constants.DocType{constants.DocTypeWPQR},
		},
		rule{
			field:     entity.FieldTestLab,
			re:        ci(`\b(TESTING\s*LABORATORY|TEST\s*LAB(?:ORATORY)?|LABORATORY|TEST\s*BODY|EXAMINER)` + sep + `([A-Z][A-Z0-9 .,&'\-]*[A-Z0-9.])`),
			accept:    notLabel,
			normalize: cutAtLabel,
			docTypes:  []constants.DocType{constants.DocTypePQR, constants.DocTypeWPQR},
		},
		rule{
			field:     entity.FieldTestReportNo,
			re:        ci(`\b((?:TEST\s*)?REPORT` + numberLabel + `)` + sep + `([A-Z0-9][A-Z0-9/.\-]*)`),
			accept:    hasDigit,
			normalize: trimID,
			docTypes:  []constants.DocType{constants.DocTypePQR, constants.DocTypeWPQR},
		},
	)
	return rules
}

package parse

import (
	"regexp"

	"github.com/joseph-ayodele/weldingest/constants"
)

// Classification is the best-effort document type decision.
type Classification struct {
	Type       constants.DocType
	Confidence float64 // winner hits / all hits, 0 when defaulted
	Counts     map[constants.DocType]int
}

// Defaulted reports whether no marker matched and the type fell back to WPS.
func (c Classification) Defaulted() bool {
	return c.Confidence == 0
}

type marker struct {
	docType constants.DocType
	re      *regexp.Regexp
}

// Keyword markers are case sensitive; header phrases are not.
var markers = []marker{
	{constants.DocTypeWPS, regexp.MustCompile(`\bWPS\b`)},
	{constants.DocTypePQR, regexp.MustCompile(`\bPQR\b`)},
	{constants.DocTypeWPQR, regexp.MustCompile(`\bWPQR?\b`)},
	{constants.DocTypeWPS, regexp.MustCompile(`(?i)\bWELDING\s+PROCEDURE\s+SPECIFICATION\b`)},
	{constants.DocTypePQR, regexp.MustCompile(`(?i)\bPROCEDURE\s+QUALIFICATION\s+RECORD\b`)},
	{constants.DocTypeWPQR, regexp.MustCompile(`(?i)\bWELDER\s+PERFORMANCE\s+QUALIFICATION\b`)},
}

// Classify counts type markers in text. The highest count wins, ties go to
// the earlier entry of constants.DocTypePriority and no hits at all yield
// WPS with zero confidence.
func Classify(text string) Classification {
	counts := make(map[constants.DocType]int, len(constants.DocTypePriority))
	total := 0
	for _, m := range markers {
		n := len(m.re.FindAllStringIndex(text, -1))
		counts[m.docType] += n
		total += n
	}

	if total == 0 {
		return Classification{Type: constants.DocTypeWPS, Counts: counts}
	}

	best := constants.DocTypePriority[0]
	for _, dt := range constants.DocTypePriority[1:] {
		if counts[dt] > counts[best] {
			best = dt
		}
	}
	return Classification{
		Type:       best,
		Confidence: float64(counts[best]) / float64(total),
		Counts:     counts,
	}
}

package constants

// DocType is the qualification document type.
type DocType string

const (
	DocTypeWPS  DocType = "WPS"
	DocTypePQR  DocType = "PQR"
	DocTypeWPQR DocType = "WPQR"
)

// DocTypePriority breaks classification ties, first wins.
var DocTypePriority = []DocType{DocTypeWPS, DocTypePQR, DocTypeWPQR}

// ParseDocType returns the DocType for s, or false.
func ParseDocType(s string) (DocType, bool) {
	switch DocType(s) {
	case DocTypeWPS, DocTypePQR, DocTypeWPQR:
		return DocType(s), true
	}
	return "", false
}

// AllowedProcesses are the welding process codes accepted without a warning.
var AllowedProcesses = map[string]struct{}{
	"GMAW": {}, "FCAW": {}, "SMAW": {}, "GTAW": {}, "SAW": {},
	"MCAW": {}, "PAW": {}, "OFC": {}, "OAW": {},
}

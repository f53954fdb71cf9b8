package parse

import (
	"strings"
	"time"

	"github.com/joseph-ayodele/weldingest/internal/entity"
)

// dateLayouts are tried in order. Day and month accept one or two digits.
var dateLayouts = []string{
	"2006-1-2", // YYYY-MM-DD
	"2-1-2006", // DD-MM-YYYY
	"2006/1/2", // YYYY/MM/DD
	"2/1/2006", // DD/MM/YYYY
	"2.1.2006", // DD.MM.YYYY
}

// NormalizeDate converts raw into YYYY-MM-DD using the first layout that parses.
func NormalizeDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(entity.ISODate), true
		}
	}
	return "", false
}

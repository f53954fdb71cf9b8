package entity

import (
	"time"

	"github.com/joseph-ayodele/weldingest/constants"
)

// ValidationIssue is a data-quality finding attached to a document.
type ValidationIssue struct {
	Field    FieldName          `json:"field"`
	Message  string             `json:"message"`
	Severity constants.Severity `json:"severity"`
}

// ImportLogEntry is one row of the import audit trail.
type ImportLogEntry struct {
	ID        int64                  `json:"id"`
	RunID     string                 `json:"run_id,omitempty"`
	FilePath  string                 `json:"file_path"`
	Status    constants.ImportStatus `json:"status"`
	Message   string                 `json:"message"`
	CreatedAt time.Time              `json:"created_at"`
}

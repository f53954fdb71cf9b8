package entity

import (
	"time"

	"github.com/joseph-ayodele/weldingest/constants"
)

// StoredDocument is a persisted documents row.
type StoredDocument struct {
	ID                       int64             `json:"id"`
	FilePath                 string            `json:"file_path"`
	DocType                  constants.DocType `json:"doc_type"`
	DocNumber                string            `json:"doc_number"`
	Process                  string            `json:"process"`
	Material                 string            `json:"material"`
	ThicknessMM              *float64          `json:"thickness_mm,omitempty"`
	Filler                   string            `json:"filler"`
	ShieldingGas             string            `json:"shielding_gas"`
	Position                 string            `json:"position"`
	Company                  string            `json:"company"`
	Date                     string            `json:"date"`
	AvgConf                  float64           `json:"avg_conf"`
	ClassificationConfidence float64           `json:"classification_confidence"`
	Fields                   []Field           `json:"fields,omitempty"`
	RawText                  string            `json:"raw_text,omitempty"`
	ImportedAt               time.Time         `json:"imported_at"`
	Issues                   []ValidationIssue `json:"issues,omitempty"`
}

// SearchHit is one search result with display-ready values.
type SearchHit struct {
	ID          int64  `json:"id"`
	DocType     string `json:"doc_type"`
	DocNumber   string `json:"doc_number"`
	Process     string `json:"process"`
	Material    string `json:"material"`
	ThicknessMM string `json:"thickness_mm"`
	Company     string `json:"company"`
	Date        string `json:"date"`
	AvgConf     string `json:"avg_conf"`
	Snippet     string `json:"snippet"`
}

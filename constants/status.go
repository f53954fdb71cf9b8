package constants

// ImportStatus is stored verbatim in import_log.status.
type ImportStatus string

const (
	ImportSuccess ImportStatus = "SUCCESS"
	ImportFailed  ImportStatus = "FAILED"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// IngestState tracks one file through the pipeline.
type IngestState string

const (
	StatePending      IngestState = "PENDING"
	StateTextAcquired IngestState = "TEXT_ACQUIRED"
	StateTextFailed   IngestState = "TEXT_FAILED"
	StateParsed       IngestState = "PARSED"
	StateValidated    IngestState = "VALIDATED"
	StatePersisted    IngestState = "PERSISTED"
	StateFailed       IngestState = "FAILED"
)

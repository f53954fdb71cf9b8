// Package pipeline runs one file through text acquisition, parsing,
// validation and persistence, and records the outcome in the import log.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/common"
	"github.com/joseph-ayodele/weldingest/internal/entity"
	"github.com/joseph-ayodele/weldingest/internal/ocr"
	"github.com/joseph-ayodele/weldingest/internal/repository"
)

// MissingNumber stands in for an absent document number in summaries.
const MissingNumber = "(missing)"

// TextSource acquires normalized text for a file.
type TextSource interface {
	ExtractText(ctx context.Context, path string) (ocr.ExtractionResult, error)
}

// DocumentParser classifies and parses normalized text.
type DocumentParser interface {
	ParseDocument(text string) *entity.Document
}

// DocumentValidator produces data-quality issues for a parsed document.
type DocumentValidator interface {
	Validate(doc *entity.Document) []entity.ValidationIssue
}

// Summary is the display digest of a successful ingestion.
type Summary struct {
	DocType                  string            `json:"doc_type"`
	DocNumber                string            `json:"doc_number"`
	AvgConf                  string            `json:"avg_conf"`
	ClassificationConfidence string            `json:"classification_confidence"`
	ClassificationDefaulted  bool              `json:"classification_defaulted"`
	TextMethod               string            `json:"text_method"`
	Fields                   map[string]string `json:"fields"`
}

// Result is the uniform outcome of one Ingest call.
type Result struct {
	Path       string                   `json:"path"`
	RunID      string                   `json:"run_id"`
	Status     constants.ImportStatus   `json:"status"`
	DocumentID *int64                   `json:"document_id"`
	Issues     []entity.ValidationIssue `json:"issues"`
	Summary    *Summary                 `json:"summary,omitempty"`
	State      constants.IngestState    `json:"state"`
	Duration   time.Duration            `json:"duration_ns"`
}

// Succeeded reports whether the file was persisted.
func (r Result) Succeeded() bool {
	return r.Status == constants.ImportSuccess
}

// Observer is told about every finished Ingest call.
type Observer func(Result)

// Ingester is the single entry point callers use to import a file.
type Ingester struct {
	text      TextSource
	parser    DocumentParser
	validator DocumentValidator
	docs      repository.DocumentRepository
	importLog repository.ImportLogRepository
	observers []Observer
	logger    *slog.Logger
}

// Option customizes an Ingester.
type Option func(*Ingester)

// WithObserver registers fn to receive every Result.
func WithObserver(fn Observer) Option {
	return func(i *Ingester) {
		if fn != nil {
			i.observers = append(i.observers, fn)
		}
	}
}

func NewIngester(
	text TextSource,
	parser DocumentParser,
	validator DocumentValidator,
	docs repository.DocumentRepository,
	importLog repository.ImportLogRepository,
	logger *slog.Logger,
	opts ...Option,
) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Ingester{
		text:      text,
		parser:    parser,
		validator: validator,
		docs:      docs,
		importLog: importLog,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest imports path. It never returns an error or panics: every failure
// becomes a FAILED Result, and exactly one import-log row is written per call.
func (i *Ingester) Ingest(ctx context.Context, path string) (res Result) {
	start := time.Now()
	runID := common.RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = common.WithRunID(ctx, runID)
	}
	res = Result{Path: path, RunID: runID, State: constants.StatePending}
	logger := i.logger.With("path", path, "run_id", runID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("ingest panicked", "panic", r, "stack", string(debug.Stack()))
			res = i.fail(ctx, res, fmt.Errorf("panic: %v", r))
		}
		res.Duration = time.Since(start)
		for _, o := range i.observers {
			o(res)
		}
	}()

	id, err := i.run(ctx, &res, logger)
	if err != nil {
		logger.Warn("ingest failed", "state", res.State, "error", err)
		return i.fail(ctx, res, err)
	}

	res.Status = constants.ImportSuccess
	res.DocumentID = &id
	i.writeLog(ctx, res, fmt.Sprintf("Imported as %s %s", res.Summary.DocType, res.Summary.DocNumber))
	logger.Info("ingest succeeded",
		"document_id", id,
		"doc_type", res.Summary.DocType,
		"doc_number", res.Summary.DocNumber,
		"issues", len(res.Issues),
	)
	return res
}

// run advances res.State through the stages and returns the new document id.
func (i *Ingester) run(ctx context.Context, res *Result, logger *slog.Logger) (int64, error) {
	ext, err := i.text.ExtractText(ctx, res.Path)
	if err != nil {
		return 0, err
	}
	if ext.Text == "" {
		// empty text is tolerated; the record will carry missing-field issues
		res.State = constants.StateTextFailed
		logger.Warn("no text recognized", "method", ext.Method, "warnings", ext.Warnings)
	} else {
		res.State = constants.StateTextAcquired
	}

	doc := i.parser.ParseDocument(ext.Text)
	if doc == nil {
		return 0, errors.New("parser returned no document")
	}
	res.State = constants.StateParsed

	issues := i.validator.Validate(doc)
	if issues == nil {
		issues = []entity.ValidationIssue{}
	}
	res.Issues = issues
	res.State = constants.StateValidated

	id, err := i.docs.Insert(ctx, res.Path, doc, ext.Text, issues)
	if err != nil {
		return 0, err
	}
	res.State = constants.StatePersisted
	res.Summary = summarize(doc, ext.Method)
	return id, nil
}

func (i *Ingester) fail(ctx context.Context, res Result, err error) Result {
	msg := err.Error()
	res.Status = constants.ImportFailed
	res.State = constants.StateFailed
	res.DocumentID = nil
	res.Summary = nil
	res.Issues = []entity.ValidationIssue{{
		Field:    entity.FieldPipeline,
		Message:  msg,
		Severity: constants.SeverityError,
	}}
	i.writeLog(ctx, res, msg)
	return res
}

func (i *Ingester) writeLog(ctx context.Context, res Result, message string) {
	// a cancelled caller context must not cost the audit row
	ctx = context.WithoutCancel(ctx)
	_, err := i.importLog.Log(ctx, entity.ImportLogEntry{
		RunID:    res.RunID,
		FilePath: res.Path,
		Status:   res.Status,
		Message:  message,
	})
	if err != nil {
		i.logger.Error("failed to record import", "path", res.Path, "status", res.Status, "error", err)
	}
}

func summarize(doc *entity.Document, method string) *Summary {
	number := MissingNumber
	if v, ok := doc.Value(entity.FieldDocNumber); ok && v != "" {
		number = v
	}
	return &Summary{
		DocType:                  string(doc.DocType),
		DocNumber:                number,
		AvgConf:                  strconv.FormatFloat(doc.AvgConfidence(), 'f', 2, 64),
		ClassificationConfidence: strconv.FormatFloat(doc.ClassificationConfidence, 'f', 2, 64),
		ClassificationDefaulted:  doc.TypeDefaulted,
		TextMethod:               method,
		Fields:                   doc.ValueMap(),
	}
}

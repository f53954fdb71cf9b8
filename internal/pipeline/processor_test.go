package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/common"
	"github.com/joseph-ayodele/weldingest/internal/entity"
	"github.com/joseph-ayodele/weldingest/internal/ocr"
	"github.com/joseph-ayodele/weldingest/internal/parse"
	"github.com/joseph-ayodele/weldingest/internal/repository"
	"github.com/joseph-ayodele/weldingest/internal/validation"
)

const scenarioWPS = `WELDING PROCEDURE SPECIFICATION
Company: Acme Fabrication Ltd
WPS Number WPS-2024-001 Rev/Ver 2 Date 15/01/2024
Process GTAW
Base Material Spec: SA-516 Gr.70
Thickness, T (mm) 3.0-12.0
Filler Metal: ER70S-6
Shielding Gas: Argon 99.99%
Position: 1G`

const badDateWPS = `WELDING PROCEDURE SPECIFICATION
WPS No: WPS-0099
Process: SMAW
Date: 15/13/2024
Filler Metal: E7018 electrodes for all passes`

// pdfRunner serves pdftotext output per file, recognizes nothing in images
// unless they are marked unreadable, and fails every other command.
type pdfRunner struct {
	mu         sync.Mutex
	texts      map[string]string
	unreadable map[string]bool
}

func (r *pdfRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "pdftotext" && len(args) >= 2 {
		if txt, ok := r.texts[args[len(args)-2]]; ok {
			return []byte(txt), nil, nil
		}
		return nil, []byte("Syntax Error: Couldn't find trailer dictionary"), errors.New("exit status 1")
	}
	if name == "tesseract" {
		if len(args) > 0 && r.unreadable[args[0]] {
			return nil, []byte("Error in pixReadStream: Unknown format: no pix returned"), errors.New("exit status 1")
		}
		return nil, nil, nil
	}
	return nil, []byte(name + ": not available"), errors.New("exit status 1")
}

type harness struct {
	ingester *Ingester
	docs     repository.DocumentRepository
	logs     repository.ImportLogRepository
	runner   *pdfRunner
	dir      string
	results  []Result
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := repository.Open(context.Background(), repository.Config{DSN: filepath.Join(t.TempDir(), "weld.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	overlay, err := parse.LoadOverlay("weldtrace", "")
	require.NoError(t, err)

	h := &harness{
		docs:   repository.NewDocumentRepository(store, nil),
		logs:   repository.NewImportLogRepository(store, nil),
		runner: &pdfRunner{texts: map[string]string{}, unreadable: map[string]bool{}},
		dir:    t.TempDir(),
	}
	extractor := ocr.NewExtractor(ocr.Config{}, nil, ocr.WithRunner(h.runner))
	engine := validation.NewEngine(nil, validation.WithClock(func() time.Time {
		return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	}))
	h.ingester = NewIngester(extractor, parse.NewParser(overlay, nil), engine, h.docs, h.logs, nil,
		WithObserver(func(r Result) { h.results = append(h.results, r) }))
	return h
}

// pdf writes a placeholder file whose text layer is text.
func (h *harness) pdf(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 placeholder"), 0o644))
	h.runner.mu.Lock()
	h.runner.texts[path] = text
	h.runner.mu.Unlock()
	return path
}

func (h *harness) logRows(t *testing.T) []entity.ImportLogEntry {
	t.Helper()
	rows, err := h.logs.List(context.Background(), 0)
	require.NoError(t, err)
	return rows
}

func countErrors(issues []entity.ValidationIssue) int {
	n := 0
	for _, is := range issues {
		if is.Severity == constants.SeverityError {
			n++
		}
	}
	return n
}

func TestIngest_WPSWithTextLayer(t *testing.T) {
	h := newHarness(t)
	path := h.pdf(t, "wps.pdf", scenarioWPS)

	res := h.ingester.Ingest(context.Background(), path)

	require.Equal(t, constants.ImportSuccess, res.Status, "issues: %+v", res.Issues)
	assert.True(t, res.Succeeded())
	assert.Equal(t, constants.StatePersisted, res.State)
	require.NotNil(t, res.DocumentID)
	assert.Zero(t, countErrors(res.Issues))
	assert.NotEmpty(t, res.RunID)
	assert.Positive(t, res.Duration)

	require.NotNil(t, res.Summary)
	assert.Equal(t, "WPS", res.Summary.DocType)
	assert.Contains(t, res.Summary.DocNumber, "WPS-2024-001")
	assert.Equal(t, ocr.MethodPDFText, res.Summary.TextMethod)
	assert.False(t, res.Summary.ClassificationDefaulted)
	assert.Contains(t, res.Summary.Fields["process"], "GTAW")
	assert.Equal(t, "3.0-12.0 mm", res.Summary.Fields["thickness_range_mm"])

	stored, err := h.docs.Get(context.Background(), *res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocTypeWPS, stored.DocType)
	assert.Contains(t, stored.DocNumber, "WPS-2024-001")
	assert.Contains(t, stored.Process, "GTAW")

	rows := h.logRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, constants.ImportSuccess, rows[0].Status)
	assert.Equal(t, "Imported as WPS WPS-2024-001", rows[0].Message)
	assert.Equal(t, res.RunID, rows[0].RunID)

	require.Len(t, h.results, 1)
	assert.Equal(t, res.Status, h.results[0].Status)
}

func TestIngest_InvalidDateWarns(t *testing.T) {
	h := newHarness(t)
	path := h.pdf(t, "bad-date.pdf", badDateWPS)

	res := h.ingester.Ingest(context.Background(), path)
	require.True(t, res.Succeeded(), "issues: %+v", res.Issues)

	var dateIssue *entity.ValidationIssue
	for i := range res.Issues {
		if res.Issues[i].Field == entity.FieldDate {
			dateIssue = &res.Issues[i]
		}
	}
	require.NotNil(t, dateIssue)
	assert.Equal(t, constants.SeverityWarn, dateIssue.Severity)

	stored, err := h.docs.Get(context.Background(), *res.DocumentID)
	require.NoError(t, err)
	assert.Empty(t, stored.Date)
}

func TestIngest_SamePathTwice(t *testing.T) {
	h := newHarness(t)
	path := h.pdf(t, "wps.pdf", scenarioWPS)

	first := h.ingester.Ingest(context.Background(), path)
	second := h.ingester.Ingest(context.Background(), path)

	require.True(t, first.Succeeded())
	require.True(t, second.Succeeded())
	assert.NotEqual(t, *first.DocumentID, *second.DocumentID)
	assert.NotEqual(t, first.RunID, second.RunID)

	rows := h.logRows(t)
	require.Len(t, rows, 2)
	assert.NotEqual(t, rows[0].ID, rows[1].ID)
	for _, r := range rows {
		assert.Equal(t, constants.ImportSuccess, r.Status)
		assert.Equal(t, path, r.FilePath)
	}
}

func TestIngest_CorruptFileFailsAndContinues(t *testing.T) {
	h := newHarness(t)
	corrupt := filepath.Join(h.dir, "corrupt.pdf")
	require.NoError(t, os.WriteFile(corrupt, []byte("\x00\x01 definitely not a pdf"), 0o644))

	res := h.ingester.Ingest(context.Background(), corrupt)

	assert.Equal(t, constants.ImportFailed, res.Status)
	assert.Equal(t, constants.StateFailed, res.State)
	assert.Nil(t, res.DocumentID)
	assert.Nil(t, res.Summary)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, entity.FieldPipeline, res.Issues[0].Field)
	assert.Equal(t, constants.SeverityError, res.Issues[0].Severity)
	assert.NotEmpty(t, res.Issues[0].Message)

	rows := h.logRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, constants.ImportFailed, rows[0].Status)
	assert.Equal(t, res.Issues[0].Message, rows[0].Message)

	next := h.ingester.Ingest(context.Background(), h.pdf(t, "ok.pdf", scenarioWPS))
	assert.True(t, next.Succeeded())
	assert.Len(t, h.logRows(t), 2)
}

func TestIngest_UnsupportedAndMissing(t *testing.T) {
	h := newHarness(t)

	res := h.ingester.Ingest(context.Background(), filepath.Join(h.dir, "notes.txt"))
	assert.Equal(t, constants.ImportFailed, res.Status)
	assert.Contains(t, res.Issues[0].Message, "unsupported")

	res = h.ingester.Ingest(context.Background(), filepath.Join(h.dir, "gone.pdf"))
	assert.Equal(t, constants.ImportFailed, res.Status)

	assert.Len(t, h.logRows(t), 2)
}

func TestIngest_NoTextStillPersists(t *testing.T) {
	h := newHarness(t)
	img := filepath.Join(h.dir, "blank.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0o644))

	res := h.ingester.Ingest(context.Background(), img)

	require.True(t, res.Succeeded())
	assert.Equal(t, "WPS", res.Summary.DocType)
	assert.Equal(t, MissingNumber, res.Summary.DocNumber)
	assert.Equal(t, ocr.MethodNone, res.Summary.TextMethod)
	assert.Equal(t, "0.00", res.Summary.ClassificationConfidence)
	assert.True(t, res.Summary.ClassificationDefaulted)
	assert.Positive(t, countErrors(res.Issues))

	rows := h.logRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "Imported as WPS (missing)", rows[0].Message)
}

func TestIngest_UnreadableImageFails(t *testing.T) {
	h := newHarness(t)
	img := filepath.Join(h.dir, "corrupt.png")
	require.NoError(t, os.WriteFile(img, []byte("\x00 not an image"), 0o644))
	h.runner.mu.Lock()
	h.runner.unreadable[img] = true
	h.runner.mu.Unlock()

	res := h.ingester.Ingest(context.Background(), img)

	assert.Equal(t, constants.ImportFailed, res.Status)
	assert.Nil(t, res.DocumentID)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Message, "unreadable")

	rows := h.logRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, constants.ImportFailed, rows[0].Status)

	docs, err := h.docs.List(context.Background(), repository.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIngest_OCREngineMissingFails(t *testing.T) {
	h := newHarness(t)
	missing := filepath.Join(t.TempDir(), "bin", "tesseract")
	extractor := ocr.NewExtractor(ocr.Config{Tesseract: missing}, nil)
	ing := NewIngester(extractor, parse.NewParser(nil, nil), validation.NewEngine(nil), h.docs, h.logs, nil)

	img := filepath.Join(h.dir, "card.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0o644))

	res := ing.Ingest(context.Background(), img)

	assert.Equal(t, constants.ImportFailed, res.Status)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Message, "ocr engine not available")

	rows := h.logRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, constants.ImportFailed, rows[0].Status)
}

func TestIngest_RunIDFromContext(t *testing.T) {
	h := newHarness(t)
	ctx := common.WithRunID(context.Background(), "batch-7")

	res := h.ingester.Ingest(ctx, h.pdf(t, "wps.pdf", scenarioWPS))
	assert.Equal(t, "batch-7", res.RunID)
	assert.Equal(t, "batch-7", h.logRows(t)[0].RunID)
}

type panicParser struct{}

func (panicParser) ParseDocument(string) *entity.Document { panic("boom") }

type failingDocs struct {
	repository.DocumentRepository
}

func (failingDocs) Insert(context.Context, string, *entity.Document, string, []entity.ValidationIssue) (int64, error) {
	return 0, errors.New("disk full")
}

func TestIngest_PanicAndStoreFailureBecomeResults(t *testing.T) {
	h := newHarness(t)
	path := h.pdf(t, "wps.pdf", scenarioWPS)
	extractor := ocr.NewExtractor(ocr.Config{}, nil, ocr.WithRunner(h.runner))
	parser := parse.NewParser(nil, nil)

	panicky := NewIngester(extractor, panicParser{}, validation.NewEngine(nil), h.docs, h.logs, nil)
	res := panicky.Ingest(context.Background(), path)
	assert.Equal(t, constants.ImportFailed, res.Status)
	assert.Equal(t, "panic: boom", res.Issues[0].Message)

	broken := NewIngester(extractor, parser, validation.NewEngine(nil), failingDocs{h.docs}, h.logs, nil)
	res = broken.Ingest(context.Background(), path)
	assert.Equal(t, constants.ImportFailed, res.Status)
	assert.Equal(t, "disk full", res.Issues[0].Message)

	rows := h.logRows(t)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, constants.ImportFailed, r.Status)
	}
}

func TestIngest_CancelledContextStillLogs(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.ingester.Ingest(ctx, filepath.Join(h.dir, "gone.pdf"))
	assert.Equal(t, constants.ImportFailed, res.Status)
	assert.Len(t, h.logRows(t), 1)
}

package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/common"
)

// Defaults applied by NewExtractor to zero config values.
const (
	DefaultDPI          = 300
	DefaultMaxPages     = 3
	DefaultMinTextChars = 50
	DefaultPSM          = 6
)

// Extraction methods reported in ExtractionResult.Method.
const (
	MethodPDFText  = "pdf-text"
	MethodPDFOCR   = "pdf-ocr"
	MethodImageOCR = "image-ocr"
	MethodNone     = "none"
)

var (
	// ErrUnsupportedFormat is returned for extensions outside constants.AllowedExtensions.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrUnreadable covers missing files, PDFs no text layer tool can open and
	// images tesseract cannot read.
	ErrUnreadable = errors.New("unreadable input")
	// ErrOCREngineMissing is returned when OCR is needed and tesseract cannot be executed.
	ErrOCREngineMissing = errors.New("ocr engine not available")
)

// Config is the explicit text acquisition configuration.
type Config struct {
	Pdftotext   string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm    string // if empty -> "pdftoppm"
	Pdftocairo  string // if empty -> "pdftocairo"
	Ghostscript string // if empty -> "gs"
	Tesseract   string // if empty -> "tesseract"

	Lang        string // default "eng"
	TessdataDir string
	PSM         int // 6 = uniform block of text
	DPI         int // rasterization DPI for scanned PDFs, default 300

	MaxPages     int // pages rasterized for OCR, default 3
	MinTextChars int // text layer threshold below which OCR runs, default 50
	Backends     []string

	EnableTSVConfidence bool
	DisablePDFCPU       bool
}

// ConfigFromCommon maps the loaded application config onto Config.
func ConfigFromCommon(c common.OCRConfig) Config {
	return Config{
		Pdftotext:           c.Pdftotext,
		Pdftoppm:            c.Pdftoppm,
		Pdftocairo:          c.Pdftocairo,
		Ghostscript:         c.Ghostscript,
		Tesseract:           c.Tesseract,
		Lang:                c.Lang,
		TessdataDir:         c.TessdataDir,
		PSM:                 c.PSM,
		DPI:                 c.DPI,
		MaxPages:            c.MaxPages,
		MinTextChars:        c.MinTextChars,
		Backends:            c.Backends,
		EnableTSVConfidence: c.EnableTSVConfidence,
		DisablePDFCPU:       c.DisablePDFCPU,
	}
}

func (c Config) withDefaults() Config {
	if c.Pdftotext == "" {
		c.Pdftotext = "pdftotext"
	}
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Pdftocairo == "" {
		c.Pdftocairo = "pdftocairo"
	}
	if c.Ghostscript == "" {
		c.Ghostscript = "gs"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.Lang == "" {
		c.Lang = "eng"
	}
	if c.PSM <= 0 {
		c.PSM = DefaultPSM
	}
	if c.DPI <= 0 {
		c.DPI = DefaultDPI
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.MinTextChars <= 0 {
		c.MinTextChars = DefaultMinTextChars
	}
	if len(c.Backends) == 0 {
		c.Backends = DefaultBackends
	}
	return c
}

// ExtractionResult is the normalized text plus how it was obtained.
type ExtractionResult struct {
	Text       string
	Pages      int
	SourceType string // constants.PDF | constants.IMAGE
	Method     string // pdf-text | pdf-ocr | image-ocr | none
	TextSource string // pdftotext | pdfcpu, set when the text layer was used
	Backend    string // raster backend used for OCR
	Language   string
	Duration   time.Duration
	Warnings   []string
	Confidence float32 // tesseract mean word confidence, when enabled
}

// Extractor acquires text from PDFs and raster images.
type Extractor struct {
	cfg    Config
	runner Runner
	raster *Rasterizer
	logger *slog.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithRunner replaces the external command runner.
func WithRunner(r Runner) Option {
	return func(e *Extractor) {
		e.runner = r
	}
}

func NewExtractor(cfg Config, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		cfg:    cfg.withDefaults(),
		runner: execRunner{logger: logger},
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.raster = NewRasterizer(e.cfg, e.runner, logger)
	return e
}

// ExtractText picks a strategy based on the file extension. It returns an
// empty text with a nil error when nothing could be recognized.
func (e *Extractor) ExtractText(ctx context.Context, path string) (ExtractionResult, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	e.logger.Debug("starting text extraction", "path", path, "ext", ext)

	format := constants.MapExtToFormat(ext)
	if format == "" {
		e.logger.Warn("unsupported extension", "path", path, "extension", ext)
		return ExtractionResult{Method: MethodNone}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	st, err := os.Stat(path)
	if err != nil {
		return ExtractionResult{SourceType: format, Method: MethodNone}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if st.IsDir() {
		return ExtractionResult{SourceType: format, Method: MethodNone}, fmt.Errorf("%w: %s is a directory", ErrUnreadable, path)
	}

	var res ExtractionResult
	if format == constants.PDF {
		res, err = e.extractPDF(ctx, path)
	} else {
		res, err = e.extractImage(ctx, path)
	}
	res.SourceType = format
	res.Duration = time.Since(start)
	if err != nil {
		e.logger.Error("text extraction failed", "path", path, "error", err)
		return res, err
	}
	res.Text = Normalize(res.Text)
	if res.Text == "" {
		res.Method = MethodNone
	}
	e.logger.Info("text extraction finished",
		"path", path,
		"method", res.Method,
		"pages", res.Pages,
		"chars", len(res.Text),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (ExtractionResult, error) {
	res := ExtractionResult{Language: e.cfg.Lang}

	text, source, warns, err := e.textLayer(ctx, path)
	res.Warnings = append(res.Warnings, warns...)
	if err != nil {
		return res, err
	}
	n := textChars(text)
	if n >= e.cfg.MinTextChars {
		res.Text, res.Method, res.TextSource = text, MethodPDFText, source
		return res, nil
	}
	e.logger.Debug("text layer too short, falling back to ocr", "path", path, "chars", n, "min", e.cfg.MinTextChars)

	workDir, err := os.MkdirTemp("", "weldingest-raster-*")
	if err != nil {
		return res, fmt.Errorf("create raster dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			e.logger.Warn("raster dir cleanup failed", "dir", workDir, "error", rmErr)
		}
	}()

	images, backend := e.raster.Render(ctx, path, workDir, e.cfg.MaxPages, e.cfg.DPI)
	if len(images) == 0 {
		res.Warnings = append(res.Warnings, "no raster backend produced images")
		res.Text, res.Method, res.TextSource = text, MethodPDFText, source
		return res, nil
	}

	ocrText, conf, warns, err := e.ocrPages(ctx, images)
	res.Warnings = append(res.Warnings, warns...)
	if errors.Is(err, ErrUnreadable) {
		// rasters unreadable but the text layer opened: keep it
		res.Text, res.Method, res.TextSource = text, MethodPDFText, source
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.Backend, res.Pages, res.Confidence = backend, len(images), conf
	if textChars(ocrText) == 0 {
		// keep whatever the short text layer had
		res.Text, res.Method, res.TextSource = text, MethodPDFText, source
		return res, nil
	}
	res.Text, res.Method = ocrText, MethodPDFOCR
	return res, nil
}

func (e *Extractor) extractImage(ctx context.Context, path string) (ExtractionResult, error) {
	res := ExtractionResult{Language: e.cfg.Lang, Method: MethodImageOCR, Pages: 1}
	text, conf, warns, err := e.ocrPages(ctx, []string{path})
	res.Warnings = append(res.Warnings, warns...)
	if err != nil {
		return res, err
	}
	res.Text, res.Confidence = text, conf
	return res, nil
}

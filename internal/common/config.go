package common

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Log    LogConfig
	OCR    OCRConfig
	Parser ParserConfig
	Store  StoreConfig
	Ingest IngestConfig
	Watch  WatchConfig
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string // debug | info | warn | error
	Format string // text | json
}

// OCRConfig holds external engine locations and text acquisition limits
type OCRConfig struct {
	Pdftotext   string
	Pdftoppm    string
	Pdftocairo  string
	Ghostscript string
	Tesseract   string

	Lang                string
	TessdataDir         string
	PSM                 int
	DPI                 int
	MaxPages            int
	MinTextChars        int
	Backends            []string
	EnableTSVConfidence bool
	DisablePDFCPU       bool
}

// ParserConfig selects the layout overlay rule set
type ParserConfig struct {
	Overlay     string // embedded rule set name, "none" disables
	OverlayFile string // YAML rule set path, wins over Overlay
}

// StoreConfig holds record store settings
type StoreConfig struct {
	BusyTimeout     time.Duration
	MaxOpenConns    int
	MessageLimit    int
	SearchLimit     int
	DisableFullText bool
}

// IngestConfig holds batch ingestion settings
type IngestConfig struct {
	Workers      int
	QueueSize    int
	Timeout      time.Duration
	SkipExisting bool
	SkipHidden   bool
}

// WatchConfig holds folder watch daemon settings
type WatchConfig struct {
	Debounce    time.Duration
	InitialScan bool
	GRPCAddr    string
	MetricsAddr string
}

// EnvPrefix prefixes every environment override, e.g. WELDINGEST_OCR_DPI.
const EnvPrefix = "WELDINGEST"

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("ocr.pdftotext", "pdftotext")
	v.SetDefault("ocr.pdftoppm", "pdftoppm")
	v.SetDefault("ocr.pdftocairo", "pdftocairo")
	v.SetDefault("ocr.ghostscript", "gs")
	v.SetDefault("ocr.tesseract", "tesseract")
	v.SetDefault("ocr.lang", "eng")
	v.SetDefault("ocr.tessdata_dir", "")
	v.SetDefault("ocr.psm", 6)
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.max_pages", 3)
	v.SetDefault("ocr.min_text_chars", 50)
	v.SetDefault("ocr.backends", []string{"pdftoppm", "pdftocairo", "ghostscript"})
	v.SetDefault("ocr.enable_tsv_confidence", false)
	v.SetDefault("ocr.disable_pdfcpu", false)

	v.SetDefault("parser.overlay", "weldtrace")
	v.SetDefault("parser.overlay_file", "")

	v.SetDefault("store.busy_timeout", 10*time.Second)
	v.SetDefault("store.max_open_conns", 4)
	v.SetDefault("store.message_limit", 1000)
	v.SetDefault("store.search_limit", 20)
	v.SetDefault("store.disable_full_text", false)

	v.SetDefault("ingest.workers", 1)
	v.SetDefault("ingest.queue_size", 64)
	v.SetDefault("ingest.timeout", 5*time.Minute)
	v.SetDefault("ingest.skip_existing", false)
	v.SetDefault("ingest.skip_hidden", true)

	v.SetDefault("watch.debounce", 2*time.Second)
	v.SetDefault("watch.initial_scan", false)
	v.SetDefault("watch.grpc_addr", "")
	v.SetDefault("watch.metrics_addr", "")
}

// LoadConfig reads defaults, then an optional weldingest.yaml, then environment
// overrides. path may be a directory to search or a config file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	switch {
	case path != "" && isFile(path):
		v.SetConfigFile(path)
	default:
		v.SetConfigName("weldingest")
		v.SetConfigType("yaml")
		if path != "" {
			v.AddConfigPath(path)
		}
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "weldingest"))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, NewAppError("CONFIG_ERROR", "read config file", err)
		}
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		OCR: OCRConfig{
			Pdftotext:           v.GetString("ocr.pdftotext"),
			Pdftoppm:            v.GetString("ocr.pdftoppm"),
			Pdftocairo:          v.GetString("ocr.pdftocairo"),
			Ghostscript:         v.GetString("ocr.ghostscript"),
			Tesseract:           v.GetString("ocr.tesseract"),
			Lang:                v.GetString("ocr.lang"),
			TessdataDir:         v.GetString("ocr.tessdata_dir"),
			PSM:                 v.GetInt("ocr.psm"),
			DPI:                 v.GetInt("ocr.dpi"),
			MaxPages:            v.GetInt("ocr.max_pages"),
			MinTextChars:        v.GetInt("ocr.min_text_chars"),
			Backends:            splitList(v.GetStringSlice("ocr.backends")),
			EnableTSVConfidence: v.GetBool("ocr.enable_tsv_confidence"),
			DisablePDFCPU:       v.GetBool("ocr.disable_pdfcpu"),
		},
		Parser: ParserConfig{
			Overlay:     v.GetString("parser.overlay"),
			OverlayFile: v.GetString("parser.overlay_file"),
		},
		Store: StoreConfig{
			BusyTimeout:     v.GetDuration("store.busy_timeout"),
			MaxOpenConns:    v.GetInt("store.max_open_conns"),
			MessageLimit:    v.GetInt("store.message_limit"),
			SearchLimit:     v.GetInt("store.search_limit"),
			DisableFullText: v.GetBool("store.disable_full_text"),
		},
		Ingest: IngestConfig{
			Workers:      v.GetInt("ingest.workers"),
			QueueSize:    v.GetInt("ingest.queue_size"),
			Timeout:      v.GetDuration("ingest.timeout"),
			SkipExisting: v.GetBool("ingest.skip_existing"),
			SkipHidden:   v.GetBool("ingest.skip_hidden"),
		},
		Watch: WatchConfig{
			Debounce:    v.GetDuration("watch.debounce"),
			InitialScan: v.GetBool("watch.initial_scan"),
			GRPCAddr:    v.GetString("watch.grpc_addr"),
			MetricsAddr: v.GetString("watch.metrics_addr"),
		},
	}
	return cfg, nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("log.level", c.Log.Level, OneOf("debug", "info", "warn", "error"))
	v.Field("log.format", c.Log.Format, OneOf("text", "json"))
	v.Field("ocr.tesseract", c.OCR.Tesseract, Required)
	v.Field("ocr.dpi", c.OCR.DPI, Between(72, 1200))
	v.Field("ocr.max_pages", c.OCR.MaxPages, Between(0, 1000))
	v.Field("ocr.min_text_chars", c.OCR.MinTextChars, Between(0, 100000))
	for _, b := range c.OCR.Backends {
		v.Field("ocr.backends", b, OneOf("pdftoppm", "pdftocairo", "ghostscript"))
	}
	v.Field("store.message_limit", c.Store.MessageLimit, Between(1, 1<<20))
	v.Field("store.search_limit", c.Store.SearchLimit, Between(1, 10000))
	v.Field("ingest.workers", c.Ingest.Workers, Between(1, 256))
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}

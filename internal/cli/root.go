// Package cli is the weldingest command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/weldingest/internal/common"
	"github.com/joseph-ayodele/weldingest/internal/metrics"
	"github.com/joseph-ayodele/weldingest/internal/ocr"
	"github.com/joseph-ayodele/weldingest/internal/parse"
	"github.com/joseph-ayodele/weldingest/internal/pipeline"
	"github.com/joseph-ayodele/weldingest/internal/repository"
	"github.com/joseph-ayodele/weldingest/internal/validation"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// usageError marks bad arguments or flags.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// exitError ends the process with code after the command already reported why.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// usageArgs turns positional argument errors into usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

// App holds the state shared by every command of one invocation.
type App struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *common.Config
	logger *slog.Logger
	stderr io.Writer
	runner ocr.Runner
}

func newApp(runner ocr.Runner) *App {
	return &App{runner: runner}
}

// Execute runs the command line in args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return newApp(nil).run(ctx, args, stdout, stderr)
}

func (a *App) run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a.stderr = stderr
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	var ue *usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", root.Name())
		return ExitUsage
	}
	return ExitFailure
}

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "weldingest",
		Short: "Ingest welding qualification documents (WPS, PQR, WPQR)",
		Long: `weldingest turns scanned or digital WPS, PQR and WPQR documents into
searchable records. Text comes from the PDF text layer or OCR, fields are
parsed and validated, and every import is recorded in an audit log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unknown command %q for %q", args[0], cmd.Name())
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file or directory containing weldingest.yaml")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text, json")

	root.AddCommand(
		a.initCommand(),
		a.ingestCommand(),
		a.searchCommand(),
		a.showCommand(),
		a.logCommand(),
		a.deleteCommand(),
		a.exportCommand(),
		a.watchCommand(),
	)
	return root
}

// setup loads configuration and builds the logger. Flags win over the file.
func (a *App) setup() error {
	a.logLevel = strings.ToLower(a.logLevel)
	a.logFormat = strings.ToLower(a.logFormat)
	if a.logLevel != "" && !oneOf(a.logLevel, "debug", "info", "warn", "error") {
		return usagef("invalid --log-level %q", a.logLevel)
	}
	if a.logFormat != "" && !oneOf(a.logFormat, "text", "json") {
		return usagef("invalid --log-format %q", a.logFormat)
	}

	cfg, err := common.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(a.stderr, cfg.Log)
	slog.SetDefault(a.logger)
	return nil
}

func newLogger(w io.Writer, c common.LogConfig) *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func oneOf(s string, allowed ...string) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

func (a *App) openStore(ctx context.Context, dsn string) (*repository.Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, usagef("store path or DSN is required")
	}
	return repository.Open(ctx, repository.Config{
		DSN:             dsn,
		BusyTimeout:     a.cfg.Store.BusyTimeout,
		MaxOpenConns:    a.cfg.Store.MaxOpenConns,
		MessageLimit:    a.cfg.Store.MessageLimit,
		DisableFullText: a.cfg.Store.DisableFullText,
	}, a.logger)
}

// documents builds the document repository, reporting searches to m when set.
func (a *App) documents(store *repository.Store, m *metrics.Metrics) repository.DocumentRepository {
	var opts []repository.DocumentOption
	if m != nil {
		opts = append(opts, repository.WithSearchObserver(m.ObserveSearch))
	}
	return repository.NewDocumentRepository(store, a.logger, opts...)
}

func (a *App) importLog(store *repository.Store) repository.ImportLogRepository {
	return repository.NewImportLogRepository(store, a.logger)
}

// ingester wires text acquisition, parsing, validation and persistence.
func (a *App) ingester(store *repository.Store, docs repository.DocumentRepository, m *metrics.Metrics) (*pipeline.Ingester, error) {
	overlay, err := parse.LoadOverlay(a.cfg.Parser.Overlay, a.cfg.Parser.OverlayFile)
	if err != nil {
		return nil, err
	}
	var ocrOpts []ocr.Option
	if a.runner != nil {
		ocrOpts = append(ocrOpts, ocr.WithRunner(a.runner))
	}
	extractor := ocr.NewExtractor(ocr.ConfigFromCommon(a.cfg.OCR), a.logger, ocrOpts...)

	var opts []pipeline.Option
	if m != nil {
		opts = append(opts, pipeline.WithObserver(m.ObserveIngest))
	}
	return pipeline.NewIngester(
		extractor,
		parse.NewParser(overlay, a.logger),
		validation.NewEngine(a.logger),
		docs,
		a.importLog(store),
		a.logger,
		opts...,
	), nil
}

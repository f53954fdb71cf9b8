package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/weldingest/internal/async"
	"github.com/joseph-ayodele/weldingest/internal/ingest"
	"github.com/joseph-ayodele/weldingest/internal/metrics"
	"github.com/joseph-ayodele/weldingest/internal/server"
)

const shutdownTimeout = 30 * time.Second

func (a *App) watchCommand() *cobra.Command {
	var (
		grpcAddr     string
		metricsAddr  string
		workers      int
		debounce     time.Duration
		initialScan  bool
		skipExisting bool
	)
	cmd := &cobra.Command{
		Use:   "watch <store> <dir>...",
		Short: "Watch folders and import documents as they arrive",
		Long: `Watches each directory recursively and imports supported files once
they stop changing. Optionally serves gRPC health checks and Prometheus
metrics until interrupted.`,
		Args: usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, dir := range args[1:] {
				if st, err := os.Stat(dir); err != nil || !st.IsDir() {
					return usagef("not a directory: %s", dir)
				}
			}
			fl := cmd.Flags()
			if !fl.Changed("grpc-addr") {
				grpcAddr = a.cfg.Watch.GRPCAddr
			}
			if !fl.Changed("metrics-addr") {
				metricsAddr = a.cfg.Watch.MetricsAddr
			}
			if !fl.Changed("debounce") {
				debounce = a.cfg.Watch.Debounce
			}
			if !fl.Changed("initial-scan") {
				initialScan = a.cfg.Watch.InitialScan
			}
			if workers <= 0 {
				workers = a.cfg.Ingest.Workers
			}
			skipExisting = skipExisting || a.cfg.Ingest.SkipExisting

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx, args[0], args[1:], watchOptions{
				grpcAddr:     grpcAddr,
				metricsAddr:  metricsAddr,
				workers:      workers,
				debounce:     debounce,
				initialScan:  initialScan,
				skipExisting: skipExisting,
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&grpcAddr, "grpc-addr", "", "serve gRPC health and reflection on this address")
	fl.StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	fl.IntVarP(&workers, "workers", "w", 0, "concurrent ingest workers (default from config)")
	fl.DurationVar(&debounce, "debounce", 2*time.Second, "quiet period before a changed file is imported")
	fl.BoolVar(&initialScan, "initial-scan", false, "import files already present at startup")
	fl.BoolVar(&skipExisting, "skip-existing", false, "skip files already imported under the same path")
	return cmd
}

type watchOptions struct {
	grpcAddr     string
	metricsAddr  string
	workers      int
	debounce     time.Duration
	initialScan  bool
	skipExisting bool
}

func (a *App) watch(ctx context.Context, dsn string, roots []string, opts watchOptions) error {
	store, err := a.openStore(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()
	docs := a.documents(store, m)
	ing, err := a.ingester(store, docs, m)
	if err != nil {
		return err
	}

	q := async.NewIngestQueue(ing, a.logger,
		async.WithWorkers(opts.workers),
		async.WithQueueSize(a.cfg.Ingest.QueueSize),
		async.WithProcessTimeout(a.cfg.Ingest.Timeout),
	)
	m.TrackQueueDepth(q.Depth)

	srv := server.New(server.Config{
		GRPCAddr:    opts.grpcAddr,
		MetricsAddr: opts.metricsAddr,
	}, store, m, a.logger)
	if err := srv.Start(ctx); err != nil {
		q.Shutdown(ctx)
		return err
	}

	events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       roots,
		InitialScan: opts.initialScan,
		Debounce:    opts.debounce,
		SkipHidden:  a.cfg.Ingest.SkipHidden,
	}, a.logger)
	if err != nil {
		a.stop(srv, q)
		return err
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for res := range q.Results() {
			if res.Succeeded() {
				a.logger.Info("imported", "path", res.Path, "doc_type", res.Summary.DocType,
					"doc_number", res.Summary.DocNumber, "document_id", *res.DocumentID, "issues", len(res.Issues))
			} else {
				a.logger.Warn("import failed", "path", res.Path, "reason", failureMessage(res))
			}
		}
	}()
	go func() {
		for err := range errs {
			a.logger.Warn("watch error", "error", err)
		}
	}()

	a.logger.Info("watching", "roots", roots, "workers", opts.workers)
	err = ingest.Feed(ctx, events, q, docs, opts.skipExisting, a.logger)
	a.stop(srv, q)
	<-drained
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// stop drains the queue and the servers within shutdownTimeout.
func (a *App) stop(srv *server.Server, q *async.IngestQueue) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	q.Shutdown(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Warn("server shutdown", "error", err)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/italolelis/nft_cover_downloader/internal/acquire"
	"github.com/italolelis/nft_cover_downloader/internal/cardano"
	"github.com/italolelis/nft_cover_downloader/internal/cleanup"
	"github.com/italolelis/nft_cover_downloader/internal/config"
	"github.com/italolelis/nft_cover_downloader/internal/content"
	"github.com/italolelis/nft_cover_downloader/internal/ipfs"
	"github.com/italolelis/nft_cover_downloader/internal/logctx"
	"github.com/italolelis/nft_cover_downloader/internal/notifier"
	"github.com/italolelis/nft_cover_downloader/internal/storage"
	"github.com/italolelis/nft_cover_downloader/internal/storage/sqlite"
	"github.com/italolelis/nft_cover_downloader/internal/telemetry"
)

const serviceName = "cover_downloader"

var version = "dev"

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitCancelled = 130
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := exitOK

	cmd := newRootCmd(func(ctx context.Context, a arguments) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			slog.Error("config error", "err", err)
			code = exitUsage

			return err
		}

		logger := slog.New(logctx.NewContextHandler(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
		))
		slog.SetDefault(logger)

		if err := run(logctx.WithLogger(ctx, logger), cfg, a); err != nil {
			code = exitCodeFor(err)

			return err
		}

		return nil
	})
	if args == nil {
		args = []string{}
	}

	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if code == exitOK {
			// Cobra rejected the arguments before RunE ran.
			code = exitUsage
		}

		slog.Error("cover downloader failed", "err", err)
	}

	return code
}

func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitCancelled
	}

	return exitFailure
}

func newRootCmd(runFn func(ctx context.Context, a arguments) error) *cobra.Command {
	return &cobra.Command{
		Use:   "cover_downloader <policy_id> [work_dir] [total_files]",
		Short: "Download high-resolution NFT covers for a Cardano collection",
		Long: "Enumerates the assets minted under a policy id, resolves each cover through its on-chain\n" +
			"metadata and downloads one deduplicated file per distinct image into work_dir.\n" +
			"work_dir defaults to the current directory and total_files to 10.",
		Version:       version,
		Args:          cobra.RangeArgs(1, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseArgs(args)
			if err != nil {
				return err
			}

			return runFn(cmd.Context(), a)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, args arguments) error {
	runID := storage.NewRunID()
	ctx = logctx.WithRunID(ctx, runID)
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "cover downloader starting...",
		"version", version,
		"log_level", cfg.LogLevel,
		"policy_id", args.PolicyID,
		"work_dir", args.WorkDir,
		"total_files", args.TotalFiles,
	)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInterval:   cfg.Telemetry.OTLPInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "failed to shutdown telemetry", "err", err)
		}
	}()

	if cfg.Telemetry.Enabled && cfg.Telemetry.MetricsAddr != "" {
		server := setupMetricsServer(ctx, tel, cfg.Telemetry.MetricsAddr)

		go func() {
			logger.InfoContext(ctx, "serving metrics", "addr", cfg.Telemetry.MetricsAddr)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "metrics server failed", "err", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.ErrorContext(ctx, "failed to gracefully shutdown the metrics server", "err", err)
			}
		}()
	}

	// =========================================================================
	// Start Content Store
	store, err := content.NewStore(args.WorkDir)
	if err != nil {
		return fmt.Errorf("failed to open work dir: %w", err)
	}

	// =========================================================================
	// Start Loop
	opts := []acquire.Option{
		acquire.WithMaxParallel(cfg.MaxParallel),
		acquire.WithTelemetry(tel),
		acquire.WithPrepare(func(ctx context.Context) error {
			sweepStaleTempFiles(ctx, store.Root(), cfg.StaleTempAge)

			return nil
		}),
	}

	ledger, closeLedger, err := setupLedger(ctx, cfg, tel, storage.Run{
		ID:        runID,
		PolicyID:  args.PolicyID,
		WorkDir:   store.Root(),
		Requested: args.TotalFiles,
	})
	if err != nil {
		return err
	}
	defer closeLedger()

	if ledger != nil {
		opts = append(opts, acquire.WithRecorder(ledger))
	}

	loop := acquire.NewLoop(buildSource(cfg, tel), buildFetcher(cfg, tel), store, opts...)

	summary, runErr := loop.Run(ctx, args.PolicyID, args.TotalFiles)
	if summary == nil {
		if ledger != nil {
			if err := ledger.Abort(context.WithoutCancel(ctx), runErr); err != nil {
				logger.ErrorContext(ctx, "failed to abort ledger run", "err", err)
			}
		}

		return runErr
	}

	// The summary is still reported when the run was interrupted.
	reportCtx := context.WithoutCancel(ctx)

	if ledger != nil {
		if err := ledger.Finish(reportCtx, summary); err != nil {
			logger.ErrorContext(ctx, "failed to finish ledger run", "err", err)
		}
	}

	printSummary(summary)
	notify(reportCtx, cfg, summary)

	return runErr
}

func buildSource(cfg *config.Config, tel *telemetry.Telemetry) acquire.MetadataSource {
	client := cardano.NewClient(cardano.ClientOptions{
		BaseURL:    cfg.Blockfrost.BaseURL,
		ProjectID:  cfg.Blockfrost.ProjectID,
		Timeout:    cfg.HTTPTimeout,
		RetryCount: cfg.HTTPRetries,
	})

	var registry cardano.Registry = cardano.NewHTTPRegistry(cfg.CollectionsURL, cfg.HTTPTimeout, cfg.HTTPRetries)
	if len(cfg.CollectionIDs) > 0 {
		registry = cardano.NewStaticRegistry(cfg.CollectionIDs...)
	}

	return acquire.NewInstrumentedSource(cardano.NewResolver(client, registry, cardano.MaxPageSize), tel, "blockfrost")
}

func buildFetcher(cfg *config.Config, tel *telemetry.Telemetry) acquire.ContentFetcher {
	gateway := ipfs.NewGateway(cfg.IPFS.GatewayURL, cfg.IPFS.ProjectID, cfg.FetchTimeout, cfg.MaxFileSize)

	// Each attempt is measured on its own; retries wrap the instrumented gateway.
	return acquire.NewRetryingFetcher(
		acquire.NewInstrumentedFetcher(gateway, tel, "ipfs"),
		cfg.FetchMaxAttempts,
		cfg.FetchRetryInterval,
	)
}

func setupLedger(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, run storage.Run) (*storage.Ledger, func(), error) {
	if cfg.LedgerPath == "" {
		return nil, func() {}, nil
	}

	db, err := sqlite.InitDB(cfg.LedgerPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	ledger, err := storage.BeginRun(ctx, sqlite.NewInstrumentedRunRepository(db, tel), run)
	if err != nil {
		db.Close()

		return nil, nil, err
	}

	return ledger, func() { db.Close() }, nil
}

// sweepStaleTempFiles removes staging files left behind by interrupted runs.
func sweepStaleTempFiles(ctx context.Context, dir string, olderThan time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	removed, err := cleanup.DeleteStaleTempFiles(ctx, dir, olderThan)
	if err != nil {
		logger.WarnContext(ctx, "failed to sweep stale temp files", "err", err)

		return
	}

	if removed > 0 {
		logger.InfoContext(ctx, "swept stale temp files", "count", removed)
	}
}

// setupMetricsServer exposes the Prometheus registry while the run is in progress.
func setupMetricsServer(ctx context.Context, tel *telemetry.Telemetry, addr string) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func printSummary(s *acquire.Summary) {
	fmt.Fprintf(os.Stderr, "policy %s: %s after %s\n", s.PolicyID, s.StopReason, s.Duration().Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "  attempted %d, downloaded %d of %d, already present %d, failed %d\n",
		s.State.Attempted, s.State.Succeeded, s.Requested, s.State.Duplicates, s.State.Failed)

	for _, rec := range s.Records {
		switch rec.Outcome {
		case acquire.OutcomeSuccess:
			fmt.Fprintf(os.Stderr, "  + %s %s (%s)\n", rec.AssetID, rec.Path, humanize.Bytes(uint64(rec.Bytes)))
		case acquire.OutcomeFailed:
			fmt.Fprintf(os.Stderr, "  ! %s\n", rec.Reason)
		}
	}

	if s.SourceErr != nil {
		fmt.Fprintf(os.Stderr, "  source error: %v\n", s.SourceErr)
	}
}

func notify(ctx context.Context, cfg *config.Config, s *acquire.Summary) {
	if cfg.DiscordWebhookURL == "" {
		return
	}

	var notif notifier.Notifier = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL, cfg.HTTPTimeout)

	if err := notif.Notify(ctx, notifier.FormatSummary(s)); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to send notification", "err", err)
	}
}

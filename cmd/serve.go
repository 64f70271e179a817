package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/analytics"
	"github.com/JakeFAU/linkgate/internal/api"
	"github.com/JakeFAU/linkgate/internal/browser"
	"github.com/JakeFAU/linkgate/internal/clock/system"
	"github.com/JakeFAU/linkgate/internal/config"
	"github.com/JakeFAU/linkgate/internal/escape"
	"github.com/JakeFAU/linkgate/internal/gatekeeper"
	"github.com/JakeFAU/linkgate/internal/id/uuid"
	"github.com/JakeFAU/linkgate/internal/logging"
	"github.com/JakeFAU/linkgate/internal/metrics"
	"github.com/JakeFAU/linkgate/internal/publisher/pubsub"
	"github.com/JakeFAU/linkgate/internal/storage/memory"
	"github.com/JakeFAU/linkgate/internal/storage/postgres"
	"github.com/JakeFAU/linkgate/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gatekeeper HTTP service",
		RunE:  runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg, logger := e.cfg, e.logger

	metrics.Init()
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.TracingConfig{
		ServiceName: logging.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if terr := tp.Shutdown(context.Background()); terr != nil {
			logger.Warn("tracer shutdown failed", zap.Error(terr))
		}
	}()

	clock := system.New()
	ids := uuid.New()

	sinks, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	recorder := analytics.NewRecorder(analytics.Config{
		QueueDepth:  cfg.Analytics.QueueDepth,
		SinkTimeout: cfg.Analytics.SinkTimeout,
		IDs:         ids,
		Logger:      logger.Named("analytics"),
	}, sinks.all...)

	server, err := api.NewServer(api.Deps{
		Gatekeeper: gatekeeper.New(cfg.GatekeeperSettings()),
		Detector:   browser.NewDefaultDetector(),
		Escape:     escape.New(cfg.EscapeSettings(), nil, escape.WithClock(clock), escape.WithLogger(logger.Named("escape"))),
		Recorder:   recorder,
		Reader:     sinks.reader,
		Ready:      sinks.ready,
		IDs:        ids,
		Clock:      clock,
		Logger:     logger.Named("api"),
	})
	if err != nil {
		return fmt.Errorf("build api server: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started",
			zap.Int("port", cfg.Server.Port),
			zap.Strings("sinks", sinks.names()),
			zap.Strings("protected_paths", cfg.Gatekeeper.ProtectedPaths),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Error("analytics recorder close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return runErr
}

type sinkSet struct {
	all    []analytics.Sink
	reader analytics.Reader
	ready  []api.ReadinessCheck
}

func (s sinkSet) names() []string {
	out := make([]string, 0, len(s.all))
	for _, sink := range s.all {
		out = append(out, sink.Name())
	}
	return out
}

// buildSinks opens every configured sink. Postgres is preferred as the
// reader for the analytics listing when both it and memory are enabled.
func buildSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) (sinkSet, error) {
	var set sinkSet
	if cfg.HasSink(config.SinkMemory) {
		store := memory.NewEventStore()
		set.all = append(set.all, store)
		set.reader = store
	}
	if cfg.HasSink(config.SinkPostgres) {
		store, err := postgres.NewEventStore(ctx, postgres.EventStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return sinkSet{}, fmt.Errorf("open postgres sink: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close(ctx)
			return sinkSet{}, fmt.Errorf("ensure analytics schema: %w", err)
		}
		set.all = append(set.all, store)
		set.reader = store
		set.ready = append(set.ready, store.Ping)
	}
	if cfg.HasSink(config.SinkPubSub) {
		sink, err := pubsub.NewEventSink(ctx, pubsub.Config{
			ProjectID: cfg.PubSub.ProjectID,
			TopicName: cfg.PubSub.TopicName,
		})
		if err != nil {
			for _, opened := range set.all {
				if c, ok := opened.(analytics.Closer); ok {
					_ = c.Close(ctx)
				}
			}
			return sinkSet{}, fmt.Errorf("open pubsub sink: %w", err)
		}
		set.all = append(set.all, sink)
	}
	if len(set.all) == 0 {
		logger.Warn("no analytics sinks configured; events are dropped")
	}
	return set, nil
}

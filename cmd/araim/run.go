package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/internal/archive"
	"github.com/signalsfoundry/araim-monitor/internal/config"
	"github.com/signalsfoundry/araim-monitor/internal/feed"
	"github.com/signalsfoundry/araim-monitor/internal/logging"
	"github.com/signalsfoundry/araim-monitor/internal/measurement"
	"github.com/signalsfoundry/araim-monitor/internal/measurement/sim"
	"github.com/signalsfoundry/araim-monitor/internal/observability"
	"github.com/signalsfoundry/araim-monitor/internal/runner"
	"github.com/signalsfoundry/araim-monitor/internal/server"
	"github.com/signalsfoundry/araim-monitor/internal/store"
	"github.com/signalsfoundry/araim-monitor/kb"
	"github.com/signalsfoundry/araim-monitor/model"
	"github.com/signalsfoundry/araim-monitor/timectrl"
)

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("grpc-addr", ":50051", "TCP address the monitor gRPC server listens on")
	f.String("metrics-addr", ":9090", "HTTP address for Prometheus /metrics")
	f.String("scenario", "", "path to a simulator scenario YAML")
	f.Duration("duration", 0, "stop after this much epoch time (0 runs until interrupted)")
	f.String("mode", "realtime", "epoch pacing: realtime or accelerated")
	f.String("log-level", "info", "debug, info, warn or error")
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor over a simulated or recorded measurement stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cfg.Logger())
		},
	}
	addRunFlags(cmd)
	return cmd
}

// sources bundles the measurement source with what the static feed and the
// epoch controller need from it.
type sources struct {
	source     measurement.Source
	start      time.Time
	satellites func() []model.SatelliteID
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	runID := logging.NewRunID()
	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingConfig(runID), log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	coreCfg, err := cfg.CoreConfig()
	if err != nil {
		return err
	}
	engine, err := core.NewEngine(coreCfg, core.WithLogger(log))
	if err != nil {
		return err
	}

	catalog := kb.NewCatalog()
	unsubscribe := catalog.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventISMUpdated && ev.ISM != nil {
			log.Info(context.Background(), "integrity support message updated",
				logging.Time("epoch", ev.ISM.Epoch),
				logging.Int("satellites", len(ev.ISM.Satellites)),
			)
		}
	})
	defer unsubscribe()

	src, err := buildSource(cfg, catalog, log)
	if err != nil {
		return err
	}

	fdeMetrics, err := observability.NewFDECollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init fde metrics: %w", err)
	}
	rpcMetrics, err := observability.NewRPCCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init rpc metrics: %w", err)
	}

	ismFeed, err := buildFeed(ctx, cfg, catalog, src, fdeMetrics, log)
	if err != nil {
		return err
	}

	exclusions, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	board := server.NewStatusBoard(runID)
	grpcSrv := server.New(board, server.WithLogger(log), server.WithRPCMetrics(rpcMetrics))

	runnerOpts := []runner.Option{
		runner.WithLogger(log),
		runner.WithMetrics(fdeMetrics),
		runner.WithPublisher(grpcSrv),
		runner.WithRunID(runID),
	}
	if cfg.Archive.DatabaseURL != "" {
		w, err := archive.Open(ctx, cfg.Archive.DatabaseURL, log)
		if err != nil {
			return err
		}
		w.Start()
		defer w.Stop()
		runnerOpts = append(runnerOpts, runner.WithArchive(w))
	}

	r, err := runner.New(engine, src.source, ismFeed, exclusions, runnerOpts...)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}
	log.Info(ctx, "starting monitor gRPC server", logging.String("addr", cfg.Server.GRPCAddr))
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()
	defer grpcSrv.Stop()

	metricsSrv := serveMetrics(cfg.Server.MetricsAddr, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	mode, err := cfg.Mode()
	if err != nil {
		return err
	}
	start, err := cfg.StartTime()
	if err != nil {
		return err
	}
	if start.IsZero() {
		start = src.start
	}
	if start.IsZero() {
		start = time.Now().UTC().Truncate(cfg.Run.Interval)
	}

	log.Info(ctx, "monitor running",
		logging.String("run_id", runID),
		logging.Time("start", start),
		logging.Duration("interval", cfg.Run.Interval),
		logging.Duration("duration", cfg.Run.Duration),
		logging.String("mode", cfg.Run.Mode),
	)
	ctrl := timectrl.NewEpochController(start, cfg.Run.Interval, mode)
	if err := r.Run(ctx, ctrl, cfg.Run.Duration); err != nil {
		return err
	}
	log.Info(ctx, "monitor stopped", logging.String("run_id", runID))
	return nil
}

func buildSource(cfg *config.Config, catalog *kb.Catalog, log logging.Logger) (*sources, error) {
	switch cfg.Source.Kind {
	case "static":
		f, err := os.Open(cfg.Source.Snapshots)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", core.ErrConfig, cfg.Source.Snapshots, err)
		}
		defer f.Close()
		snaps, err := measurement.LoadSnapshots(f)
		if err != nil {
			return nil, err
		}
		static := measurement.NewStaticSource(snaps)
		log.Info(context.Background(), "loaded recorded snapshots",
			logging.String("path", cfg.Source.Snapshots),
			logging.Int("count", len(snaps)),
		)
		return &sources{source: static, start: static.Start(), satellites: static.Satellites}, nil
	default:
		sc, err := sim.LoadScenario(cfg.Source.Scenario)
		if err != nil {
			return nil, err
		}
		simulator, err := sim.New(sc, catalog, sim.WithLogger(log))
		if err != nil {
			return nil, err
		}
		return &sources{source: simulator, start: simulator.Start(), satellites: catalogIDs(catalog)}, nil
	}
}

func catalogIDs(catalog *kb.Catalog) func() []model.SatelliteID {
	return func() []model.SatelliteID {
		recs := catalog.ListSatellites()
		ids := make([]model.SatelliteID, 0, len(recs))
		for _, rec := range recs {
			ids = append(ids, rec.ID)
		}
		return ids
	}
}

func buildFeed(ctx context.Context, cfg *config.Config, catalog *kb.Catalog, src *sources, metrics *observability.FDECollector, log logging.Logger) (feed.Feed, error) {
	if cfg.Feed.Kind == "websocket" {
		client := feed.NewClient(cfg.Feed.URL, catalog,
			feed.WithClientLogger(log),
			feed.WithMetrics(metrics),
			feed.WithMaxAge(cfg.Feed.MaxAge),
		)
		go func() {
			if err := client.Run(ctx); err != nil {
				log.Error(ctx, "ism feed exited", logging.Err(err))
			}
		}()
		return client, nil
	}
	defaults, err := cfg.DefaultIntegrity()
	if err != nil {
		return nil, err
	}
	return feed.NewStatic(defaults, cfg.ConstellationFaults(), cfg.IntegrityOverrides(), src.satellites)
}

func buildStore(ctx context.Context, cfg *config.Config) (store.ExclusionStore, func(), error) {
	if cfg.Store.Kind == "redis" {
		rs, err := store.NewRedis(ctx, cfg.Store.RedisURL, cfg.Store.Prefix, cfg.Store.TTL)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	}
	return store.NewMemory(), func() {}, nil
}

func serveMetrics(addr string, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(prometheus.DefaultGatherer))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stelliform/go-oracled/internal/config"
	"github.com/stelliform/go-oracled/internal/core/cost"
	"github.com/stelliform/go-oracled/internal/core/oracle"
	"github.com/stelliform/go-oracled/internal/crypto/feedsig"
	"github.com/stelliform/go-oracled/internal/metrics"
	"github.com/stelliform/go-oracled/internal/rpc"
	"github.com/stelliform/go-oracled/internal/storage/archive"
	"github.com/stelliform/go-oracled/internal/storage/kv"
)

// serverCmd starts the daemon: the storage substrate, the oracle
// engine, and the HTTP JSON-RPC + WebSocket surface.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the oracle daemon",
	Long: `Start the oracled server which provides:
- HTTP JSON-RPC API for price queries and feed administration
- WebSocket endpoint for real-time price update subscriptions
- Prometheus metrics and a health check endpoint`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Running oracled without a subcommand starts the server.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServer(cmd, args)
	}
}

// multiSink fans engine events out to every registered sink.
type multiSink []oracle.EventSink

func (s multiSink) PublishUpdate(event oracle.UpdateEvent) {
	for _, sink := range s {
		sink.PublishUpdate(event)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := kv.Open(cfg.Node.Backend, kv.Options{
		Path:       filepath.Join(cfg.Node.DataDir, "store"),
		Compressor: cfg.Node.Compression,
		NoSync:     cfg.Node.NoSync,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("storage opened",
		zap.String("backend", store.Name()),
		zap.String("data_dir", cfg.Node.DataDir))

	m := metrics.New(nil)

	server, err := rpc.NewServer(cfg.Server.AdminNetworks)
	if err != nil {
		return err
	}

	var sinks multiSink
	var hub *rpc.Hub
	if cfg.Server.Websocket {
		hub = rpc.NewHub(server.Registry(), m, logger)
		defer hub.Close()
		sinks = append(sinks, hub)
	}

	var arch *archive.Archive
	if cfg.Archive.Enabled {
		arch, err = archive.Open(cfg.Archive.Driver, cfg.Archive.DSN, logger)
		if err != nil {
			return err
		}
		defer arch.Close()
		sinks = append(sinks, arch)
		logger.Info("archive enabled", zap.String("driver", cfg.Archive.Driver))
	}

	engineOpts := []oracle.Option{
		oracle.WithInitialExpirationPeriod(cfg.Oracle.InitialExpirationDays),
	}
	if cfg.Node.RecordCache > 0 {
		engineOpts = append(engineOpts, oracle.WithRecordCache(cfg.Node.RecordCache))
	}
	if len(sinks) > 0 {
		engineOpts = append(engineOpts, oracle.WithEventSink(sinks))
	}
	engine := oracle.New(store, engineOpts...)

	if err := bootstrap(ctx, cfg, engine, logger); err != nil {
		return err
	}

	var verifier *feedsig.Verifier
	if cfg.Server.FeedPublicKey != "" {
		verifier, err = feedsig.NewVerifier(cfg.Server.FeedPublicKey)
		if err != nil {
			return err
		}
		logger.Info("update signatures required")
	}

	rpc.Services = &rpc.ServiceContainer{
		Engine:       engine,
		Costs:        cost.NewModel(store, engine),
		Verifier:     verifier,
		Hub:          hub,
		Metrics:      m,
		Log:          logger,
		StartTime:    time.Now(),
		BuildVersion: buildVersion,
		Shutdown:     stop,
	}

	mux := http.NewServeMux()
	mux.Handle("/", server)
	mux.Handle("/rpc", server)
	if hub != nil {
		mux.Handle("/ws", hub)
	}
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"oracled"}`))
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("server listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return sweepLoop(groupCtx, store, m, cfg.Node.SweepInterval, logger)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = group.Wait()
	logger.Info("server stopped")
	return err
}

// bootstrap applies the one-time engine initialization from the
// config file. An already initialized store is left untouched.
func bootstrap(ctx context.Context, cfg *config.Config, engine *oracle.Oracle, logger *zap.Logger) error {
	if !cfg.Oracle.Bootstrap {
		return nil
	}
	initialized, err := engine.Initialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		logger.Debug("oracle already initialized, skipping bootstrap")
		return nil
	}

	engineCfg, err := cfg.Oracle.EngineConfig()
	if err != nil {
		return err
	}
	if err := engine.Configure(ctx, engineCfg); err != nil {
		return err
	}
	logger.Info("oracle initialized",
		zap.String("base_asset", engineCfg.BaseAsset.String()),
		zap.Uint32("decimals", engineCfg.Decimals),
		zap.Uint32("resolution_ms", engineCfg.ResolutionMs),
		zap.Int("assets", len(engineCfg.Assets)))
	return nil
}

// sweepLoop periodically purges expired records from the store.
func sweepLoop(ctx context.Context, store kv.Store, m *metrics.Metrics, interval time.Duration, logger *zap.Logger) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := store.Sweep(ctx)
			if err != nil {
				logger.Warn("sweep failed", zap.Error(err))
				continue
			}
			m.SweepRuns.Inc()
			m.SweepRemoved.Add(float64(removed))
			if removed > 0 {
				logger.Debug("sweep removed expired records", zap.Int("count", removed))
			}
		}
	}
}

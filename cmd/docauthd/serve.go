package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrEthical07/docauth"
	"github.com/MrEthical07/docauth/credstore/memory"
	"github.com/MrEthical07/docauth/credstore/postgres"
	"github.com/MrEthical07/docauth/logging"
	promexport "github.com/MrEthical07/docauth/metrics/export/prometheus"
	"github.com/MrEthical07/docauth/notify"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	bindFlags(cmd.Flags())
	return cmd
}

// runtime owns everything a built engine depends on.
type runtime struct {
	engine  *docauth.Engine
	logger  *zap.Logger
	closers []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// buildRuntime wires the store, ledgers, notifier and engine from cfg.
func buildRuntime(ctx context.Context, cfg daemonConfig) (*runtime, error) {
	logger, err := logging.New(cfg.Log.Environment, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("section", "log").Wrap(err)
	}
	rt := &runtime{logger: logger}
	rt.closers = append(rt.closers, func() { _ = logger.Sync() })

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		rt.Close()
		return nil, err
	}

	builder := docauth.New().WithConfig(engineCfg).WithLogger(logger)

	if cfg.Database.URL != "" {
		pool, err := postgres.Connect(ctx, cfg.Database.URL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		builder.WithCredentialStore(postgres.New(pool))
	} else {
		logger.Warn("no database configured; credentials are kept in memory")
		builder.WithCredentialStore(memory.New())
	}

	client, err := redisClient(cfg.Redis, logger, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if client != nil {
		builder.WithRedis(client)
	}

	switch cfg.Notify.Driver {
	case "kafka":
		n, err := notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers:      cfg.Notify.Kafka.Brokers,
			Topic:        cfg.Notify.Kafka.Topic,
			WriteTimeout: cfg.Notify.Kafka.WriteTimeout,
		}, logger)
		if err != nil {
			rt.Close()
			return nil, oops.Code("CONFIG_INVALID").With("section", "notify").Wrap(err)
		}
		rt.closers = append(rt.closers, func() { _ = n.Close() })
		builder.WithNotifier(n)
	case "", "log":
		builder.WithNotifier(notify.NewLogNotifier(logger))
	default:
		rt.Close()
		return nil, oops.Code("CONFIG_INVALID").Errorf("unknown notify driver %q", cfg.Notify.Driver)
	}

	engine, err := builder.Build()
	if err != nil {
		rt.Close()
		return nil, oops.Code("ENGINE_BUILD_FAILED").Wrap(err)
	}
	rt.engine = engine
	rt.closers = append(rt.closers, engine.Close)

	for _, w := range engineCfg.Lint() {
		logger.Warn("config lint", zap.String("code", w.Code), zap.String("severity", w.Severity.String()), zap.String("message", w.Message))
	}

	return rt, nil
}

func redisClient(cfg redisConfig, logger *zap.Logger, rt *runtime) (redis.UniversalClient, error) {
	addrs := cfg.Addrs
	if cfg.Embedded {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, oops.Code("REDIS_START_FAILED").Wrap(err)
		}
		rt.closers = append(rt.closers, mr.Close)
		logger.Warn("using embedded miniredis; state is lost on exit", zap.String("addr", mr.Addr()))
		addrs = []string{mr.Addr()}
	}
	if len(addrs) == 0 {
		return nil, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	return client, nil
}

func runServe(ctx context.Context, cfg daemonConfig) error {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	var metrics http.Handler
	if cfg.Metrics.Enabled {
		switch cfg.Metrics.Exporter {
		case "", "prometheus":
			metrics, err = promexport.Handler(promexport.NewCollector(rt.engine))
			if err != nil {
				return oops.Code("METRICS_INIT_FAILED").Wrap(err)
			}
		case "otlp":
			shutdown, err := startOTLPMetrics(ctx, cfg.Metrics, rt.engine)
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
				defer cancel()
				if err := shutdown(flushCtx); err != nil {
					rt.logger.Warn("metrics shutdown", zap.Error(err))
				}
			}()
			rt.logger.Info("exporting metrics over otlp", zap.String("endpoint", cfg.Metrics.OTLPEndpoint))
		default:
			return oops.Code("CONFIG_INVALID").Errorf("unknown metrics.exporter %q", cfg.Metrics.Exporter)
		}
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      newRouter(rt.engine, rt.logger, cfg.Metrics.Path, metrics),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
	}

	rt.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("HTTP_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

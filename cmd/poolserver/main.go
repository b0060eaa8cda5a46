package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jzx17/gopool/internal/config"
	"github.com/jzx17/gopool/internal/logging"
	"github.com/jzx17/gopool/internal/server"
	"github.com/jzx17/gopool/pkg/metrics"
	"github.com/jzx17/gopool/pkg/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "poolserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	addr := flag.String("addr", "", "listen address, overrides server.host/port")
	workers := flag.Int("workers", 0, "number of workers, overrides pool.size")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *workers != 0 {
		cfg.Pool.Size = *workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	listenAddr := cfg.Server.Addr()
	if *addr != "" {
		listenAddr = *addr
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var poolMetrics *metrics.PoolMetrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		poolMetrics, err = metrics.NewPoolMetrics(cfg.Metrics.Namespace, reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	// in-flight requests outlive the signal; they are cancelled only once the
	// shutdown deadline passes
	taskCtx, cancelTasks := context.WithCancel(context.Background())
	defer cancelTasks()

	pool, err := worker.NewFixedWorkerPoolWithContext(taskCtx, &worker.FixedWorkerPoolConfig{
		PoolSize: cfg.Pool.Size,
		Name:     cfg.Pool.Name,
		Logger:   logger,
		Metrics:  poolMetrics,
	})
	if err != nil {
		return err
	}

	handler := server.NewHandler(server.HandlerConfig{
		PagesDir:      cfg.Server.PagesDir,
		SleepDuration: cfg.Server.Sleep(),
		ReadTimeout:   cfg.Server.Timeout(),
		Logger:        logger,
	})
	srv := server.New(pool, handler, cfg.Server.MaxConnections, logger)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		_ = pool.Close()
		return fmt.Errorf("failed to bind to address: %w", err)
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-served:
		if err != nil {
			logger.Error("accept loop stopped", "error", err)
		}
	}

	_ = srv.Close()

	shutdownCtx := context.Background()
	if d := cfg.Pool.Timeout(); d > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, d)
		defer cancel()
	}

	shutdownErr := pool.Shutdown(shutdownCtx)
	if errors.Is(shutdownErr, context.DeadlineExceeded) {
		logger.Warn("shutdown deadline passed, cancelling in-flight requests", "error", shutdownErr)
		cancelTasks()
		shutdownErr = pool.Close()
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelMetrics()
		_ = metricsServer.Shutdown(metricsCtx)
	}

	stats := pool.Stats()
	logger.Info("stopped", "completed", stats.Completed, "failed", stats.Failed)
	return shutdownErr
}

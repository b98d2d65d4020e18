package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pairlend/config"
	"pairlend/observability/logging"
	"pairlend/observability/metrics"
	"pairlend/services/simulator"
	"pairlend/storage"
)

func main() {
	configPath := flag.String("config", "./node.toml", "Path to simulator configuration file")
	scenarioPath := flag.String("scenario", "", "Path to the YAML scenario to run")
	printResults := flag.Bool("print", false, "Print step results as JSON on completion")
	flag.Parse()

	if err := run(*configPath, *scenarioPath, *printResults); err != nil {
		fmt.Fprintf(os.Stderr, "lendsim: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, scenarioPath string, printResults bool) error {
	if scenarioPath == "" {
		return errors.New("-scenario is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("lendsim", cfg.LogEnv,
		logging.WithLevel(logging.ParseLevel(cfg.LogLevel)),
		logging.WithFile(cfg.LogFile))

	sc, err := simulator.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}
	admin, reserves, err := cfg.Roles.Addresses()
	if err != nil {
		return err
	}
	risk, err := cfg.Risk.Parameters()
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddress != "" {
		shutdown := serveMetrics(cfg.MetricsAddress, logger)
		defer shutdown()
	}

	runner, err := simulator.New(db, simulator.Options{
		ChainID:       cfg.ChainID,
		Admin:         admin,
		ReservesAdmin: reserves,
		Risk:          risk,
		TWAPWindow:    cfg.Oracle.TWAPWindowSeconds,
		SampleCap:     cfg.Oracle.SampleCap,
		Logger:        logger,
		Metrics:       metrics.Lending(),
	})
	if err != nil {
		return err
	}
	results, runErr := runner.Run(ctx, sc)
	if printResults {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(results); err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
	}
	return runErr
}

func openDatabase(dir string) (storage.Database, error) {
	if dir == "" {
		return storage.NewMemDB(), nil
	}
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}
	return db, nil
}

// serveMetrics exposes the default Prometheus registry and returns a function
// that stops the listener.
func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listener started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dualstake/config"
	"dualstake/core"
	"dualstake/core/types"
	"dualstake/observability/logging"
	"dualstake/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	metricsAddr := flag.String("metrics", "", "Listen address for the Prometheus metrics endpoint (empty disables it)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DUALSTAKE_ENV"))
	logger := logging.Setup("dualstaked", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if env != "" {
		cfg.Env = env
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.New(cfg, db, logger, logEmitter{logger})
	if err != nil {
		logger.Error("failed to start core", slog.Any("error", err))
		os.Exit(1)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
		logger.Info("metrics endpoint listening", "addr", *metricsAddr)
	}

	tariffs, err := node.Tariffs()
	if err != nil {
		logger.Error("failed to read tariff catalog", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("node started",
		"service", cfg.Service,
		"data_dir", cfg.DataDir,
		"tariffs", len(tariffs),
		"genesis_authority", core.GenesisAuthority().Hex(),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Info("shutting down", "signal", fmt.Sprint(received))
}

// logEmitter mirrors committed protocol events into the structured log.
type logEmitter struct {
	log *slog.Logger
}

func (l logEmitter) Emit(evt *types.Event) {
	if evt == nil {
		return
	}
	attrs := make([]any, 0, len(evt.Attributes)*2)
	for k, v := range evt.Attributes {
		attrs = append(attrs, k, v)
	}
	l.log.Info("event "+evt.Type, attrs...)
}

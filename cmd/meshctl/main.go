// Command meshctl runs the mesh controller: the periodic monitor loop,
// the best-node selection API, the optional reverse proxy, and the
// control-plane mutators.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nodemesh/meshlb/internal/config"
	"github.com/nodemesh/meshlb/internal/control"
	"github.com/nodemesh/meshlb/internal/history"
	"github.com/nodemesh/meshlb/internal/logging"
	"github.com/nodemesh/meshlb/internal/metrics"
	"github.com/nodemesh/meshlb/internal/monitor"
	"github.com/nodemesh/meshlb/internal/proxy"
	"github.com/nodemesh/meshlb/internal/state"
)

func main() {
	os.Exit(run())
}

func run() int {
	configName := flag.String("config", "meshctl", "config file base name, searched in . and ./config")
	listen := flag.String("listen", "", "control API listen address, overrides config")
	proxyListen := flag.String("proxy-listen", "", "reverse-proxy listen address, overrides config")
	logLevel := flag.String("log-level", "", "log level, overrides config")
	stateDir := flag.String("state-dir", "", "directory for the history database, overrides config")
	flag.Parse()

	cfg, err := config.LoadController(*configName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *proxyListen != "" {
		cfg.ProxyListen = *proxyListen
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *stateDir != "" {
		cfg.StateDir = *stateDir
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build logger:", err)
		return 1
	}
	defer log.Sync() //nolint:errcheck

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Error("create state dir", zap.Error(err))
		return 1
	}

	st := state.New(cfg.Nodes, cfg.PanicRedirect)

	hist, err := history.Open(filepath.Join(cfg.StateDir, "history.db"))
	if err != nil {
		log.Error("open history store", zap.Error(err))
		return 1
	}
	defer hist.Close()

	m := metrics.NewController()
	mon := monitor.New(st, hist, m, log)
	api := control.New(st, hist, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go mon.Run(ctx)

	controlMux := http.NewServeMux()
	api.Routes(controlMux)
	controlSrv := &http.Server{Addr: cfg.Listen, Handler: controlMux}

	errCh := make(chan error, 2)
	go func() {
		log.Info("control API listening", zap.String("addr", cfg.Listen))
		if err := controlSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("control API: %w", err)
		}
	}()

	var proxySrv *http.Server
	if cfg.ProxyListen != "" {
		p := proxy.New(st, m, log)
		proxySrv = &http.Server{Addr: cfg.ProxyListen, Handler: http.HandlerFunc(p.ServeHTTP)}
		go func() {
			log.Info("reverse proxy listening", zap.String("addr", cfg.ProxyListen))
			if err := proxySrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("reverse proxy: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("listener failed", zap.Error(err))
		stop()
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := controlSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("control API shutdown", zap.Error(err))
	}
	if proxySrv != nil {
		if err := proxySrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("reverse proxy shutdown", zap.Error(err))
		}
	}
	return 0
}

// Command meshagent runs the node agent: the one-time startup capacity
// benchmark and the /stats, /connect, /disconnect HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nodemesh/meshlb/internal/agent/capacity"
	"github.com/nodemesh/meshlb/internal/agent/httpapi"
	"github.com/nodemesh/meshlb/internal/agent/profile"
	"github.com/nodemesh/meshlb/internal/agent/session"
	"github.com/nodemesh/meshlb/internal/config"
	"github.com/nodemesh/meshlb/internal/logging"
	"github.com/nodemesh/meshlb/internal/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	configName := flag.String("config", "meshagent", "config file base name, searched in . and ./config")
	listen := flag.String("listen", "", "stats listen address, overrides config")
	logLevel := flag.String("log-level", "", "log level, overrides config")
	stateDir := flag.String("state-dir", "", "directory for the persisted profile, overrides config")
	flag.Parse()

	cfg, err := config.LoadAgent(*configName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}
	if *listen != "" {
		cfg.Listen = *listen
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

	m := metrics.NewAgent()

	p, err := profile.Load(cfg.StateDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("load profile", zap.Error(err))
			return 1
		}
		p = benchmarkAndPersist(cfg, m, log)
	}

	m.MaxUsers.Set(float64(p.MaxUsers))
	users := session.NewCounter(p.MaxUsers)

	agent := httpapi.New(p, users, m, log)
	mux := http.NewServeMux()
	agent.Routes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: cfg.Listen, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("agent listening", zap.String("addr", cfg.Listen), zap.String("server_name", p.ServerName), zap.Int("max_users", p.MaxUsers))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("listener failed", zap.Error(err))
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	return 0
}

// benchmarkAndPersist runs the capacity estimator once and writes the
// resulting profile to disk so subsequent boots skip it entirely.
func benchmarkAndPersist(cfg *config.Agent, m *metrics.Agent, log *zap.Logger) *profile.Profile {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	maxUsers := capacity.Estimate(ctx, cfg.StateDir, log, func(axis string, d time.Duration) {
		m.BenchmarkDuration.WithLabelValues(axis).Set(d.Seconds())
	})

	p := &profile.Profile{
		ServerName: profile.GenerateServerName(cfg.Region),
		Region:     cfg.Region,
		MaxUsers:   maxUsers,
		Port:       cfg.WebPort,
	}
	if err := profile.Save(cfg.StateDir, p); err != nil {
		log.Warn("persist profile", zap.Error(err))
	}
	return p
}

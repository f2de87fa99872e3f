// Command plugin-host spawns plugin binaries, connects them over stdio,
// optionally accepts remote plugins over WebSocket and serves the
// experimental host API to them.
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

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/machinefabric/pluginbus-go/bifaci"
	"github.com/machinefabric/pluginbus-go/config"
	"github.com/machinefabric/pluginbus-go/hostapi"
	"github.com/machinefabric/pluginbus-go/logging"
)

func main() {
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plugin-host: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Service: "plugin-host",
		Output:  os.Stderr,
		Pretty:  cfg.LogPretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("plugin host failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	metrics := bifaci.NewMetrics("pluginbus", reg)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer srv.Close()
	}

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	opts = append(opts, bifaci.WithLogger(logger), bifaci.WithMetrics(metrics))

	hostWin := bifaci.NewLocalWindow("host")
	defer hostWin.Close()
	host := bifaci.NewHost(hostWin, opts...)

	runsAPI := hostapi.NewRunsAPI(host)
	coreAPI := hostapi.NewCoreAPI(host, func() string { return cfg.URLHash })
	runsAPI.Init()
	coreAPI.Init()

	for _, p := range cfg.Plugins {
		if err := host.SpawnPlugin(ctx, p.Name, p.Path); err != nil {
			_ = host.Close()
			return fmt.Errorf("spawn %s: %w", p.Name, err)
		}
	}

	if cfg.WSAddr != "" {
		srv := serveWebSocket(cfg.WSAddr, host, logger)
		defer srv.Close()
	}

	pingPlugins(ctx, host, cfg.CallTimeout, logger)

	runsAPI.Update([]hostapi.Experiment{{ID: "default", Runs: runsFromNames(cfg.Runs)}})
	loaded := time.Now().UnixMilli()
	coreAPI.SetLastLoadedTime(&loaded)

	logger.Info().Strs("plugins", host.Plugins()).Msg("plugin host ready")
	<-ctx.Done()

	logger.Info().Msg("shutting down")
	return host.Shutdown(context.Background())
}

func runsFromNames(names []string) []hostapi.Run {
	runs := make([]hostapi.Run, len(names))
	for i, name := range names {
		runs[i] = hostapi.Run{ID: name, Name: name}
	}
	return runs
}

func pingPlugins(ctx context.Context, host *bifaci.Host, timeout time.Duration, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	results, err := host.BroadcastSettled(ctx, "ping", nil)
	if err != nil {
		logger.Warn().Err(err).Msg("ping failed")
		return
	}
	for _, r := range results {
		if r.Err != nil {
			logger.Warn().Err(r.Err).Str("plugin", r.Plugin).Msg("plugin did not answer ping")
			continue
		}
		logger.Debug().Str("plugin", r.Plugin).Str("reply", r.Payload.String()).Msg("plugin answered ping")
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return listen("metrics", addr, mux, logger)
}

// serveWebSocket accepts plugins at /plugins?plugin=<name>.
func serveWebSocket(addr string, host *bifaci.Host, logger zerolog.Logger) *http.Server {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	mux := http.NewServeMux()
	mux.Handle("/plugins", host.WebSocketHandler(upgrader))
	return listen("websocket", addr, mux, logger)
}

func listen(what, addr string, handler http.Handler, logger zerolog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msgf("%s server failed", what)
		}
	}()
	logger.Info().Str("addr", addr).Msgf("serving %s", what)
	return srv
}

// Command echo-plugin is a minimal plugin: it echoes requests, answers
// pings and logs host notifications. It speaks the channel on stdin and
// stdout, so all logging goes to stderr. With PLUGINBUS_HOST_URL set it
// dials the host over WebSocket instead.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/machinefabric/pluginbus-go/bifaci"
	"github.com/machinefabric/pluginbus-go/config"
	"github.com/machinefabric/pluginbus-go/logging"
	"github.com/machinefabric/pluginbus-go/pluginlib"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("echo-plugin: " + err.Error() + "\n")
		os.Exit(2)
	}
	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Service: "echo-plugin",
		Output:  os.Stderr,
		Pretty:  cfg.LogPretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := cfg.Options()
	if err != nil {
		logger.Fatal().Err(err).Msg("bad configuration")
	}
	opts = append(opts, bifaci.WithLogger(logger))

	var r io.Reader = os.Stdin
	var w io.Writer = os.Stdout
	if cfg.HostURL != "" {
		conn, err := bifaci.DialWebSocket(ctx, cfg.HostURL, "echo-plugin", bifaci.Limits{MaxEnvelope: cfg.MaxEnvelope})
		if err != nil {
			logger.Fatal().Err(err).Str("url", cfg.HostURL).Msg("could not reach host")
		}
		defer conn.Close()
		r, w = conn, conn
	}

	err = bifaci.ServeStream(ctx, "echo-plugin", r, w, func(g *bifaci.Guest) error {
		g.Listen("echo", func(ctx context.Context, payload bifaci.Payload) (interface{}, error) {
			return payload, nil
		})
		g.Listen("ping", func(ctx context.Context, payload bifaci.Payload) (interface{}, error) {
			return "pong", nil
		})

		lib := pluginlib.New(g)
		lib.Runs.SetOnRunsChanged(func(runs []string) {
			logger.Info().Strs("runs", runs).Msg("runs changed")
		})
		lib.Core.SetOnDataReload(func() {
			logger.Info().Msg("host data reloaded")
		})

		go func() {
			data, err := lib.Core.GetURLPluginData(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("could not fetch URL data")
				return
			}
			logger.Info().Interface("url_data", data).Msg("URL data")
		}()
		return nil
	}, opts...)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("plugin stopped")
		os.Exit(1)
	}
}

package config

import (
	"fmt"
	"log/slog"

	"github.com/jpalmerr/lightbridge"
	"github.com/jpalmerr/lightbridge/engine/player"
	"github.com/jpalmerr/lightbridge/engine/process"
)

// BuildOptions converts parsed configuration into SDK options.
//
// The logger is passed through so the bridge logs with the caller's handler.
// Option validation happens in [lightbridge.New].
func BuildOptions(cfg *Config, logger *slog.Logger) []lightbridge.Option {
	opts := []lightbridge.Option{
		lightbridge.WithListenAddr(cfg.Listen),
		lightbridge.WithVerbose(cfg.Verbose),
		lightbridge.WithEngineConfig(cfg.Engine.Config),
		lightbridge.WithRefreshInterval(cfg.RefreshInterval.Duration()),
		lightbridge.WithCallTimeout(cfg.CallTimeout.Duration()),
	}

	if cfg.MaxConnections != nil {
		opts = append(opts, lightbridge.WithMaxConnections(*cfg.MaxConnections))
	}
	if cfg.OutboundBuffer > 0 {
		opts = append(opts, lightbridge.WithOutboundBuffer(cfg.OutboundBuffer))
	}
	if logger != nil {
		opts = append(opts, lightbridge.WithLogger(logger))
	}

	return opts
}

// BuildEngine creates the engine selected by cfg.Engine.
//
// version is reported by the player's "sysinfo?" reply.
func BuildEngine(cfg *Config, version string, logger *slog.Logger) (lightbridge.Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("engine", cfg.Engine.Kind)

	switch cfg.Engine.Kind {
	case KindPlayer, "":
		opts := []player.Option{
			player.WithVersion(version),
			player.WithLogger(logger),
		}
		if cfg.Engine.AllowShutdown {
			opts = append(opts, player.WithShutdown(player.PowerOff))
		}
		return player.New(opts...), nil

	case KindProcess:
		if len(cfg.Engine.Command) == 0 {
			return nil, fmt.Errorf("engine.command is required with kind: process")
		}
		return process.New(cfg.Engine.Command[0], cfg.Engine.Command[1:],
			process.WithLogger(logger),
		), nil

	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Engine.Kind)
	}
}

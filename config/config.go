// Package config provides YAML configuration parsing for lightbridge.
//
// This package enables running lightbridge as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	listen: 0.0.0.0:8080
//	verbose: false
//	refresh_interval: 200ms
//	call_timeout: 5s
//	max_connections: 32
//
//	engine:
//	  kind: player
//	  config: /etc/tglight.toml
//	  allow_shutdown: true
//
// Or, to drive an external engine executable:
//
//	engine:
//	  kind: process
//	  config: ${TGLIGHT_CONFIG:-tglight.toml}
//	  command: [/usr/local/bin/tglight-engine, --fps, "60"]
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultListen is the address the bridge binds when none is configured.
	DefaultListen = "0.0.0.0:8080"

	// DefaultEngineConfig is the engine configuration path passed to Run.
	DefaultEngineConfig = "tglight.toml"

	// minRefreshInterval keeps per-connection polling from flooding the engine.
	minRefreshInterval = 50 * time.Millisecond
)

// Engine kinds.
const (
	KindPlayer  = "player"
	KindProcess = "process"
)

// Config is the root configuration structure for lightbridge.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Listen is the host:port to bind. Defaults to 0.0.0.0:8080.
	// Supports environment variable substitution.
	Listen string `yaml:"listen"`

	// Verbose enables debug logging and is passed to the engine.
	Verbose bool `yaml:"verbose"`

	// RefreshInterval is the per-connection status polling period.
	// Accepts duration strings like "200ms", "1s". Defaults to 200ms.
	RefreshInterval Duration `yaml:"refresh_interval"`

	// CallTimeout bounds a single engine command. Defaults to 5s.
	CallTimeout Duration `yaml:"call_timeout"`

	// MaxConnections limits concurrent websocket clients. 0 means unlimited.
	// Defaults to 100 when omitted.
	MaxConnections *int `yaml:"max_connections"`

	// OutboundBuffer is the per-connection message queue length.
	// Defaults to 64 when omitted or zero.
	OutboundBuffer int `yaml:"outbound_buffer"`

	// Engine selects and configures the engine.
	Engine EngineConfig `yaml:"engine"`
}

// EngineConfig selects the engine implementation.
type EngineConfig struct {
	// Kind is "player" (built-in) or "process" (external executable).
	// Defaults to "player".
	Kind string `yaml:"kind"`

	// Config is the path handed to the engine's run loop.
	// Defaults to tglight.toml. Supports environment variable substitution.
	Config string `yaml:"config"`

	// Command is the executable and its arguments (kind: process only).
	// Each element supports environment variable substitution.
	Command []string `yaml:"command"`

	// AllowShutdown lets clients power the host down with "shutdown"
	// (kind: player only).
	AllowShutdown bool `yaml:"allow_shutdown"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded after parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in Listen, Engine.Config and
// Engine.Command. Defaults are applied for every omitted field.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = Duration(200 * time.Millisecond)
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = Duration(5 * time.Second)
	}
	if c.MaxConnections == nil {
		n := 100
		c.MaxConnections = &n
	}
	if c.OutboundBuffer == 0 {
		c.OutboundBuffer = 64
	}
	if c.Engine.Kind == "" {
		c.Engine.Kind = KindPlayer
	}
	if c.Engine.Config == "" {
		c.Engine.Config = DefaultEngineConfig
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	listen, err := expandEnvVars(c.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	c.Listen = listen
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen: invalid address %q: %w", c.Listen, err)
	}

	if c.RefreshInterval.Duration() < minRefreshInterval {
		return fmt.Errorf("refresh_interval must be at least %s, got %s",
			minRefreshInterval, c.RefreshInterval.Duration())
	}
	if c.CallTimeout.Duration() <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %s", c.CallTimeout.Duration())
	}
	if *c.MaxConnections < 0 {
		return fmt.Errorf("max_connections cannot be negative, got %d", *c.MaxConnections)
	}
	if c.OutboundBuffer < 0 {
		return fmt.Errorf("outbound_buffer cannot be negative, got %d", c.OutboundBuffer)
	}

	return c.Engine.expandAndValidate()
}

func (e *EngineConfig) expandAndValidate() error {
	cfgPath, err := expandEnvVars(e.Config)
	if err != nil {
		return fmt.Errorf("engine.config: %w", err)
	}
	if cfgPath == "" {
		return errors.New("engine.config: expands to an empty path")
	}
	e.Config = cfgPath

	switch e.Kind {
	case KindPlayer:
		if len(e.Command) > 0 {
			return errors.New("engine.command is only valid with kind: process")
		}
	case KindProcess:
		if len(e.Command) == 0 {
			return errors.New("engine.command is required with kind: process")
		}
		if e.AllowShutdown {
			return errors.New("engine.allow_shutdown is only valid with kind: player")
		}
		for i, arg := range e.Command {
			expanded, err := expandEnvVars(arg)
			if err != nil {
				return fmt.Errorf("engine.command[%d]: %w", i, err)
			}
			e.Command[i] = expanded
		}
		if e.Command[0] == "" {
			return errors.New("engine.command[0]: executable path is required")
		}
	default:
		return fmt.Errorf("engine.kind must be %q or %q, got %q", KindPlayer, KindProcess, e.Kind)
	}

	return nil
}

package player

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the subset of tglight.toml the player understands.
//
//	throttle-fps = 30
//	patterns = ["rainbow", "glow-red", "sparkle"]
//	pattern-duration = "15s"
//
//	[[strand]]
//	type = "openpixel"
//	addr = "10.0.0.20"
//
// Keys the player does not understand are ignored so the same file can be
// shared with a hardware engine.
type fileConfig struct {
	ThrottleFPS     int            `toml:"throttle-fps"`
	Patterns        []string       `toml:"patterns"`
	PatternDuration duration       `toml:"pattern-duration"`
	Strands         []strandConfig `toml:"strand"`
}

type strandConfig struct {
	Type string `toml:"type"`
	Addr string `toml:"addr"`
}

// duration decodes TOML strings such as "15s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = duration(parsed)
	return nil
}

func (d duration) Duration() time.Duration {
	return time.Duration(d)
}

// loadFile decodes path. A missing file yields an error wrapping
// os.ErrNotExist.
func loadFile(path string) (*fileConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("player config: %w", err)
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse player config %s: %w", path, err)
	}

	if fc.PatternDuration.Duration() < 0 {
		return nil, fmt.Errorf("player config %s: pattern-duration cannot be negative", path)
	}
	for i, p := range fc.Patterns {
		if p == "" {
			return nil, fmt.Errorf("player config %s: patterns[%d] is empty", path, i)
		}
	}
	return &fc, nil
}

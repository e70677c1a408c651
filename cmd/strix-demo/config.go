package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/casualjim/strix/pkg/stdx"
)

type config struct {
	Name     string   `toml:"name"`
	LogLevel string   `toml:"log_level"`
	Broker   string   `toml:"broker"`
	Topic    string   `toml:"topic"`
	Interval duration `toml:"interval"`
	Latency  duration `toml:"tool_latency"`

	// SlowSubscriber bounds how long publishing an event may hold up the
	// scheduler when a local subscriber falls behind.
	SlowSubscriber duration `toml:"slow_subscriber_timeout"`

	// Questions are asked one per tick, in order.
	Questions []string `toml:"questions"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func defaultConfig() config {
	return config{
		Name:           "strix-demo",
		LogLevel:       "warn",
		Broker:         "local",
		Topic:          "strix.demo",
		Interval:       duration{200 * time.Millisecond},
		Latency:        duration{50 * time.Millisecond},
		SlowSubscriber: duration{10 * time.Millisecond},
		Questions: []string{
			"what is the capital of France",
			"search the weather in Paris",
			"search flights to Lisbon and search hotels in Lisbon",
		},
	}
}

// loadConfig reads the optional TOML file over the defaults; STRIX_LOG_LEVEL
// wins over both.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.LogLevel = stdx.Or(os.Getenv("STRIX_LOG_LEVEL"), cfg.LogLevel)
	cfg.Name = stdx.Or(cfg.Name, "strix-demo")
	cfg.Topic = stdx.Or(cfg.Topic, "strix.demo")
	if len(cfg.Questions) == 0 {
		return cfg, fmt.Errorf("at least one question is required")
	}
	if cfg.Interval.Duration <= 0 {
		return cfg, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if cfg.SlowSubscriber.Duration <= 0 {
		return cfg, fmt.Errorf("slow_subscriber_timeout must be positive, got %s", cfg.SlowSubscriber)
	}
	return cfg, nil
}

func (c config) level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelWarn
	}
	return lvl
}

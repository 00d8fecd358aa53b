package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zhllxt/asio2-sub011/rpc"
)

// Config holds the command settings. Flags override values from the file.
type Config struct {
	Mode        string   `json:"mode"`
	Addr        string   `json:"addr"`
	MetricsAddr string   `json:"metricsAddr"`
	Loops       int      `json:"loops"`
	Codec       string   `json:"codec"`
	CallTimeout Duration `json:"callTimeout"`
	MaxHandlers int      `json:"maxHandlers"`
	Calls       int      `json:"calls"`
	Concurrency int      `json:"concurrency"`
	LogLevel    string   `json:"logLevel"`
}

// Duration reads "1.5s" style strings from JSON.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func defaultConfig() Config {
	return Config{
		Mode:        "server",
		Addr:        "127.0.0.1:3456",
		MetricsAddr: "127.0.0.1:9100",
		Codec:       "json",
		CallTimeout: Duration{rpc.DefaultCallTimeout},
		Calls:       10000,
		Concurrency: 64,
		LogLevel:    "info",
	}
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // user supplied path
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func parseConfig(args []string, stderr io.Writer) (Config, error) {
	cfg := defaultConfig()
	fs := flag.NewFlagSet("asio2", flag.ContinueOnError)
	fs.SetOutput(stderr)

	path := fs.String("config", "", "JSON config file")
	mode := fs.String("mode", cfg.Mode, "server or bench")
	addr := fs.String("addr", cfg.Addr, "rpc listen or dial address")
	metricsAddr := fs.String("metrics", cfg.MetricsAddr, "prometheus listen address, empty disables")
	loops := fs.Int("loops", cfg.Loops, "io loops, 0 means one per CPU")
	codec := fs.String("codec", cfg.Codec, "json or gob")
	timeout := fs.Duration("timeout", cfg.CallTimeout.Duration, "call timeout")
	maxHandlers := fs.Int("max-handlers", cfg.MaxHandlers, "concurrent handlers, 0 means unlimited")
	calls := fs.Int("calls", cfg.Calls, "bench: total calls")
	concurrency := fs.Int("c", cfg.Concurrency, "bench: calls in flight")
	level := fs.String("log-level", cfg.LogLevel, "logrus level")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *path != "" {
		if err := loadConfigFile(*path, &cfg); err != nil {
			return cfg, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "addr":
			cfg.Addr = *addr
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "loops":
			cfg.Loops = *loops
		case "codec":
			cfg.Codec = *codec
		case "timeout":
			cfg.CallTimeout.Duration = *timeout
		case "max-handlers":
			cfg.MaxHandlers = *maxHandlers
		case "calls":
			cfg.Calls = *calls
		case "c":
			cfg.Concurrency = *concurrency
		case "log-level":
			cfg.LogLevel = *level
		}
	})
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Mode {
	case "server", "bench":
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if _, err := c.codec(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Mode == "bench" && (c.Calls <= 0 || c.Concurrency <= 0) {
		return fmt.Errorf("bench needs positive calls and concurrency")
	}
	return nil
}

func (c Config) codec() (rpc.Codec, error) {
	switch c.Codec {
	case "", "json":
		return rpc.JSONCodec{}, nil
	case "gob":
		return rpc.GobCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", c.Codec)
}

func newLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	return l
}

package config

import (
	"fmt"
	"strings"

	"github.com/loykin/warden/internal/logger"
	"github.com/loykin/warden/internal/outcome"
	"github.com/loykin/warden/internal/status"
	"github.com/loykin/warden/internal/supervisor"
	"github.com/spf13/viper"
)

const (
	// DefaultListen is the HTTP listen address used when [server].listen
	// is not set.
	DefaultListen = ":8000"
)

// Config is the top-level TOML structure.
//
//	[worker]
//	command = "python worker.py"
//	workdir = "/opt/worker"
//	env = ["DISPLAY=:99", "SELENIUM_HEADLESS=true"]
//	env_files = ["/etc/warden/worker.env"]
//	stop_timeout = "5s"
//	start_window = "0s"
//
//	[worker.log]
//	path = "/var/log/warden/worker.log"
//	max_size_mb = 10
//	max_backups = 3
//	max_age_days = 7
//	compress = true
//
//	[outcomes]
//	dir = "/var/lib/warden"
//	recent_limit = 5
//
//	[server]
//	listen = ":8000"
//
//	[metrics]
//	enabled = true
//
//	[history]
//	dsn = "sqlite:///var/lib/warden/history.db"
//
//	[log]
//	level = "info"
//	format = "text"
type Config struct {
	Worker   supervisor.Config `toml:"worker" mapstructure:"worker"`
	Outcomes OutcomesConfig    `toml:"outcomes" mapstructure:"outcomes"`
	Server   ServerConfig      `toml:"server" mapstructure:"server"`
	Metrics  MetricsConfig     `toml:"metrics" mapstructure:"metrics"`
	History  HistoryConfig     `toml:"history" mapstructure:"history"`
	Log      logger.SlogConfig `toml:"log" mapstructure:"log"`
}

type OutcomesConfig struct {
	Dir         string `toml:"dir" mapstructure:"dir"`
	SuccessFile string `toml:"success_file" mapstructure:"success_file"`
	FailureFile string `toml:"failure_file" mapstructure:"failure_file"`
	RecentLimit int    `toml:"recent_limit" mapstructure:"recent_limit"`
}

// StoreConfig converts the outcomes section into the store's own config.
func (c OutcomesConfig) StoreConfig() outcome.Config {
	return outcome.Config{Dir: c.Dir, SuccessFile: c.SuccessFile, FailureFile: c.FailureFile}
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// Load reads and validates a warden TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("outcomes.dir", ".")
	v.SetDefault("outcomes.recent_limit", status.DefaultRecentLimit)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.normalize()
	return &c, nil
}

// Validate checks the parts that cannot be defaulted away.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Worker.Command) == "" {
		return fmt.Errorf("[worker] requires command")
	}
	if c.Worker.StopTimeout < 0 {
		return fmt.Errorf("[worker] stop_timeout cannot be negative")
	}
	if c.Worker.StartWindow < 0 {
		return fmt.Errorf("[worker] start_window cannot be negative")
	}
	for i, kv := range c.Worker.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("[worker] env[%d] %q is invalid, must be in KEY=VALUE form", i, kv)
		}
	}
	if c.Outcomes.RecentLimit < 0 {
		return fmt.Errorf("[outcomes] recent_limit cannot be negative")
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		return fmt.Errorf("[server] requires listen address")
	}
	return nil
}

func (c *Config) normalize() {
	if bp := strings.TrimSpace(c.Server.BasePath); bp != "" {
		if !strings.HasPrefix(bp, "/") {
			bp = "/" + bp
		}
		c.Server.BasePath = strings.TrimRight(bp, "/")
	} else {
		c.Server.BasePath = ""
	}
}

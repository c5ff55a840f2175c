package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the bootstrap configuration read from the config file.
//
// Scheduling itself (mode, interval, fixed times, rotation) is NOT here:
// it lives in the persisted scheduler state and is changed through the
// activation surface. The file only covers process-level concerns.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	API      APIConfig      `json:"api,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// APITimeout bounds each Bot API call (Go duration string, default "30s").
	APITimeout string `json:"api_timeout,omitempty"`

	// DryRun logs sends instead of calling the Bot API. Useful without a
	// token or when rehearsing a pool.
	DryRun bool `json:"dry_run,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite, Go duration string
}

// DispatchConfig tunes fan-out within a cycle. Hot-reloadable.
type DispatchConfig struct {
	Workers    int `json:"workers,omitempty"`      // default 4
	RatePerSec int `json:"rate_per_sec,omitempty"` // default 1
}

// APIConfig controls the admin JSON listener used by the dashboard
// collaborator. Prefer binding to localhost; there is no auth layer.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8090"
}

// Validate rejects configs that cannot possibly run.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" && !c.Telegram.DryRun {
		return errors.New("telegram.token is required (or set telegram.dry_run)")
	}
	if _, err := ParseDurationField("telegram.api_timeout", c.Telegram.APITimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Dispatch.Workers < 0 || c.Dispatch.RatePerSec < 0 {
		return errors.New("dispatch: workers and rate_per_sec must be >= 0")
	}
	return nil
}

// Package app wires the autopost services together and owns their
// lifecycle: config, logging, storage, dispatch, the poster core and the
// admin API.
package app

import (
	"context"
	"time"

	"autopost/internal/adapters/telegram"
	"autopost/internal/api"
	"autopost/internal/config"
	"autopost/internal/dispatch"
	"autopost/internal/metrics"
	"autopost/internal/poster"
	"autopost/internal/storage"
	"autopost/pkg/logx"
)

type App struct {
	log    logx.Logger
	logSvc *logx.Service

	cfgMgr *config.Manager
	store  storage.Store
	fan    *dispatch.Fanout
	poster *poster.Service
	api    *api.Server
	met    *metrics.Metrics
}

func New(cfgPath string) (*App, error) {
	boot := logx.NewConsole("info")

	mgr := config.NewManager(cfgPath, boot)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	client, err := buildClient(cfg, log)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	fan := dispatch.NewFanout(client, dispatch.Config{
		Workers:    cfg.Dispatch.Workers,
		RatePerSec: cfg.Dispatch.RatePerSec,
	}, log.With(logx.String("comp", "dispatch")))

	met := metrics.New()
	p := poster.New(store, fan, met, log.With(logx.String("comp", "poster")))

	a := &App{
		log:    log,
		logSvc: logSvc,
		cfgMgr: mgr,
		store:  store,
		fan:    fan,
		poster: p,
		met:    met,
	}
	if cfg.API.Enabled {
		a.api = api.NewServer(api.Config{Addr: cfg.API.Addr}, p, store, met,
			log.With(logx.String("comp", "api")))
	}
	return a, nil
}

func buildClient(cfg *config.Config, log logx.Logger) (dispatch.Client, error) {
	if cfg.Telegram.DryRun {
		dry := log.With(logx.String("comp", "dry_run"))
		return dispatch.Func(func(ctx context.Context, dest storage.Destination, msg storage.Message) error {
			dry.Info("dry-run send",
				logx.Int64("dest_id", dest.ID),
				logx.String("dest", dest.Name),
				logx.String("preview", poster.Preview(msg)))
			return nil
		}), nil
	}
	timeout, _ := config.ParseDurationOrDefault("telegram.api_timeout", cfg.Telegram.APITimeout, 30*time.Second)
	return telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		APITimeout: timeout,
	}, log.With(logx.String("comp", "telegram")))
}

// Poster exposes the activation surface for embedding callers.
func (a *App) Poster() *poster.Service { return a.poster }

// Start restores scheduling, serves the admin API and begins watching the
// config file for tuning changes.
func (a *App) Start(ctx context.Context) error {
	if err := a.poster.Start(ctx); err != nil {
		return err
	}
	if a.api != nil {
		go func() {
			if err := a.api.Start(); err != nil {
				a.log.Error("admin api failed", logx.Err(err))
			}
		}()
	}
	go func() {
		if err := a.cfgMgr.Watch(ctx, a.applyConfig); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	a.log.Info("autopost started")
	return nil
}

// applyConfig handles hot-reloadable settings. Storage driver and telegram
// credentials require a restart and are deliberately not re-applied.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.fan.Apply(dispatch.Config{
		Workers:    cfg.Dispatch.Workers,
		RatePerSec: cfg.Dispatch.RatePerSec,
	})
}

func (a *App) Stop(ctx context.Context) error {
	a.poster.Stop()
	if a.api != nil {
		if err := a.api.Shutdown(ctx); err != nil {
			a.log.Warn("admin api shutdown", logx.Err(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("autopost stopped")
	return a.logSvc.Close()
}

package main

import (
	"fmt"

	"github.com/gfhdhytghd/oqqwall/internal/alert"
	"github.com/gfhdhytghd/oqqwall/internal/alert/discord"
	"github.com/gfhdhytghd/oqqwall/internal/alert/slack"
	"github.com/gfhdhytghd/oqqwall/internal/config"
	"github.com/gfhdhytghd/oqqwall/internal/crashlog"
	"github.com/gfhdhytghd/oqqwall/internal/credential"
	"github.com/gfhdhytghd/oqqwall/internal/db"
	"github.com/gfhdhytghd/oqqwall/internal/dispatch"
	"github.com/gfhdhytghd/oqqwall/internal/logx"
	"github.com/gfhdhytghd/oqqwall/internal/media"
	"github.com/gfhdhytghd/oqqwall/internal/notify"
	"github.com/gfhdhytghd/oqqwall/internal/staging"
	"github.com/gfhdhytghd/oqqwall/internal/transport"
	"gorm.io/gorm"
)

// app holds the process-wide collaborators shared by every command.
type app struct {
	cfg    *config.Config
	log    logx.Logger
	db     *gorm.DB
	store  *staging.Store
	locker *staging.Locker
	crash  *crashlog.Log
}

// loadApp loads configuration, builds the logger and opens the database.
func loadApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logx.New(logx.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console, File: cfg.Logging.File})
	if err != nil {
		return nil, err
	}
	gdb, err := db.Connect(cfg.DB)
	if err != nil {
		log.Close()
		return nil, err
	}
	return &app{
		cfg:    cfg,
		log:    log,
		db:     gdb,
		store:  staging.NewStore(gdb, cfg.GroupNames()),
		locker: staging.NewLocker(gdb, cfg.Dispatch.LockTimeout),
		crash:  crashlog.New(cfg.Paths.CrashLog),
	}, nil
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	a.log.Close()
}

// newEngine builds a dispatch engine over cfg. Reloads call it again with
// the new snapshot; the locker is shared so in-process serialization holds
// across engines.
func (a *app) newEngine(cfg *config.Config) *dispatch.Engine {
	var renewer credential.Renewer
	if cfg.Renewal.Command != "" {
		renewer = credential.CommandRenewer{
			Template: cfg.Renewal.Command,
			Dir:      cfg.Paths.CookieDir,
			Timeout:  cfg.Dispatch.RenewTimeout,
		}
	}

	var tr transport.Transport = transport.Socket{Timeout: cfg.Dispatch.SendTimeout}
	if cfg.Transport.Mode == "command" {
		tr = transport.Command{Helper: cfg.Transport.Helper, Timeout: cfg.Dispatch.SendTimeout}
	}

	var notifier notify.Notifier
	if cfg.Notify.Command != "" {
		notifier = notify.Command{Template: cfg.Notify.Command, Timeout: cfg.Dispatch.SendTimeout}
	}

	deps := dispatch.Deps{
		Store:     staging.NewStore(a.db, cfg.GroupNames()),
		Locker:    a.locker,
		Guard:     credential.NewGuard(cfg.Paths.CookieDir, renewer, a.log),
		Transport: tr,
		Media:     media.Cache{Dir: cfg.Paths.CacheDir},
		Crash:     a.crash,
		Notifier:  notifier,
		Alerts:    newAlerts(cfg, a.log),
		Log:       a.log,
	}
	return dispatch.New(dispatch.FromConfig(cfg), deps, dispatch.Options{
		SendTimeout:  cfg.Dispatch.SendTimeout,
		RenewTimeout: cfg.Dispatch.RenewTimeout,
	})
}

// newAlerts builds the alert fanout from whichever chat sinks are configured.
func newAlerts(cfg *config.Config, log logx.Logger) *alert.Fanout {
	var sinks []alert.Sink
	if cfg.Alerts.Slack.Enabled() {
		s, err := slack.New(slack.Opts{Token: cfg.Alerts.Slack.Token, Channel: cfg.Alerts.Slack.Channel})
		if err != nil {
			log.Warn("slack alerts disabled", logx.Err(err))
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.Alerts.Discord.Enabled() {
		d, err := discord.New(discord.Opts{Token: cfg.Alerts.Discord.Token, Channel: cfg.Alerts.Discord.Channel})
		if err != nil {
			log.Warn("discord alerts disabled", logx.Err(err))
		} else {
			sinks = append(sinks, d)
		}
	}
	return alert.NewFanout(cfg.Alerts.RatePerMinute, log, sinks...)
}

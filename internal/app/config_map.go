package app

import (
	"strings"
	"time"

	"easytrack/internal/config"
	"easytrack/internal/notifier"
	"easytrack/internal/observability/ops"
	"easytrack/internal/scheduler"
	"easytrack/internal/storage"
	telegram "easytrack/internal/transport/telegram/adapter"
	logx "easytrack/pkg/logx"
)

const defaultSQLitePath = "./data/easytrack.db"

// The map* helpers turn the file representation into component configs.
// Durations were already checked by config.Validate, but errors are still
// returned rather than assumed away.

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alerts: logx.AlertsConfig{
			Enabled:    l.Alerts.Enabled,
			ChatID:     l.Alerts.ChatID,
			ThreadID:   l.Alerts.ThreadID,
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	t := cfg.Telegram
	httpTimeout, err := config.ParseDurationOrDefault("telegram.http_timeout", t.HTTPTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	flood, err := config.ParseDurationOrDefault("telegram.max_flood_wait", t.MaxFloodWait, 30*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:        strings.TrimSpace(t.Token),
		APIURL:       strings.TrimSpace(t.APIURL),
		HTTPTimeout:  httpTimeout,
		MaxFloodWait: flood,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = defaultSQLitePath
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	tick, err := config.ParseDurationOrDefault("scheduler.tick", s.Tick, time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	retention, err := config.ParseDurationField("scheduler.outbox.retention", s.Outbox.Retention)
	if err != nil {
		return scheduler.Config{}, err
	}
	pruneEvery, err := config.ParseDurationField("scheduler.outbox.prune_every", s.Outbox.PruneEvery)
	if err != nil {
		return scheduler.Config{}, err
	}
	align := true
	if s.AlignToMinute != nil {
		align = *s.AlignToMinute
	}
	return scheduler.Config{
		Tick:            tick,
		AlignToMinute:   align,
		Candidates:      scheduler.CandidateMode(s.Candidates.Mode),
		Timezones:       s.Candidates.Timezones,
		MatchMode:       scheduler.MatchMode(s.MatchMode),
		OutboxBatch:     s.Outbox.Batch,
		OutboxRetention: retention,
		PruneEvery:      pruneEvery,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	timeout, err := config.ParseDurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:  n.RatePerSec,
		Burst:       n.Burst,
		SendTimeout: timeout,
		ParseMode:   n.ParseMode,
		MessageKey:  n.MessageKey,
		History:     n.History,
	}, nil
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	o := cfg.Ops
	return ops.Config{
		Enabled:      o.Enabled,
		Addr:         o.Addr,
		Token:        o.Token,
		AllowTrigger: o.AllowTrigger,
		Pprof:        o.Pprof,
	}
}

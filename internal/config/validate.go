package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"easytrack/internal/reminder"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their json names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags first, then the semantic rules tags cannot
// express: duration syntax, IANA zones and driver requirements. All problems
// are returned joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	durations := []struct {
		path, raw string
	}{
		{"telegram.http_timeout", cfg.Telegram.HTTPTimeout},
		{"telegram.max_flood_wait", cfg.Telegram.MaxFloodWait},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"scheduler.outbox.retention", cfg.Scheduler.Outbox.Retention},
		{"scheduler.outbox.prune_every", cfg.Scheduler.Outbox.PruneEvery},
		{"notifier.send_timeout", cfg.Notifier.SendTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if tick, err := ParseDurationField("scheduler.tick", cfg.Scheduler.Tick); err != nil {
		errs = append(errs, err)
	} else if tick != 0 && (tick < time.Second || tick > time.Minute) {
		// A tick longer than a minute would skip whole minutes.
		errs = append(errs, fmt.Errorf("scheduler.tick: %s out of range [1s, 1m]", tick))
	} else if tick != 0 && tick < time.Minute && cfg.Scheduler.MatchMode != "watermark" {
		// Exact matching would hit the same local minute on every tick.
		errs = append(errs, fmt.Errorf("scheduler.tick: %s below 1m requires match_mode watermark", tick))
	}

	for i, tz := range cfg.Scheduler.Candidates.Timezones {
		if _, err := reminder.LoadZone(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.candidates.timezones[%d]: %w", i, err))
		}
	}
	if cfg.Scheduler.Candidates.Mode == "static" && len(cfg.Scheduler.Candidates.Timezones) == 0 {
		// Omitted means the built-in list, which is fine; an explicit empty
		// list would never fire anything.
		if cfg.Scheduler.Candidates.Timezones != nil {
			errs = append(errs, errors.New("scheduler.candidates.timezones: static mode with no zones"))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres (or set EASYTRACK_STORAGE_DSN)"))
		}
	}

	if !cfg.Telegram.DryRun && strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token: required unless telegram.dry_run (or set EASYTRACK_TELEGRAM_TOKEN)"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

func fieldError(fe validator.FieldError) error {
	// Namespace is "Config.section.field"; drop the root type name.
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Errorf("%s: failed %s=%s (got %v)", ns, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("%s: failed %s (got %v)", ns, fe.Tag(), fe.Value())
}

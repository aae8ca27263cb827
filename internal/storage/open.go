package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "easytrack/pkg/logx"
)

// Open initializes the configured driver and applies pending migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		st, err := openSQLite(ctx, cfg, log.With(logx.String("driver", "sqlite")))
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres", "postgresql", "pgx":
		st, err := openPostgres(ctx, cfg, log.With(logx.String("driver", "postgres")))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func dayArg(d *time.Weekday) any {
	if d == nil {
		return nil
	}
	return int(*d)
}

// dayKey mirrors COALESCE(day_of_week, -1) in the unique index.
func dayKey(d *time.Weekday) int {
	if d == nil {
		return -1
	}
	return int(*d)
}

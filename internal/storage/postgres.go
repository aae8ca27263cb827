package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"easytrack/internal/reminder"
	logx "easytrack/pkg/logx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const pgScheduleCols = `id, owner_id, day_of_week, fire_minute, timezone, is_active, last_fired_at, created_at, updated_at`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
	now  func() time.Time
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (*postgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage: postgres dsn is required")
	}
	if err := migratePostgres(dsn, log); err != nil {
		return nil, err
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &postgresStore{pool: pool, log: log, now: time.Now}, nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrClosed
	}
	return s.pool.Ping(ctx)
}

func (s *postgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func scanPgSchedule(r scanner) (reminder.Schedule, error) {
	var (
		sc     reminder.Schedule
		day    *int32
		minute int32
	)
	if err := r.Scan(&sc.ID, &sc.OwnerID, &day, &minute, &sc.Timezone, &sc.Active, &sc.LastFiredAt, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return sc, err
	}
	if day != nil {
		sc.Day = reminder.Weekly(time.Weekday(*day))
	}
	sc.At = reminder.Clock(minute)
	if sc.LastFiredAt != nil {
		t := sc.LastFiredAt.UTC()
		sc.LastFiredAt = &t
	}
	sc.CreatedAt = sc.CreatedAt.UTC()
	sc.UpdatedAt = sc.UpdatedAt.UTC()
	return sc, nil
}

func (s *postgresStore) querySchedules(ctx context.Context, query string, args ...any) ([]reminder.Schedule, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reminder.Schedule
	for rows.Next() {
		sc, err := scanPgSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *postgresStore) Create(ctx context.Context, n reminder.NewSchedule) (reminder.Schedule, error) {
	n, err := n.Validate()
	if err != nil {
		return reminder.Schedule{}, err
	}
	now := s.now()
	sc, err := scanPgSchedule(s.pool.QueryRow(ctx,
		`INSERT INTO notification_schedules(owner_id, day_of_week, fire_minute, timezone, is_active, created_at, updated_at)
		 VALUES($1, $2, $3, $4, TRUE, $5, $5)
		 RETURNING `+pgScheduleCols,
		n.OwnerID, dayArg(n.Day), n.At.Minutes(), n.Timezone, now,
	))
	switch pgCode(err) {
	case "":
		if err != nil {
			return reminder.Schedule{}, fmt.Errorf("storage: create: %w", err)
		}
		return sc, nil
	case pgForeignKeyViolation:
		return reminder.Schedule{}, fmt.Errorf("storage: create: owner %d: %w", n.OwnerID, ErrUnknownOwner)
	case pgUniqueViolation:
		sc, err = scanPgSchedule(s.pool.QueryRow(ctx,
			`SELECT `+pgScheduleCols+` FROM notification_schedules
			 WHERE owner_id = $1 AND COALESCE(day_of_week, -1) = $2 AND fire_minute = $3`,
			n.OwnerID, dayKey(n.Day), n.At.Minutes(),
		))
		if err != nil {
			return reminder.Schedule{}, fmt.Errorf("storage: create: reload: %w", err)
		}
		s.log.Debug("schedule already exists",
			logx.Int64("schedule_id", sc.ID),
			logx.Int64("owner_id", sc.OwnerID),
			logx.Bool("created", false),
		)
		return sc, nil
	default:
		return reminder.Schedule{}, fmt.Errorf("storage: create: %w", err)
	}
}

func (s *postgresStore) ListByOwner(ctx context.Context, ownerID int64) ([]reminder.Schedule, error) {
	out, err := s.querySchedules(ctx,
		`SELECT `+pgScheduleCols+` FROM notification_schedules WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("storage: list by owner: %w", err)
	}
	return out, nil
}

func (s *postgresStore) ListActive(ctx context.Context) ([]reminder.Schedule, error) {
	out, err := s.querySchedules(ctx,
		`SELECT `+pgScheduleCols+` FROM notification_schedules WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list active: %w", err)
	}
	return out, nil
}

func (s *postgresStore) Get(ctx context.Context, id int64) (reminder.Schedule, bool, error) {
	sc, err := scanPgSchedule(s.pool.QueryRow(ctx,
		`SELECT `+pgScheduleCols+` FROM notification_schedules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return reminder.Schedule{}, false, nil
	}
	if err != nil {
		return reminder.Schedule{}, false, fmt.Errorf("storage: get: %w", err)
	}
	return sc, true, nil
}

func (s *postgresStore) SetActive(ctx context.Context, id int64, active bool) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notification_schedules SET is_active = $1, updated_at = $2 WHERE id = $3 AND is_active <> $1`,
		active, s.now(), id)
	if err != nil {
		return false, fmt.Errorf("storage: set active: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notification_schedules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("storage: delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) FindDue(ctx context.Context, at reminder.Clock, day time.Weekday, tz string) ([]reminder.Schedule, error) {
	out, err := s.querySchedules(ctx,
		`SELECT `+pgScheduleCols+` FROM notification_schedules
		 WHERE is_active AND timezone = $1 AND fire_minute = $2
		   AND (day_of_week IS NULL OR day_of_week = $3)
		 ORDER BY id`,
		tz, at.Minutes(), int(day))
	if err != nil {
		return nil, fmt.Errorf("storage: find due %s %s: %w", tz, at, err)
	}
	return out, nil
}

func (s *postgresStore) ActiveTimezones(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT timezone FROM notification_schedules WHERE is_active ORDER BY timezone`)
	if err != nil {
		return nil, fmt.Errorf("storage: active timezones: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("storage: active timezones: %w", err)
	}
	return out, nil
}

func (s *postgresStore) MarkFired(ctx context.Context, id int64, occurrence time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notification_schedules SET last_fired_at = $1
		 WHERE id = $2 AND (last_fired_at IS NULL OR last_fired_at < $1)`,
		occurrence.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("storage: mark fired: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) UpsertOwner(ctx context.Context, o reminder.Owner) (reminder.Owner, error) {
	if o.ID == 0 {
		return reminder.Owner{}, fmt.Errorf("storage: upsert owner: %w", reminder.ErrInvalidOwner)
	}
	var out reminder.Owner
	err := s.pool.QueryRow(ctx,
		`INSERT INTO owners(id, chat_id, thread_id, language, created_at, updated_at)
		 VALUES($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   chat_id = EXCLUDED.chat_id,
		   thread_id = EXCLUDED.thread_id,
		   language = EXCLUDED.language,
		   updated_at = EXCLUDED.updated_at
		 RETURNING id, chat_id, thread_id, language, created_at, updated_at`,
		o.ID, o.ChatID, o.ThreadID, o.Lang(), s.now(),
	).Scan(&out.ID, &out.ChatID, &out.ThreadID, &out.Language, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return reminder.Owner{}, fmt.Errorf("storage: upsert owner: %w", err)
	}
	return out, nil
}

func (s *postgresStore) GetOwner(ctx context.Context, id int64) (reminder.Owner, bool, error) {
	var o reminder.Owner
	err := s.pool.QueryRow(ctx,
		`SELECT id, chat_id, thread_id, language, created_at, updated_at FROM owners WHERE id = $1`, id,
	).Scan(&o.ID, &o.ChatID, &o.ThreadID, &o.Language, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return reminder.Owner{}, false, nil
	}
	if err != nil {
		return reminder.Owner{}, false, fmt.Errorf("storage: get owner: %w", err)
	}
	return o, true, nil
}

func (s *postgresStore) DeleteOwner(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM owners WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("storage: delete owner: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) EnqueueOutbox(ctx context.Context, m reminder.OutboxMessage) (reminder.OutboxMessage, error) {
	if strings.TrimSpace(m.Text) == "" {
		return reminder.OutboxMessage{}, errors.New("storage: enqueue outbox: empty text")
	}
	now := s.now()
	if m.NotBefore.IsZero() {
		m.NotBefore = now
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO outbox(owner_id, text, parse_mode, not_before, created_at)
		 VALUES($1, $2, $3, $4, $5) RETURNING id, not_before, created_at`,
		m.OwnerID, m.Text, nullStr(m.ParseMode), m.NotBefore, now,
	).Scan(&m.ID, &m.NotBefore, &m.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return reminder.OutboxMessage{}, fmt.Errorf("storage: enqueue outbox: owner %d: %w", m.OwnerID, ErrUnknownOwner)
		}
		return reminder.OutboxMessage{}, fmt.Errorf("storage: enqueue outbox: %w", err)
	}
	m.SentAt = nil
	return m, nil
}

func (s *postgresStore) PendingOutbox(ctx context.Context, now time.Time, limit int) ([]reminder.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, text, COALESCE(parse_mode, ''), not_before, attempts, COALESCE(last_error, ''), created_at
		 FROM outbox WHERE sent_at IS NULL AND not_before <= $1
		 ORDER BY not_before, id LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: pending outbox: %w", err)
	}
	defer rows.Close()
	var out []reminder.OutboxMessage
	for rows.Next() {
		var m reminder.OutboxMessage
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Text, &m.ParseMode, &m.NotBefore, &m.Attempts, &m.LastError, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: pending outbox: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *postgresStore) MarkOutboxSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox SET sent_at = $1, attempts = attempts + 1, last_error = NULL WHERE id = $2 AND sent_at IS NULL`,
		at, id)
	if err != nil {
		return false, fmt.Errorf("storage: mark outbox sent: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) MarkOutboxFailed(ctx context.Context, id int64, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = $1 WHERE id = $2 AND sent_at IS NULL`,
		nullStr(reason), id)
	if err != nil {
		return fmt.Errorf("storage: mark outbox failed: %w", err)
	}
	return nil
}

func (s *postgresStore) PruneOutbox(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("storage: prune outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

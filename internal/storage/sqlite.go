package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"easytrack/internal/reminder"
	logx "easytrack/pkg/logx"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

const sqliteScheduleCols = `id, owner_id, day_of_week, fire_minute, timezone, is_active, last_fired_at, created_at, updated_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*sqliteStore, error) {
	p := strings.TrimSpace(cfg.Path)
	if p == "" {
		return nil, errors.New("storage: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + p +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(" + strconv.FormatInt(busy.Milliseconds(), 10) + ")"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// One writer at a time; also keeps the connection (and its pragmas) warm.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// migrate applies embedded migrations/sqlite/NNNN_name.sql files in order,
// recording each version in schema_migrations.
func (s *sqliteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}

	names, err := fs.Glob(sqliteMigrations, "migrations/sqlite/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		base := path.Base(name)
		v, err := strconv.Atoi(strings.SplitN(base, "_", 2)[0])
		if err != nil {
			return fmt.Errorf("storage: migration %s: bad version", base)
		}
		if v <= current {
			continue
		}
		body, err := sqliteMigrations.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("storage: migration %s: %w", base, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, v, s.now().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("storage: migration %s: %w", base, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("storage: migration %s: %w", base, err)
		}
		s.log.Info("migration applied", logx.String("name", base), logx.Int("version", v))
	}
	return nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSchedule(r scanner) (reminder.Schedule, error) {
	var (
		sc        reminder.Schedule
		day       sql.NullInt64
		minute    int
		active    int
		lastFired sql.NullInt64
		created   int64
		updated   int64
	)
	if err := r.Scan(&sc.ID, &sc.OwnerID, &day, &minute, &sc.Timezone, &active, &lastFired, &created, &updated); err != nil {
		return sc, err
	}
	if day.Valid {
		sc.Day = reminder.Weekly(time.Weekday(day.Int64))
	}
	sc.At = reminder.Clock(minute)
	sc.Active = active != 0
	if lastFired.Valid {
		t := time.UnixMilli(lastFired.Int64).UTC()
		sc.LastFiredAt = &t
	}
	sc.CreatedAt = time.UnixMilli(created).UTC()
	sc.UpdatedAt = time.UnixMilli(updated).UTC()
	return sc, nil
}

func (s *sqliteStore) querySchedules(ctx context.Context, query string, args ...any) ([]reminder.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reminder.Schedule
	for rows.Next() {
		sc, err := scanSQLiteSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func isForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

func (s *sqliteStore) Create(ctx context.Context, n reminder.NewSchedule) (reminder.Schedule, error) {
	n, err := n.Validate()
	if err != nil {
		return reminder.Schedule{}, err
	}
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_schedules(owner_id, day_of_week, fire_minute, timezone, is_active, created_at, updated_at)
		 VALUES(?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT DO NOTHING`,
		n.OwnerID, dayArg(n.Day), n.At.Minutes(), n.Timezone, now, now,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return reminder.Schedule{}, fmt.Errorf("storage: create: owner %d: %w", n.OwnerID, ErrUnknownOwner)
		}
		return reminder.Schedule{}, fmt.Errorf("storage: create: %w", err)
	}
	affected, _ := res.RowsAffected()

	sc, err := scanSQLiteSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteScheduleCols+` FROM notification_schedules
		 WHERE owner_id = ? AND COALESCE(day_of_week, -1) = ? AND fire_minute = ?`,
		n.OwnerID, dayKey(n.Day), n.At.Minutes(),
	))
	if err != nil {
		return reminder.Schedule{}, fmt.Errorf("storage: create: reload: %w", err)
	}
	if affected == 0 {
		s.log.Debug("schedule already exists",
			logx.Int64("schedule_id", sc.ID),
			logx.Int64("owner_id", sc.OwnerID),
			logx.Bool("created", false),
		)
	}
	return sc, nil
}

func (s *sqliteStore) ListByOwner(ctx context.Context, ownerID int64) ([]reminder.Schedule, error) {
	out, err := s.querySchedules(ctx,
		`SELECT `+sqliteScheduleCols+` FROM notification_schedules WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("storage: list by owner: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) ListActive(ctx context.Context) ([]reminder.Schedule, error) {
	out, err := s.querySchedules(ctx,
		`SELECT `+sqliteScheduleCols+` FROM notification_schedules WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list active: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (reminder.Schedule, bool, error) {
	sc, err := scanSQLiteSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteScheduleCols+` FROM notification_schedules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Schedule{}, false, nil
	}
	if err != nil {
		return reminder.Schedule{}, false, fmt.Errorf("storage: get: %w", err)
	}
	return sc, true, nil
}

func (s *sqliteStore) SetActive(ctx context.Context, id int64, active bool) (bool, error) {
	flag := 0
	if active {
		flag = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_schedules SET is_active = ?, updated_at = ? WHERE id = ? AND is_active <> ?`,
		flag, s.now().UnixMilli(), id, flag)
	if err != nil {
		return false, fmt.Errorf("storage: set active: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notification_schedules WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("storage: delete: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) FindDue(ctx context.Context, at reminder.Clock, day time.Weekday, tz string) ([]reminder.Schedule, error) {
	out, err := s.querySchedules(ctx,
		`SELECT `+sqliteScheduleCols+` FROM notification_schedules
		 WHERE is_active = 1 AND timezone = ? AND fire_minute = ?
		   AND (day_of_week IS NULL OR day_of_week = ?)
		 ORDER BY id`,
		tz, at.Minutes(), int(day))
	if err != nil {
		return nil, fmt.Errorf("storage: find due %s %s: %w", tz, at, err)
	}
	return out, nil
}

func (s *sqliteStore) ActiveTimezones(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT timezone FROM notification_schedules WHERE is_active = 1 ORDER BY timezone`)
	if err != nil {
		return nil, fmt.Errorf("storage: active timezones: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var tz string
		if err := rows.Scan(&tz); err != nil {
			return nil, fmt.Errorf("storage: active timezones: %w", err)
		}
		out = append(out, tz)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkFired(ctx context.Context, id int64, occurrence time.Time) (bool, error) {
	ms := occurrence.UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_schedules SET last_fired_at = ?
		 WHERE id = ? AND (last_fired_at IS NULL OR last_fired_at < ?)`,
		ms, id, ms)
	if err != nil {
		return false, fmt.Errorf("storage: mark fired: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) UpsertOwner(ctx context.Context, o reminder.Owner) (reminder.Owner, error) {
	if o.ID == 0 {
		return reminder.Owner{}, fmt.Errorf("storage: upsert owner: %w", reminder.ErrInvalidOwner)
	}
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO owners(id, chat_id, thread_id, language, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   chat_id = excluded.chat_id,
		   thread_id = excluded.thread_id,
		   language = excluded.language,
		   updated_at = excluded.updated_at`,
		o.ID, o.ChatID, o.ThreadID, o.Lang(), now, now)
	if err != nil {
		return reminder.Owner{}, fmt.Errorf("storage: upsert owner: %w", err)
	}
	got, _, err := s.GetOwner(ctx, o.ID)
	return got, err
}

func (s *sqliteStore) GetOwner(ctx context.Context, id int64) (reminder.Owner, bool, error) {
	var (
		o                reminder.Owner
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, thread_id, language, created_at, updated_at FROM owners WHERE id = ?`, id,
	).Scan(&o.ID, &o.ChatID, &o.ThreadID, &o.Language, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Owner{}, false, nil
	}
	if err != nil {
		return reminder.Owner{}, false, fmt.Errorf("storage: get owner: %w", err)
	}
	o.CreatedAt = time.UnixMilli(created).UTC()
	o.UpdatedAt = time.UnixMilli(updated).UTC()
	return o, true, nil
}

func (s *sqliteStore) DeleteOwner(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM owners WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("storage: delete owner: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) EnqueueOutbox(ctx context.Context, m reminder.OutboxMessage) (reminder.OutboxMessage, error) {
	if strings.TrimSpace(m.Text) == "" {
		return reminder.OutboxMessage{}, errors.New("storage: enqueue outbox: empty text")
	}
	now := s.now()
	if m.NotBefore.IsZero() {
		m.NotBefore = now
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox(owner_id, text, parse_mode, not_before, created_at) VALUES(?, ?, ?, ?, ?)`,
		m.OwnerID, m.Text, nullStr(m.ParseMode), m.NotBefore.UnixMilli(), now.UnixMilli())
	if err != nil {
		if isForeignKeyViolation(err) {
			return reminder.OutboxMessage{}, fmt.Errorf("storage: enqueue outbox: owner %d: %w", m.OwnerID, ErrUnknownOwner)
		}
		return reminder.OutboxMessage{}, fmt.Errorf("storage: enqueue outbox: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return reminder.OutboxMessage{}, fmt.Errorf("storage: enqueue outbox: %w", err)
	}
	m.NotBefore = time.UnixMilli(m.NotBefore.UnixMilli()).UTC()
	m.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	m.SentAt = nil
	return m, nil
}

func (s *sqliteStore) PendingOutbox(ctx context.Context, now time.Time, limit int) ([]reminder.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, text, parse_mode, not_before, attempts, last_error, created_at
		 FROM outbox WHERE sent_at IS NULL AND not_before <= ?
		 ORDER BY not_before, id LIMIT ?`,
		now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: pending outbox: %w", err)
	}
	defer rows.Close()
	var out []reminder.OutboxMessage
	for rows.Next() {
		var (
			m                  reminder.OutboxMessage
			mode, lastErr      sql.NullString
			notBefore, created int64
		)
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Text, &mode, &notBefore, &m.Attempts, &lastErr, &created); err != nil {
			return nil, fmt.Errorf("storage: pending outbox: %w", err)
		}
		m.ParseMode = mode.String
		m.LastError = lastErr.String
		m.NotBefore = time.UnixMilli(notBefore).UTC()
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkOutboxSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET sent_at = ?, attempts = attempts + 1, last_error = NULL WHERE id = ? AND sent_at IS NULL`,
		at.UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("storage: mark outbox sent: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) MarkOutboxFailed(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ? AND sent_at IS NULL`,
		nullStr(reason), id)
	if err != nil {
		return fmt.Errorf("storage: mark outbox failed: %w", err)
	}
	return nil
}

func (s *sqliteStore) PruneOutbox(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("storage: prune outbox: %w", err)
	}
	return res.RowsAffected()
}

package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
	I18n      I18nConfig      `json:"i18n"`
	Ops       OpsConfig       `json:"ops"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied through
	// EASYTRACK_TELEGRAM_TOKEN.
	Token  string `json:"token"`
	APIURL string `json:"api_url,omitempty" validate:"omitempty,url"`
	// DryRun logs outgoing messages instead of calling the Bot API.
	DryRun       bool   `json:"dry_run,omitempty"`
	HTTPTimeout  string `json:"http_timeout,omitempty"`
	MaxFloodWait string `json:"max_flood_wait,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards warn+ lines to an operator chat.
type LoggingAlerts struct {
	Enabled    bool    `json:"enabled"`
	ChatID     int64   `json:"chat_id" validate:"required_if=Enabled true"`
	ThreadID   int     `json:"thread_id,omitempty" validate:"gte=0"`
	MinLevel   string  `json:"min_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	RatePerSec float64 `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/easytrack.db" }
type StorageConfig struct {
	Driver string `json:"driver" validate:"omitempty,oneof=sqlite sqlite3 postgres postgresql pgx"`
	Path   string `json:"path,omitempty"`
	// DSN is the postgres connection string; EASYTRACK_STORAGE_DSN overrides it.
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int32  `json:"max_conns,omitempty" validate:"gte=0"`
}

type SchedulerConfig struct {
	// Tick defaults to "1m".
	Tick          string `json:"tick,omitempty"`
	AlignToMinute *bool  `json:"align_to_minute,omitempty"`
	// MatchMode is "exact" (default) or "watermark".
	MatchMode  string           `json:"match_mode,omitempty" validate:"omitempty,oneof=exact watermark"`
	Candidates CandidatesConfig `json:"candidates"`
	Outbox     OutboxConfig     `json:"outbox"`
}

type CandidatesConfig struct {
	// Mode is "dynamic" (default) or "static".
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=dynamic static"`
	// Timezones are IANA names; omitted means the built-in list.
	Timezones []string `json:"timezones,omitempty" validate:"dive,required"`
}

type OutboxConfig struct {
	Batch      int    `json:"batch,omitempty" validate:"gte=0,lte=1000"`
	Retention  string `json:"retention,omitempty"`
	PruneEvery string `json:"prune_every,omitempty"`
}

type NotifierConfig struct {
	RatePerSec  float64 `json:"rate_per_sec,omitempty" validate:"gte=0"`
	Burst       int     `json:"burst,omitempty" validate:"gte=0"`
	SendTimeout string  `json:"send_timeout,omitempty"`
	ParseMode   string  `json:"parse_mode,omitempty" validate:"omitempty,oneof=HTML Markdown MarkdownV2"`
	MessageKey  string  `json:"message_key,omitempty"`
	History     int     `json:"history,omitempty" validate:"gte=0"`
}

type I18nConfig struct {
	Default string `json:"default,omitempty" validate:"omitempty,alpha,lowercase"`
	// Dir holds <lang>.yaml files layered over the embedded catalogs.
	Dir string `json:"dir,omitempty"`
}

// OpsConfig controls the optional health/status HTTP server.
//
// Prefer binding to localhost (e.g. "127.0.0.1:8081").
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty" validate:"omitempty,hostname_port"`

	// AllowTrigger exposes POST /tick. Token, when set, is required as a
	// bearer token on it. With match_mode exact a manual tick re-sends
	// reminders the loop already sent in the current minute.
	AllowTrigger bool   `json:"allow_trigger,omitempty"`
	Token        string `json:"token,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`
}

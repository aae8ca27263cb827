package reminder

import (
	"strings"
	"time"
)

const DefaultLanguage = "en"

// Owner is the recipient side of a schedule as seen by this engine: where to
// send and in which language.
type Owner struct {
	ID       int64
	ChatID   int64
	ThreadID int
	Language string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o Owner) Lang() string {
	if l := strings.TrimSpace(o.Language); l != "" {
		return strings.ToLower(l)
	}
	return DefaultLanguage
}

// OutboxMessage is a one-shot message queued for delivery on the next tick
// at or after NotBefore.
type OutboxMessage struct {
	ID        int64
	OwnerID   int64
	Text      string
	ParseMode string
	NotBefore time.Time
	SentAt    *time.Time
	Attempts  int
	LastError string
	CreatedAt time.Time
}

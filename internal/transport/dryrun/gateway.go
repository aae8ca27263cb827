// Package dryrun is a kit.Gateway that logs messages instead of sending them.
// It backs telegram.dry_run and local development without a bot token.
package dryrun

import (
	"context"
	"sync"
	"sync/atomic"

	kit "easytrack/internal/transport"
	logx "easytrack/pkg/logx"
)

type Message struct {
	To   kit.ChatTarget
	Text string
	Opt  kit.SendOptions
}

type Gateway struct {
	log  logx.Logger
	seq  atomic.Int64
	keep int

	mu   sync.Mutex
	sent []Message
}

// New returns a gateway remembering the last keep messages (0 keeps none).
func New(log logx.Logger, keep int) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{log: log, keep: keep}
}

func (g *Gateway) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	m := Message{To: to, Text: text}
	if opt != nil {
		m.Opt = *opt
	}
	id := int(g.seq.Add(1))
	g.log.Info("dry-run send",
		logx.Int64("chat_id", to.ChatID),
		logx.Int("thread_id", to.ThreadID),
		logx.Int("message_id", id),
		logx.String("text", text),
	)
	if g.keep > 0 {
		g.mu.Lock()
		g.sent = append(g.sent, m)
		if len(g.sent) > g.keep {
			g.sent = append([]Message(nil), g.sent[len(g.sent)-g.keep:]...)
		}
		g.mu.Unlock()
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}, nil
}

// Sent returns a copy of the remembered messages, oldest first.
func (g *Gateway) Sent() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Message(nil), g.sent...)
}

package transport

import "context"

// ChatTarget addresses one recipient on the messaging platform.
type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Gateway is the outbound side of a messaging platform.
type Gateway interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Lifecycle is implemented by gateways that own background resources.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

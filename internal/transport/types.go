package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

// Update is one inbound event, already normalized away from the provider's
// wire format.
type Update struct {
	ID      int64 // provider update id (0 if unknown)
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound chat message.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// ChatTarget addresses an outbound message.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
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

// Messenger delivers outbound text.
type Messenger interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a messaging gateway: outbound sends plus an inbound stream that
// is attached by Start and detached by Stop.
type Adapter interface {
	Messenger
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// InboundGateway accepts one raw provider payload and hands it to the
// attached update stream. Deliver must not wait for command handling.
type InboundGateway interface {
	Deliver(raw []byte) error
}

// EndpointRegistrar points provider-side push delivery at this process.
type EndpointRegistrar interface {
	RegisterEndpoint(ctx context.Context, url, secret string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to publish the command list to the platform menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

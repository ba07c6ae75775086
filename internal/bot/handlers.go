// Package bot implements the chat commands: start, subscribe, unsubscribe,
// setcity and help.
//
// Handlers turn store outcomes into fixed reply texts. Store errors end at
// this boundary as a generic failure reply; a failed reply send is logged.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"weatherbot/internal/subscriber"
	"weatherbot/internal/transport/telegram/router"
	logx "weatherbot/pkg/logx"
)

// Options tunes the chat commands.
type Options struct {
	// Timeout bounds one handler including its reply.
	Timeout time.Duration
}

// Handlers implements the chat commands on top of the subscriber service.
type Handlers struct {
	subs *subscriber.Service
	opts Options
}

// New returns the command handlers. Call Registry to get the routable set.
func New(subs *subscriber.Service, opts Options) *Handlers {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Handlers{subs: subs, opts: opts}
}

// Registry builds the command registry, help included.
func (h *Handlers) Registry() (*router.Registry, error) {
	var reg *router.Registry
	cmds := []router.Command{
		{
			Name:        "start",
			Pattern:     router.CommandPattern([]string{"start"}, `(?:\s.*)?`),
			Description: "Show the welcome message",
			Timeout:     h.opts.Timeout,
			Handle:      h.start,
		},
		{
			Name:        "subscribe",
			Pattern:     router.CommandPattern([]string{"subscribe"}, `\s*`),
			Description: "Get daily weather updates",
			Timeout:     h.opts.Timeout,
			Handle:      h.subscribe,
		},
		{
			Name:        "unsubscribe",
			Pattern:     router.CommandPattern([]string{"unsubscribe"}, `\s*`),
			Description: "Stop daily weather updates",
			Timeout:     h.opts.Timeout,
			Handle:      h.unsubscribe,
		},
		{
			Name:        "setcity",
			Pattern:     router.CommandPattern([]string{"setcity", "setlocation"}, `\s+(.+)`),
			Description: "Set your city, e.g. /setcity Berlin",
			Timeout:     h.opts.Timeout,
			Handle:      h.setCity,
		},
		{
			Name:    "setcity.usage",
			Pattern: router.CommandPattern([]string{"setcity", "setlocation"}, `\s*`),
			Hidden:  true,
			Timeout: h.opts.Timeout,
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, replyCityUsage)
			},
		},
		{
			Name:        "help",
			Pattern:     router.CommandPattern([]string{"help"}, `\s*`),
			Description: "List commands",
			Timeout:     h.opts.Timeout,
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, reg.HelpText())
			},
		},
	}
	var err error
	reg, err = router.NewRegistry(cmds...)
	return reg, err
}

// reply logs a failed send and swallows it; the command itself succeeded.
func reply(ctx context.Context, req *router.Request, text string) error {
	if err := req.Reply(ctx, text); err != nil {
		req.Logger.Warn("reply send failed", logx.Err(err))
	}
	return nil
}

func (h *Handlers) start(ctx context.Context, req *router.Request) error {
	return reply(ctx, req, replyWelcome)
}

func (h *Handlers) subscribe(ctx context.Context, req *router.Request) error {
	_, ch, err := h.subs.Subscribe(ctx, req.FromID)
	switch {
	case err != nil:
		req.Logger.Error("subscribe failed", logx.Err(err))
		return reply(ctx, req, replySubscribeFailed)
	case ch == subscriber.ChangeNone:
		return reply(ctx, req, replyAlreadySubscribed)
	default:
		return reply(ctx, req, replySubscribed)
	}
}

func (h *Handlers) unsubscribe(ctx context.Context, req *router.Request) error {
	_, ch, err := h.subs.Unsubscribe(ctx, req.FromID)
	switch {
	case errors.Is(err, subscriber.ErrNotFound):
		return reply(ctx, req, replyAlreadyUnsubscribed)
	case err != nil:
		req.Logger.Error("unsubscribe failed", logx.Err(err))
		return reply(ctx, req, replyUnsubscribeFailed)
	case ch == subscriber.ChangeNone:
		return reply(ctx, req, replyAlreadyUnsubscribed)
	default:
		return reply(ctx, req, replyUnsubscribed)
	}
}

// setCity never creates a record: an unknown sender is asked to subscribe.
func (h *Handlers) setCity(ctx context.Context, req *router.Request) error {
	rec, err := h.subs.SetLocation(ctx, req.FromID, req.Arg(0))
	switch {
	case errors.Is(err, subscriber.ErrNotFound):
		return reply(ctx, req, replyCityNeedsSub)
	case errors.Is(err, subscriber.ErrInvalid):
		return reply(ctx, req, fmt.Sprintf(replyCityInvalid, subscriber.MaxLocationRunes))
	case err != nil:
		req.Logger.Error("set city failed", logx.Err(err))
		return reply(ctx, req, replySetCityFailed)
	default:
		return reply(ctx, req, fmt.Sprintf(replyCitySet, rec.PreferredLocation))
	}
}

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "weatherbot/internal/runtime/supervisor"
	kit "weatherbot/internal/transport"
	logx "weatherbot/pkg/logx"
)

// Config configures the Telegram adapter.
type Config struct {
	Token string
	// Offline skips the getMe round-trip in NewBot (CLI dry runs, tests).
	Offline bool
	// DedupWindow is how many recent update ids are remembered to drop
	// provider redeliveries. 0 uses the default; <0 disables.
	DedupWindow int
}

// Adapter is the Telegram messaging gateway. Inbound updates are pushed in
// via Deliver (webhook); the adapter never polls.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	dropped    atomic.Uint64
	duplicates atomic.Uint64
	recent     *recentIDs

	menuMu   sync.Mutex
	menuHash uint64
}

// New builds the adapter. Unless cfg.Offline is set the token is checked
// with getMe.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	window := cfg.DedupWindow
	if window == 0 {
		window = 1024
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	if window > 0 {
		a.recent = newRecentIDs(window)
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a, nil
}

// Start attaches the update stream. Deliver drops updates until Start runs.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary instead of per-update log spam.
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-ticker.C:
				a.reportDrops(cap(out))
			}
		}
	})
	a.log.Info("inbound stream attached", logx.Int("chan_cap", cap(out)))
	return nil
}

func (a *Adapter) reportDrops(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
	if n := a.duplicates.Swap(0); n > 0 {
		a.log.Debug("redelivered updates ignored", logx.Uint64("count", n))
	}
}

// Stop detaches the update stream. Later deliveries are dropped.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	a.log.Info("inbound stream detached")
	return nil
}

// Deliver decodes one webhook payload and forwards it without blocking.
// Non-message updates are ignored; only malformed JSON is an error.
func (a *Adapter) Deliver(raw []byte) error {
	var u tele.Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return fmt.Errorf("decode telegram update: %w", err)
	}
	up, ok := convertUpdate(u)
	if !ok {
		return nil
	}
	dedup := a.recent != nil && up.ID != 0
	if dedup && !a.recent.add(up.ID) {
		a.duplicates.Add(1)
		return nil
	}
	if !a.forward(up) && dedup {
		// Dropped updates stay eligible for the provider's redelivery.
		a.recent.forget(up.ID)
	}
	return nil
}

func (a *Adapter) forward(up kit.Update) bool {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		a.dropped.Add(1)
		return false
	}
	select {
	case out <- up:
		return true
	default:
		a.dropped.Add(1)
		return false
	}
}

func convertUpdate(u tele.Update) (kit.Update, bool) {
	m := u.Message
	if m == nil || m.Chat == nil || m.Sender == nil {
		return kit.Update{}, false
	}
	return kit.Update{
		ID:   int64(u.ID),
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			ThreadID:     m.ThreadID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         m.Text,
			IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
		},
	}, true
}

// SendText sends text to a chat, split into chunks under the Telegram limit.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// RegisterEndpoint points Telegram's webhook delivery at url. secret is
// echoed back by Telegram in the X-Telegram-Bot-Api-Secret-Token header.
func (a *Adapter) RegisterEndpoint(ctx context.Context, url, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(url) == "" {
		return errors.New("webhook url is empty")
	}
	err := a.bot.SetWebhook(&tele.Webhook{
		SecretToken:    secret,
		AllowedUpdates: []string{"message"},
		Endpoint:       &tele.WebhookEndpoint{PublicURL: url},
	})
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	a.log.Info("webhook registered", logx.String("url", url))
	return nil
}

// UnregisterEndpoint removes the webhook, optionally dropping pending updates.
func (a *Adapter) UnregisterEndpoint(ctx context.Context, dropPending bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.RemoveWebhook(dropPending)
}

// UpdateMenuCommands publishes the command menu (setMyCommands). It only
// calls Telegram when the list changed since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
		out = append(out, tele.Command{Text: c.Command, Description: d})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(out); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

package router

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	kit "weatherbot/internal/transport"
	logx "weatherbot/pkg/logx"
)

// Command is one routable chat command.
type Command struct {
	Name string
	// Pattern is matched against the trimmed message text. Capture groups
	// become Request.Args.
	Pattern     *regexp.Regexp
	Description string
	// Hidden commands are routed but left out of help and the client menu.
	Hidden  bool
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

// Request is one matched inbound command.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Messenger kit.Messenger
	Logger    logx.Logger
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

// Reply sends plain text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.Messenger == nil {
		return errors.New("no messenger")
	}
	_, err := r.Messenger.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// Arg returns capture group i (0-based) or "".
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// CommandPattern builds the usual pattern for "/name" with an optional
// "@botname" suffix. rest is appended verbatim before the end anchor.
func CommandPattern(names []string, rest string) *regexp.Regexp {
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		quoted = append(quoted, regexp.QuoteMeta(n))
	}
	return regexp.MustCompile(`(?i)^/(?:` + strings.Join(quoted, "|") + `)(?:@\w+)?` + rest + `$`)
}

// Registry is an immutable ordered command list. The first command whose
// pattern matches wins.
type Registry struct {
	cmds []Command
}

// NewRegistry validates cmds and keeps their order.
func NewRegistry(cmds ...Command) (*Registry, error) {
	seen := make(map[string]struct{}, len(cmds))
	out := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.TrimSpace(c.Name)
		switch {
		case name == "":
			return nil, errors.New("command with empty name")
		case c.Pattern == nil:
			return nil, fmt.Errorf("command %q has no pattern", name)
		case c.Handle == nil:
			return nil, fmt.Errorf("command %q has no handler", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate command %q", name)
		}
		seen[name] = struct{}{}
		c.Name = name
		out = append(out, c)
	}
	return &Registry{cmds: out}, nil
}

// Match returns the first command matching text and its capture groups.
// Only the first line is matched; anything after a newline is ignored.
func (r *Registry) Match(text string) (Command, []string, bool) {
	if r == nil {
		return Command{}, nil, false
	}
	text, _, _ = strings.Cut(strings.TrimSpace(text), "\n")
	text = strings.TrimSpace(text)
	for _, c := range r.cmds {
		m := c.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		return c, append([]string(nil), m[1:]...), true
	}
	return Command{}, nil, false
}

// Commands returns a copy of the registered commands in match order.
func (r *Registry) Commands() []Command {
	if r == nil {
		return nil
	}
	return append([]Command(nil), r.cmds...)
}

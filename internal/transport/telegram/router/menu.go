package router

import (
	"fmt"
	"strings"
	"unicode"

	kit "weatherbot/internal/transport"
)

// sanitizeTelegramCommand converts a command name into a Telegram-safe bot
// command ([a-z0-9_]{1,32}).
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// MenuCommands lists visible commands for the client's command menu.
func (r *Registry) MenuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(r.Commands()))
	seen := map[string]bool{}
	for _, c := range r.Commands() {
		if c.Hidden {
			continue
		}
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
		if len(out) >= 100 {
			break
		}
	}
	return out
}

// HelpText renders the visible commands as a plain-text list.
func (r *Registry) HelpText() string {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, c := range r.MenuCommands() {
		fmt.Fprintf(&b, "\n/%s - %s", c.Command, c.Description)
	}
	return b.String()
}

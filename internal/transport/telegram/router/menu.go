package router

import (
	"sort"
	"strings"
	"unicode"

	kit "divulgabot/internal/transport"
)

// sanitizeTelegramCommand converts a name into a Telegram-safe bot command.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || unicode.IsSpace(r):
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
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = strings.TrimRight(("cmd_" + out)[:min(32, len(out)+4)], "_")
	}
	return out
}

// buildTelegramMenuCommands lists public commands first, admin ones after.
func buildTelegramMenuCommands(cmds []Command) []kit.BotCommand {
	visible := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		if !c.Hidden && sanitizeTelegramCommand(c.Name) != "" {
			visible = append(visible, c)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		if visible[i].Access != visible[j].Access {
			return visible[i].Access < visible[j].Access
		}
		return visible[i].Name < visible[j].Name
	})

	out := make([]kit.BotCommand, 0, len(visible))
	seen := map[string]bool{}
	for _, c := range visible {
		name := sanitizeTelegramCommand(c.Name)
		if seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if c.Access == AccessAdmin {
			desc = "🔒 " + desc
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
		if len(out) >= 100 {
			break
		}
	}
	return out
}

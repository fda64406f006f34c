package router

import (
	"sort"
	"strings"

	"divulgabot/pkg/tgui"
)

// helpText renders the command list in HTML parse mode. Admin commands are
// listed only for admins.
func (m *Manager) helpText(admin bool, topic string) string {
	m.mu.RLock()
	cmds := make([]Command, 0, len(m.commands))
	for _, c := range m.commands {
		cmds = append(cmds, c)
	}
	m.mu.RUnlock()

	if topic = commandWord(topic); topic != "" {
		for _, c := range cmds {
			if c.Name == topic && (admin || c.Access == AccessEveryone) {
				return helpCommandHTML(c)
			}
		}
		return "❓ <b>Comando desconhecido</b>\nUse <code>/help</code> para ver a lista."
	}

	sort.Slice(cmds, func(i, j int) bool {
		if cmds[i].Access != cmds[j].Access {
			return cmds[i].Access < cmds[j].Access
		}
		return cmds[i].Name < cmds[j].Name
	})
	seen := map[string]bool{}
	lines := []string{"📚 <b>Comandos</b>", ""}
	for _, c := range cmds {
		if c.Hidden || seen[c.Name] || (c.Access == AccessAdmin && !admin) {
			continue
		}
		seen[c.Name] = true
		prefix := "• "
		if c.Access == AccessAdmin {
			prefix = "• 🔒 "
		}
		line := prefix + tgui.Code("/"+c.Name).String()
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " — " + tgui.Esc(d).String()
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpCommandHTML(c Command) string {
	lines := []string{"📚 <b>Ajuda</b> " + tgui.Code("/"+c.Name).String()}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, tgui.Esc(d).String())
	}
	if c.Access == AccessAdmin {
		lines = append(lines, "🔒 <i>Somente administradores</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Uso</b>", tgui.Code(u).String())
	}
	if len(c.Aliases) > 0 {
		al := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, tgui.Code("/"+a).String())
		}
		lines = append(lines, "", "<b>Atalhos</b> "+strings.Join(al, " "))
	}
	return strings.Join(lines, "\n")
}

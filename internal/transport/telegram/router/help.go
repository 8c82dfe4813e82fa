package router

import (
	"strings"

	"castbot/pkg/tgui"
)

// helpText renders the command list in HTML parse mode.
func (r *Router) helpText() string {
	r.mu.RLock()
	cmds := append([]*Command(nil), r.ordered...)
	r.mu.RUnlock()

	t := tgui.NewText().Title("📚", "Commands")
	var admin []*Command
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		if c.Access == AccessAdmin {
			admin = append(admin, c)
			continue
		}
		t.HTML(helpLine(c))
	}
	if len(admin) > 0 {
		t.Blank().HTML(tgui.B("Admin"))
		for _, c := range admin {
			t.HTML(helpLine(c))
		}
	}
	t.Blank().Line("Use /cancel at any step to stop the current dialog.")
	return t.String()
}

func helpLine(c *Command) tgui.H {
	usage := strings.TrimSpace(c.Usage)
	if usage == "" {
		usage = "/" + c.Name
	}
	parts := []tgui.H{tgui.Raw("• "), tgui.Code(usage)}
	if d := strings.TrimSpace(c.Description); d != "" {
		parts = append(parts, tgui.Raw(" - "), tgui.Esc(d))
	}
	if len(c.Aliases) > 0 {
		parts = append(parts, tgui.Raw(" "+tgui.I("alias /"+strings.Join(c.Aliases, ", /")).String()))
	}
	return tgui.JoinH("", parts...)
}

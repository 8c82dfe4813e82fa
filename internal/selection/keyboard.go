package selection

import (
	"strconv"

	tele "gopkg.in/telebot.v4"

	"castbot/pkg/tgui"
)

// Callback namespace and actions of the toggle list.
const (
	NS = "sel"

	actPage   = "p"
	actToggle = "t"
	actAll    = "all"
	actSave   = "save"
)

const checkMark = "✔️ "

// maxLabel keeps button labels readable on phones.
const maxLabel = 40

// ActionKind is the decoded meaning of a selection button.
type ActionKind int

const (
	ActNone ActionKind = iota
	ActPage
	ActToggle
	ActSaveAll
	ActSaveSelected
)

// Action is a decoded selection callback. Page is the absolute page index the
// button was rendered on.
type Action struct {
	Kind ActionKind
	Page int
	ID   int64
}

// ParseAction decodes callback data produced by Markup.
func ParseAction(data string) (Action, bool) {
	ns, action, payload := tgui.Parse(data)
	if ns != NS {
		return Action{}, false
	}
	switch action {
	case actPage:
		p, err := strconv.Atoi(payload)
		if err != nil {
			return Action{}, false
		}
		return Action{Kind: ActPage, Page: p}, true
	case actToggle:
		v, ok := tgui.Ints(payload, 2)
		if !ok {
			return Action{}, false
		}
		return Action{Kind: ActToggle, Page: int(v[0]), ID: v[1]}, true
	case actAll:
		return Action{Kind: ActSaveAll}, true
	case actSave:
		return Action{Kind: ActSaveSelected}, true
	}
	return Action{}, false
}

// Markup renders the page as an inline keyboard: candidates in two columns,
// then the navigation row and the save buttons.
func Markup(p Page) *tele.ReplyMarkup {
	btns := make([]tele.Btn, 0, len(p.Items))
	for _, it := range p.Items {
		label := tgui.TruncRunes(it.Candidate.Title, maxLabel)
		if it.Selected {
			label = checkMark + label
		}
		btns = append(btns, tgui.Btn(label, tgui.Data(NS, actToggle, tgui.Join(int64(p.Index), it.Candidate.ID))))
	}

	kb := tgui.NewInline().Grid(Columns, btns)

	var nav []tele.Btn
	if p.Prev {
		nav = append(nav, tgui.Btn("⬅️", tgui.Data(NS, actPage, strconv.Itoa(p.Index-1))))
	}
	if p.Next {
		nav = append(nav, tgui.Btn("➡️", tgui.Data(NS, actPage, strconv.Itoa(p.Index+1))))
	}
	kb.Row(nav...)

	var save []tele.Btn
	if p.SaveAll {
		save = append(save, tgui.Btn("SAVE ALL", tgui.Data(NS, actAll, "")))
	}
	if p.SaveSelected {
		save = append(save, tgui.Btn("SAVE SELECTED", tgui.Data(NS, actSave, "")))
	}
	kb.Row(save...)
	return kb.Markup()
}

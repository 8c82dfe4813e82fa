package selection

import (
	"strconv"

	tele "gopkg.in/telebot.v4"

	"castbot/pkg/tgui"
)

// Choice is one entry of a single-select list (endpoints, jobs).
type Choice struct {
	ID    int64
	Label string
}

// RenderChoices pages a single-select list under namespace ns. Buttons carry
// "<ns>:pick:<id>"; navigation carries "<ns>:p:<page>". It returns the
// clamped page index.
func RenderChoices(ns string, choices []Choice, pageIndex int) (*tele.ReplyMarkup, int) {
	sub, idx, prev, next := tgui.PaginateSlice(choices, pageIndex, PageSize)
	btns := make([]tele.Btn, 0, len(sub))
	for _, c := range sub {
		btns = append(btns, tgui.Btn(tgui.TruncRunes(c.Label, maxLabel), tgui.Data(ns, "pick", strconv.FormatInt(c.ID, 10))))
	}
	kb := tgui.NewInline().Grid(Columns, btns)
	var nav []tele.Btn
	if prev {
		nav = append(nav, tgui.Btn("⬅️", tgui.Data(ns, actPage, strconv.Itoa(idx-1))))
	}
	if next {
		nav = append(nav, tgui.Btn("➡️", tgui.Data(ns, actPage, strconv.Itoa(idx+1))))
	}
	kb.Row(nav...)
	return kb.Markup(), idx
}

// ParseChoice decodes a RenderChoices callback. pick reports whether it was a
// selection (id set) rather than a page change (page set).
func ParseChoice(ns, data string) (pick bool, id int64, page int, ok bool) {
	gotNS, action, payload := tgui.Parse(data)
	if gotNS != ns {
		return false, 0, 0, false
	}
	switch action {
	case "pick":
		v, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return false, 0, 0, false
		}
		return true, v, 0, true
	case actPage:
		p, err := strconv.Atoi(payload)
		if err != nil {
			return false, 0, 0, false
		}
		return false, 0, p, true
	}
	return false, 0, 0, false
}

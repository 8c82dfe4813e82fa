package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards (ReplyMarkup).
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row. Empty rows are skipped.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Grid appends buttons split into rows of cols.
func (i *Inline) Grid(cols int, btns []tele.Btn) *Inline {
	if cols <= 0 {
		cols = 2
	}
	for start := 0; start < len(btns); start += cols {
		i.Row(btns[start:min(start+cols, len(btns))]...)
	}
	return i
}

// Markup returns the underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Grid2 lays buttons out in two columns.
func Grid2(buttons []tele.Btn) *tele.ReplyMarkup {
	return NewInline().Grid(2, buttons).Markup()
}

// YesNo builds the two-button confirmation keyboard.
func YesNo(yesData, noData string) *tele.ReplyMarkup {
	return NewInline().Row(Btn("YES ✅", yesData), Btn("NO ❌", noData)).Markup()
}

// Rows flattens a markup back into button text/data pairs, row by row.
func Rows(rm *tele.ReplyMarkup) [][]tele.InlineButton {
	if rm == nil {
		return nil
	}
	return rm.InlineKeyboard
}

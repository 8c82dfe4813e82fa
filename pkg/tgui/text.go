package tgui

import (
	"strings"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes, with "…" when cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// Builder assembles an HTML message line by line. Plain strings passed to
// Line and KV are escaped.
type Builder struct {
	lines []string
}

func NewText() *Builder { return &Builder{} }

func (b *Builder) Title(emoji, title string) *Builder {
	t := B(title).String()
	if emoji != "" {
		t = emoji + " " + t
	}
	b.lines = append(b.lines, t)
	return b
}

func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) KV(key, value string) *Builder {
	b.lines = append(b.lines, B(key+":").String()+" "+Esc(value).String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

func (b *Builder) String() string { return strings.Join(b.lines, "\n") }

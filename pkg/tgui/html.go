package tgui

import (
	"html"
	"strings"
)

// H is Telegram HTML that is already escaped. Only Esc, Raw and the tag
// helpers below produce it.
type H string

func (h H) String() string { return string(h) }

// Esc escapes user-supplied text.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw trusts s as-is.
func Raw(s string) H { return H(s) }

func tag(name string, s string) H {
	var b strings.Builder
	b.Grow(len(s) + 2*len(name) + 5)
	b.WriteString("<" + name + ">")
	b.WriteString(html.EscapeString(s))
	b.WriteString("</" + name + ">")
	return H(b.String())
}

func B(s string) H    { return tag("b", s) }
func I(s string) H    { return tag("i", s) }
func Code(s string) H { return tag("code", s) }

// Concat glues parts without a separator.
func Concat(parts ...H) H { return JoinH("", parts...) }

// JoinH joins parts with sep, skipping blank ones.
func JoinH(sep string, parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) != "" {
			ss = append(ss, string(p))
		}
	}
	return H(strings.Join(ss, sep))
}

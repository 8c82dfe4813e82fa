package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

func TestSplitTextShortIsUntouched(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"hello"}, splitText("hello", 10, ""))
	assert.Equal(t, []string{""}, splitText("", 10, ""))
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10, "")
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, got)
}

func TestSplitTextKeepsHTMLTagsWhole(t *testing.T) {
	t.Parallel()

	s := "abcdefgh<b>x</b>"
	got := splitText(s, 10, "HTML")
	require.Len(t, got, 2)
	assert.Equal(t, "abcdefgh", got[0])
	assert.True(t, strings.HasPrefix(got[1], "<b>"))
	assert.Equal(t, s, strings.Join(got, ""))
}

func TestSplitTextCountsRunes(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("✔", 25)
	got := splitText(s, 10, "")
	require.Len(t, got, 3)
	for _, c := range got {
		assert.LessOrEqual(t, len([]rune(c)), 10)
	}
}

func TestMenuCommandsNormalize(t *testing.T) {
	t.Parallel()

	cmds := menuCommands([]kit.BotCommand{
		{Command: "/start", Description: "Register"},
		{Command: "  "},
		{Command: "cancel"},
	})
	require.Len(t, cmds, 2)
	assert.Equal(t, "start", cmds[0].Text)
	assert.Equal(t, "cancel", cmds[1].Description)

	assert.Equal(t, menuHash(cmds), menuHash(menuCommands([]kit.BotCommand{
		{Command: "start", Description: "Register"},
		{Command: "cancel"},
	})))
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Token: "  "}, logx.Nop())
	require.Error(t, err)
}

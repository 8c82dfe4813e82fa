package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "castbot/pkg/logx"
)

const minimalYAML = `
telegram:
  token: "123:abc"
  admins: [42]
  operator_chat_id: -1001
gateway:
  base_url: "http://127.0.0.1:8081"
  api_id: 100
  api_hash: "file-hash"
scheduler:
  tick: "2s"
  timezone: "UTC"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	p := writeFile(t, "config.yaml", minimalYAML)

	cfg, err := NewConfigManager(p).Load()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, []int64{42}, cfg.Telegram.Admins)
	assert.Equal(t, int64(-1001), cfg.Telegram.OperatorChatID)
	assert.Equal(t, DefaultStoragePath, cfg.Storage.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.TaskEngine.Workers)
	assert.Equal(t, 20, cfg.Notifier.RatePerSec)
	assert.Equal(t, 2*time.Second, DurationOr(cfg.Scheduler.Tick, DefaultTick))
	assert.Equal(t, "UTC", cfg.Location().String())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"},"bogus":1}`)
	_, err := NewConfigManager(p).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestLoadRejectsTrailingJSON(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"}}{}`)
	_, err := NewConfigManager(p).Load()
	require.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{}
	cfg.Scheduler.Tick = "soon"
	cfg.Scheduler.Timezone = "Mars/Olympus"
	cfg.Logging.Telegram.Enabled = true

	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"telegram.token",
		"gateway.base_url",
		"scheduler.tick",
		"scheduler.timezone",
		"operator_chat_id",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("CASTBOT_TELEGRAM_TOKEN", "env-token")
	t.Setenv("CASTBOT_GATEWAY_API_HASH", "env-hash")
	t.Setenv("CASTBOT_TELEGRAM_ADMINS", "7,8")

	p := writeFile(t, "config.yaml", minimalYAML)
	cfg, err := NewConfigManager(p).Load()
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "env-hash", cfg.Gateway.APIHash)
	assert.Equal(t, []int64{7, 8}, cfg.Telegram.Admins)
	assert.Equal(t, 100, cfg.Gateway.APIID, "unset env keeps the file value")
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("x", "-1s")
	require.Error(t, err)

	d, err = ParseDurationOrDefault("x", "0s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a := &Config{}
	a.Telegram.Token = "old"
	a.Gateway.APIHash = "secret"
	b := *a
	b.Telegram.Token = "new"
	b.Logging.Level = "debug"

	sections, attrs := SummarizeConfigChange(a, &b)
	assert.Equal(t, []string{"telegram", "logging"}, sections)
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("changed", attrs...)
	assert.NotContains(t, buf.String(), `"new"`)
	assert.NotContains(t, buf.String(), "secret")
	assert.Equal(t, []string{"telegram"}, RequiresRestart(sections))
}

func TestWatchPublishesReload(t *testing.T) {
	p := writeFile(t, "config.yaml", minimalYAML)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(minimalYAML+"logging:\n  level: debug\n"), 0o600))

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}

	cancel()
	<-done
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, formatJSON, detectFormat("bot.json", []byte("telegram: {}")))
	assert.Equal(t, formatYAML, detectFormat("bot.yml", []byte("{}")))
	assert.Equal(t, formatJSON, detectFormat("bot.conf", []byte("  {\"telegram\":{}}")))
	assert.Equal(t, formatYAML, detectFormat("bot.conf", []byte("telegram:\n  token: x")))
}

func TestYAMLAnchorsAndMergeKeys(t *testing.T) {
	body := `
base: &base
  level: debug
logging:
  <<: *base
  console: true
`
	out, format, err := toJSON("c.yaml", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, formatYAML, format)
	assert.JSONEq(t, `{"base":{"level":"debug"},"logging":{"level":"debug","console":true}}`, string(out))
}

func TestYAMLRejectsComplexKeys(t *testing.T) {
	_, _, err := toJSON("c.yaml", []byte("? [a, b]\n: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapping key must be a scalar")
}

func TestEmptyYAMLIsEmptyObject(t *testing.T) {
	out, _, err := toJSON("c.yaml", []byte("# nothing\n"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
}

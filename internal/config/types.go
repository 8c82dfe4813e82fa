package config

type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	Gateway       GatewayConfig       `json:"gateway"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	TaskEngine    TaskEngineConfig    `json:"task_engine"`
	Notifier      NotifierConfig      `json:"notifier"`
	Observability ObservabilityConfig `json:"observability"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Admins are actor ids with admin rights in addition to actors flagged in the store.
	Admins         []int64 `json:"admins"`
	OperatorChatID int64   `json:"operator_chat_id"`
	PollTimeout    string  `json:"poll_timeout"` // e.g. "10s"
	// Shards is the number of ordered dispatch lanes in the router.
	Shards         int    `json:"shards"`
	HandlerTimeout string `json:"handler_timeout"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	} `json:"file"`
	Telegram struct {
		Enabled    bool   `json:"enabled"`
		MinLevel   string `json:"min_level"`
		RatePerSec int    `json:"rate_per_sec"`
	} `json:"telegram"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
	Readers     int    `json:"readers"`
}

// GatewayConfig points at the account gateway that owns user sessions.
// APIID/APIHash are process defaults; actors may override them.
type GatewayConfig struct {
	BaseURL         string `json:"base_url"`
	Token           string `json:"token"`
	APIID           int    `json:"api_id"`
	APIHash         string `json:"api_hash"`
	Timeout         string `json:"timeout"`
	RatePerSec      int    `json:"rate_per_sec"`
	BreakerFailures int    `json:"breaker_failures"`
	BreakerCooldown string `json:"breaker_cooldown"`
}

type SchedulerConfig struct {
	Tick       string `json:"tick"`
	JobTimeout string `json:"job_timeout"`
	// Timezone decides calendar days for credential expiry. Empty means local.
	Timezone string `json:"timezone"`
}

type TaskEngineConfig struct {
	Workers        int    `json:"workers"`
	QueueSize      int    `json:"queue_size"`
	DefaultTimeout string `json:"default_timeout"`
	HistorySize    int    `json:"history_size"`
}

type NotifierConfig struct {
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup"`
}

// ObservabilityConfig controls the /metrics, /healthz and pprof listener.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr"`
	Token         string `json:"token"`
	AllowInsecure bool   `json:"allow_insecure"`
	Pprof         bool   `json:"pprof"`
	ReadTimeout   string `json:"read_timeout"`
	WriteTimeout  string `json:"write_timeout"`
}

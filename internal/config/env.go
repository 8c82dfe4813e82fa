package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "CASTBOT"

// envOverlay lists the settings that may come from the environment.
// Secrets live here so they can stay out of the config file.
type envOverlay struct {
	TelegramToken  string  `envconfig:"TELEGRAM_TOKEN"`
	OperatorChatID int64   `envconfig:"TELEGRAM_OPERATOR_CHAT_ID"`
	Admins         []int64 `envconfig:"TELEGRAM_ADMINS"`

	GatewayBaseURL string `envconfig:"GATEWAY_BASE_URL"`
	GatewayToken   string `envconfig:"GATEWAY_TOKEN"`
	GatewayAPIID   int    `envconfig:"GATEWAY_API_ID"`
	GatewayAPIHash string `envconfig:"GATEWAY_API_HASH"`

	StoragePath string `envconfig:"STORAGE_PATH"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	ObservabilityAddr  string `envconfig:"OBSERVABILITY_ADDR"`
	ObservabilityToken string `envconfig:"OBSERVABILITY_TOKEN"`
}

// ApplyEnv overlays CASTBOT_* environment variables on cfg. Unset variables
// leave the file value untouched.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config env: %w", err)
	}

	setStr := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setStr(&cfg.Telegram.Token, env.TelegramToken)
	setStr(&cfg.Gateway.BaseURL, env.GatewayBaseURL)
	setStr(&cfg.Gateway.Token, env.GatewayToken)
	setStr(&cfg.Gateway.APIHash, env.GatewayAPIHash)
	setStr(&cfg.Storage.Path, env.StoragePath)
	setStr(&cfg.Logging.Level, env.LogLevel)
	setStr(&cfg.Observability.Addr, env.ObservabilityAddr)
	setStr(&cfg.Observability.Token, env.ObservabilityToken)

	if env.OperatorChatID != 0 {
		cfg.Telegram.OperatorChatID = env.OperatorChatID
	}
	if env.GatewayAPIID != 0 {
		cfg.Gateway.APIID = env.GatewayAPIID
	}
	if len(env.Admins) > 0 {
		cfg.Telegram.Admins = env.Admins
	}
	return nil
}

package notifier

import (
	"context"
	"time"
)

// Sink is where the scheduler and the wizard report to humans.
type Sink interface {
	NotifyOwner(ctx context.Context, actorID int64, text string) error
	NotifyOperator(ctx context.Context, text string) error
}

// Config controls the async notification pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool

	// OperatorChatID receives operator notices. 0 means log only.
	OperatorChatID int64
}

// Audience of a notice.
const (
	AudienceOwner    = "owner"
	AudienceOperator = "operator"
)

type HistoryItem struct {
	At       time.Time
	Audience string
	ChatID   int64
	Text     string
}

// NotificationEvent is the Data of notifier.* bus events.
type NotificationEvent struct {
	Audience string `json:"audience"`
	ChatID   int64  `json:"chat_id"`
	Key      string `json:"key,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DedupStore persists dedup windows across restarts.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
}

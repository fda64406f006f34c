package notifier

import "time"

type Config struct {
	Admins []int64 // NotifyAdmins fan-out list
	// Operator receives direct notifications whose recipient could not be
	// reached. Zero disables the fallback.
	Operator      int64
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
	SendTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	c.RetryMax = max(c.RetryMax, 0)
	c.DedupWindow = max(c.DedupWindow, 0)
	c.Admins = append([]int64(nil), c.Admins...)
	return c
}

// HistoryItem is a delivered notification.
type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}

// NotificationEvent is the payload of notifier.sent, notifier.failed and
// notifier.deduped.
type NotificationEvent struct {
	ChatID int64     `json:"chat_id"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

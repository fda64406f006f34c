package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`

	// Scheduler controls trigger behavior (broadcast slots, report job).
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution settings for scheduled tasks.
	TaskEngine TaskEngineConfig `json:"task_engine"`

	Broadcast  BroadcastConfig  `json:"broadcast"`
	Report     ReportConfig     `json:"report"`
	Membership MembershipConfig `json:"membership"`
}

type TelegramConfig struct {
	Token    string  `json:"token"`
	AdminIDs []int64 `json:"admin_ids"`
	// OperatorID receives membership notices when the actor cannot be reached.
	// Defaults to the first admin id.
	OperatorID int64  `json:"operator_id,omitempty"`
	GroupLog   string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the directory backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/divulgabot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SchedulerConfig struct {
	// Timezone is an IANA zone name; empty means UTC.
	Timezone string `json:"timezone,omitempty"`
	// BroadcastTimes are "HH:MM" wall-clock slots, one independent job each.
	BroadcastTimes []string `json:"broadcast_times"`
	// TaskTimeout bounds a single run (Go duration string, "0s" disables).
	TaskTimeout string `json:"task_timeout,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - history_size: 100
//   - retry_max: 0 (scheduled jobs are not retried)
type TaskEngineConfig struct {
	Workers     int `json:"workers,omitempty"`
	QueueSize   int `json:"queue_size,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

type BroadcastConfig struct {
	Header string `json:"header,omitempty"`
	// BatchSize > 0 splits recipients into groups of this size, one message per group.
	BatchSize int `json:"batch_size,omitempty"`
	// Shuffle randomizes recipient order once per run. Defaults to true.
	Shuffle *bool `json:"shuffle,omitempty"`
	// ThrottleDelay is the minimum pause after a platform flood-wait.
	ThrottleDelay string `json:"throttle_delay,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	// RepresentativeChatID receives each batch message; 0 means the group's first channel.
	RepresentativeChatID int64  `json:"representative_chat_id,omitempty"`
	LookupTimeout        string `json:"lookup_timeout,omitempty"`
}

type ReportConfig struct {
	// Schedule is "HH:MM" (daily) or "<weekday> HH:MM" (weekly). Empty disables the report.
	Schedule string `json:"schedule,omitempty"`
}

type MembershipConfig struct {
	// AutoApprove marks channels registered from admin promotions as approved.
	// Defaults to true.
	AutoApprove *bool `json:"auto_approve,omitempty"`
}

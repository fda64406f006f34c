package app

import (
	"strconv"
	"strings"
	"time"

	"divulgabot/internal/broadcast"
	"divulgabot/internal/config"
	"divulgabot/internal/directory"
	"divulgabot/internal/membership"
	"divulgabot/internal/notifier"
	"divulgabot/internal/storage"
	"divulgabot/internal/task/engine"
	"divulgabot/internal/task/scheduler"
	logx "divulgabot/pkg/logx"
)

const (
	defaultBroadcastTimeout = 30 * time.Minute
	reportTimeout           = time.Minute
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

// mapLogConfig keeps Telegram logging disabled until a target chat is known;
// logx warns when the sink is enabled without one.
func mapLogConfig(cfg *config.Config) (logx.Config, int64) {
	target := groupLogChat(cfg)
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && target != 0,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, target
}

func groupLogChat(cfg *config.Config) int64 {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Workers:        cfg.TaskEngine.Workers,
		QueueSize:      cfg.TaskEngine.QueueSize,
		DefaultTimeout: cfg.TaskTimeout(),
		HistorySize:    cfg.TaskEngine.HistorySize,
		RetryMax:       cfg.TaskEngine.RetryMax,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	return scheduler.Config{Timezone: tz}
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{
		Header:               cfg.Broadcast.Header,
		BatchSize:            cfg.Broadcast.BatchSize,
		Shuffle:              cfg.ShuffleRecipients(),
		ThrottleDelay:        cfg.ThrottleDelay(),
		RatePerSec:           cfg.Broadcast.RatePerSec,
		RepresentativeChatID: cfg.Broadcast.RepresentativeChatID,
		LookupTimeout:        cfg.LookupTimeout(),
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Admins:      cfg.Telegram.AdminIDs,
		Operator:    cfg.Operator(),
		RetryMax:    2,
		DedupWindow: 30 * time.Second,
	}
}

func mapMembershipConfig(cfg *config.Config) membership.Config {
	return membership.Config{AutoApprove: cfg.AutoApprove()}
}

func mapDirectoryConfig(cfg *config.Config) directory.Config {
	timeout := cfg.TaskTimeout()
	if timeout <= 0 {
		timeout = defaultBroadcastTimeout
	}
	return directory.Config{LookupTimeout: cfg.LookupTimeout(), BroadcastTimeout: timeout}
}

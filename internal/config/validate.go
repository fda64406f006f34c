package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultHeader = "🔥 Canais e grupos parceiros do DivulgaHot 🔥\n" +
		"👇 Toque para entrar e divulgue você também com /cadastrar"

	defaultThrottleDelay = 4 * time.Second
	defaultLookupTimeout = 5 * time.Second
	defaultRatePerSec    = 20
)

// ConfigurationError is fatal at startup: the process must refuse to run.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func cfgErr(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "./data/divulgabot.db"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Broadcast.Header) == "" {
		c.Broadcast.Header = DefaultHeader
	}
	if c.Broadcast.RatePerSec <= 0 {
		c.Broadcast.RatePerSec = defaultRatePerSec
	}
	if c.TaskEngine.Workers <= 0 {
		c.TaskEngine.Workers = 2
	}
	if c.TaskEngine.QueueSize <= 0 {
		c.TaskEngine.QueueSize = 64
	}
	if c.TaskEngine.HistorySize <= 0 {
		c.TaskEngine.HistorySize = 100
	}
}

// Validate checks required fields and parses every free-form value once so
// bad input surfaces at startup instead of at the first scheduled run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return cfgErr("telegram.token", "missing bot token")
	}
	if len(c.Telegram.AdminIDs) == 0 {
		return cfgErr("telegram.admin_ids", "at least one admin id is required")
	}
	for _, id := range c.Telegram.AdminIDs {
		if id <= 0 {
			return cfgErr("telegram.admin_ids", "invalid user id %d", id)
		}
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return cfgErr("telegram.poll_timeout", "%v", err)
	}

	switch c.Storage.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return cfgErr("storage.path", "required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return cfgErr("storage.dsn", "required for postgres")
		}
	case "memory":
	default:
		return cfgErr("storage.driver", "unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return cfgErr("storage.busy_timeout", "%v", err)
	}

	if _, err := c.Location(); err != nil {
		return cfgErr("scheduler.timezone", "%v", err)
	}
	seen := make(map[string]struct{}, len(c.Scheduler.BroadcastTimes))
	for _, hhmm := range c.Scheduler.BroadcastTimes {
		h, m, err := ParseClock(hhmm)
		if err != nil {
			return cfgErr("scheduler.broadcast_times", "%v", err)
		}
		slot := fmt.Sprintf("%02d:%02d", h, m)
		if _, dup := seen[slot]; dup {
			return cfgErr("scheduler.broadcast_times", "duplicate slot %q", slot)
		}
		seen[slot] = struct{}{}
	}
	if _, err := ParseDurationField("scheduler.task_timeout", c.Scheduler.TaskTimeout); err != nil {
		return cfgErr("scheduler.task_timeout", "%v", err)
	}

	if c.Broadcast.BatchSize < 0 {
		return cfgErr("broadcast.batch_size", "must be >= 0")
	}
	if _, err := ParseDurationField("broadcast.throttle_delay", c.Broadcast.ThrottleDelay); err != nil {
		return cfgErr("broadcast.throttle_delay", "%v", err)
	}
	if _, err := ParseDurationField("broadcast.lookup_timeout", c.Broadcast.LookupTimeout); err != nil {
		return cfgErr("broadcast.lookup_timeout", "%v", err)
	}

	if strings.TrimSpace(c.Report.Schedule) != "" {
		if _, err := ParseReportSchedule(c.Report.Schedule); err != nil {
			return cfgErr("report.schedule", "%v", err)
		}
	}
	return nil
}

// Location resolves scheduler.timezone (UTC when empty).
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

// Operator returns the fallback recipient for membership notices.
func (c *Config) Operator() int64 {
	if c.Telegram.OperatorID != 0 {
		return c.Telegram.OperatorID
	}
	if len(c.Telegram.AdminIDs) > 0 {
		return c.Telegram.AdminIDs[0]
	}
	return 0
}

func (c *Config) AutoApprove() bool {
	return c.Membership.AutoApprove == nil || *c.Membership.AutoApprove
}

func (c *Config) ShuffleRecipients() bool {
	return c.Broadcast.Shuffle == nil || *c.Broadcast.Shuffle
}

func (c *Config) ThrottleDelay() time.Duration {
	d, _ := ParseDurationOrDefault("broadcast.throttle_delay", c.Broadcast.ThrottleDelay, defaultThrottleDelay)
	return d
}

func (c *Config) LookupTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("broadcast.lookup_timeout", c.Broadcast.LookupTimeout, defaultLookupTimeout)
	return d
}

func (c *Config) TaskTimeout() time.Duration {
	d, _ := ParseDurationField("scheduler.task_timeout", c.Scheduler.TaskTimeout)
	return d
}

func (c *Config) PollTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	return d
}

// IsAdmin reports whether userID is in telegram.admin_ids.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ParseClock parses a 24h "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	hour, err = strconv.Atoi(hs)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(ms)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// ReportSchedule is a parsed report.schedule value.
type ReportSchedule struct {
	Weekly  bool
	Weekday time.Weekday
	Clock   string // normalized "HH:MM"
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday, "dom": time.Sunday, "domingo": time.Sunday,
	"mon": time.Monday, "monday": time.Monday, "seg": time.Monday, "segunda": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday, "ter": time.Tuesday, "terca": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday, "qua": time.Wednesday, "quarta": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday, "qui": time.Thursday, "quinta": time.Thursday,
	"fri": time.Friday, "friday": time.Friday, "sex": time.Friday, "sexta": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday, "sab": time.Saturday, "sabado": time.Saturday,
}

// ParseReportSchedule accepts "HH:MM" (daily) or "<weekday> HH:MM" (weekly).
func ParseReportSchedule(s string) (ReportSchedule, error) {
	fields := strings.Fields(strings.ToLower(s))
	var rs ReportSchedule
	switch len(fields) {
	case 1:
		rs.Clock = fields[0]
	case 2:
		wd, ok := weekdays[fields[0]]
		if !ok {
			return ReportSchedule{}, fmt.Errorf("unknown weekday %q", fields[0])
		}
		rs.Weekly, rs.Weekday, rs.Clock = true, wd, fields[1]
	default:
		return ReportSchedule{}, fmt.Errorf("invalid schedule %q", s)
	}
	h, m, err := ParseClock(rs.Clock)
	if err != nil {
		return ReportSchedule{}, err
	}
	rs.Clock = fmt.Sprintf("%02d:%02d", h, m)
	return rs, nil
}

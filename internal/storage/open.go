package storage

import (
	"fmt"
	"strings"

	logx "divulgabot/pkg/logx"
)

type opener func(cfg Config, log logx.Logger) (Store, error)

var drivers = map[string]opener{
	"memory":     func(Config, logx.Logger) (Store, error) { return NewMemory(), nil },
	"sqlite":     openSQLite,
	"sqlite3":    openSQLite,
	"postgres":   openPostgres,
	"postgresql": openPostgres,
}

// Open connects the store named by cfg.Driver and applies its schema.
// An empty driver or "none" yields ErrDisabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, ErrDisabled
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q", name)
	}
	return open(cfg, log)
}

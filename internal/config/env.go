package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvToken    = "DIVULGA_TELEGRAM_TOKEN"
	EnvAdminIDs = "DIVULGA_ADMIN_IDS"
	EnvDSN      = "DIVULGA_STORAGE_DSN"
)

// LoadDotEnv loads KEY=VALUE pairs from files into the process environment.
// Variables already set win. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays secrets from the environment so they can stay out of the
// config file.
func ApplyEnv(cfg *Config) error {
	return applyEnvFrom(cfg, os.LookupEnv)
}

func applyEnvFrom(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvDSN); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.DSN = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAdminIDs); ok && strings.TrimSpace(v) != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return cfgErr(EnvAdminIDs, "%v", err)
		}
		cfg.Telegram.AdminIDs = ids
	}
	return nil
}

func parseIDList(raw string) ([]int64, error) {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "divulgabot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

const channelCols = `seq, chat_id, display_name, public_handle, approved, created_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and makes transactions
	// exclusive within the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "storage.sqlite"))}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	st.log.Info("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(r rowScanner) (Channel, error) {
	var (
		c        Channel
		approved int
		created  string
	)
	if err := r.Scan(&c.Seq, &c.ID, &c.DisplayName, &c.PublicHandle, &approved, &created); err != nil {
		return Channel{}, err
	}
	c.Approved = approved != 0
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return c, nil
}

func (s *sqliteStore) Register(ctx context.Context, id int64, name, handle string, approved bool) (Channel, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(chat_id, display_name, public_handle, approved, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(chat_id) DO NOTHING`,
		id, name, strings.TrimPrefix(handle, "@"), boolInt(approved), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Channel{}, false, err
	}
	n, _ := res.RowsAffected()
	c, err := s.Get(ctx, id)
	if err != nil {
		return Channel{}, false, err
	}
	return c, n > 0, nil
}

func (s *sqliteStore) SetApproved(ctx context.Context, id int64, approved bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE channels SET approved = ? WHERE chat_id = ?`, boolInt(approved), id)
	if err != nil {
		return err
	}
	// sqlite counts matched rows, so 0 means the id is unknown.
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

func (s *sqliteStore) Remove(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE chat_id = ?`, id)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (Channel, error) {
	c, err := scanChannel(s.db.QueryRowContext(ctx, `SELECT `+channelCols+` FROM channels WHERE chat_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, &NotFoundError{ID: id}
	}
	return c, err
}

func (s *sqliteStore) GetBySeq(ctx context.Context, seq int64) (Channel, error) {
	c, err := scanChannel(s.db.QueryRowContext(ctx, `SELECT `+channelCols+` FROM channels WHERE seq = ?`, seq))
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, &NotFoundError{Seq: seq}
	}
	return c, err
}

func (s *sqliteStore) List(ctx context.Context, f ListFilter) ([]Channel, error) {
	q := `SELECT ` + channelCols + ` FROM channels`
	var args []any
	if f.Approved != nil {
		q += ` WHERE approved = ?`
		args = append(args, boolInt(*f.Approved))
	}
	q += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountApproved(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels WHERE approved = 1`).Scan(&n)
	return n, err
}

func (s *sqliteStore) IncrementViews(ctx context.Context, n int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE counters SET value = value + ? WHERE name = 'views'`, n)
	return err
}

func (s *sqliteStore) ReadAndResetViews(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var v int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = 'views'`).Scan(&v); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE counters SET value = 0 WHERE name = 'views'`); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, channel_id, action, source, detail) VALUES(?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, e.ChannelID, e.Action, nullStr(e.Source), nullStr(e.Detail),
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

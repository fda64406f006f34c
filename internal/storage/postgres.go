package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	logx "divulgabot/pkg/logx"
)

type channelRow struct {
	Seq          int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	ChatID       int64     `gorm:"column:chat_id;not null;uniqueIndex"`
	DisplayName  string    `gorm:"column:display_name;not null;default:''"`
	PublicHandle string    `gorm:"column:public_handle;not null;default:''"`
	Approved     bool      `gorm:"column:approved;not null;default:false;index:idx_channels_approved"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (channelRow) TableName() string { return "channels" }

func (r channelRow) channel() Channel {
	return Channel{
		Seq:          r.Seq,
		ID:           r.ChatID,
		DisplayName:  r.DisplayName,
		PublicHandle: r.PublicHandle,
		Approved:     r.Approved,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

type counterRow struct {
	Name  string `gorm:"column:name;primaryKey"`
	Value int64  `gorm:"column:value;not null;default:0"`
}

func (counterRow) TableName() string { return "counters" }

type auditRow struct {
	ID        uint      `gorm:"primaryKey"`
	At        time.Time `gorm:"column:at;not null;index"`
	ActorID   int64     `gorm:"column:actor_id;not null;default:0"`
	ChannelID int64     `gorm:"column:channel_id;not null;default:0"`
	Action    string    `gorm:"column:action;not null"`
	Source    string    `gorm:"column:source"`
	Detail    string    `gorm:"column:detail"`
}

func (auditRow) TableName() string { return "audit" }

const viewsCounter = "views"

type postgresStore struct {
	db  *gorm.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	log = log.With(logx.String("comp", "storage.postgres"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         &gormLogger{log: log, level: logger.Warn},
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&channelRow{}, &counterRow{}, &auditRow{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&counterRow{Name: viewsCounter}).Error; err != nil {
		return nil, fmt.Errorf("seed counters: %w", err)
	}
	log.Info("postgres store ready")
	return &postgresStore{db: db, log: log}, nil
}

func (s *postgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *postgresStore) Register(ctx context.Context, id int64, name, handle string, approved bool) (Channel, bool, error) {
	row := channelRow{
		ChatID:       id,
		DisplayName:  name,
		PublicHandle: strings.TrimPrefix(handle, "@"),
		Approved:     approved,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "chat_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return Channel{}, false, res.Error
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return Channel{}, false, err
	}
	return c, res.RowsAffected > 0, nil
}

func (s *postgresStore) SetApproved(ctx context.Context, id int64, approved bool) error {
	res := s.db.WithContext(ctx).
		Model(&channelRow{}).
		Where("chat_id = ?", id).
		Update("approved", approved)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

func (s *postgresStore) Remove(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Where("chat_id = ?", id).Delete(&channelRow{}).Error
}

func (s *postgresStore) first(ctx context.Context, nf *NotFoundError, query string, arg any) (Channel, error) {
	var row channelRow
	err := s.db.WithContext(ctx).Where(query, arg).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Channel{}, nf
	}
	if err != nil {
		return Channel{}, err
	}
	return row.channel(), nil
}

func (s *postgresStore) Get(ctx context.Context, id int64) (Channel, error) {
	return s.first(ctx, &NotFoundError{ID: id}, "chat_id = ?", id)
}

func (s *postgresStore) GetBySeq(ctx context.Context, seq int64) (Channel, error) {
	return s.first(ctx, &NotFoundError{Seq: seq}, "seq = ?", seq)
}

func (s *postgresStore) List(ctx context.Context, f ListFilter) ([]Channel, error) {
	q := s.db.WithContext(ctx).Model(&channelRow{})
	if f.Approved != nil {
		q = q.Where("approved = ?", *f.Approved)
	}
	var rows []channelRow
	if err := q.Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Channel, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.channel())
	}
	return out, nil
}

func (s *postgresStore) CountApproved(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&channelRow{}).Where("approved = ?", true).Count(&n).Error
	return int(n), err
}

func (s *postgresStore) IncrementViews(ctx context.Context, n int64) error {
	return s.db.WithContext(ctx).
		Model(&counterRow{}).
		Where("name = ?", viewsCounter).
		UpdateColumn("value", gorm.Expr("value + ?", n)).Error
}

func (s *postgresStore) ReadAndResetViews(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row counterRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("name = ?", viewsCounter).
			Take(&row).Error; err != nil {
			return err
		}
		v = row.Value
		return tx.Model(&counterRow{}).Where("name = ?", viewsCounter).UpdateColumn("value", 0).Error
	})
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return s.db.WithContext(ctx).Create(&auditRow{
		At:        e.At.UTC(),
		ActorID:   e.ActorID,
		ChannelID: e.ChannelID,
		Action:    e.Action,
		Source:    e.Source,
		Detail:    e.Detail,
	}).Error
}

// gormLogger routes gorm diagnostics through logx.
type gormLogger struct {
	log   logx.Logger
	level logger.LogLevel
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.log.Debug(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		query, rows := fc()
		l.log.Warn("postgres query failed",
			logx.String("sql", query),
			logx.Int64("rows", rows),
			logx.Duration("took", time.Since(begin)),
			logx.Err(err),
		)
		return
	}
	if l.level >= logger.Info {
		query, rows := fc()
		l.log.Trace("postgres query", logx.String("sql", query), logx.Int64("rows", rows), logx.Duration("took", time.Since(begin)))
	}
}

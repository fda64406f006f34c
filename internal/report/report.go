// Package report sends the periodic views/channels summary to the admins.
package report

import (
	"context"
	"fmt"
	"time"

	"divulgabot/internal/storage"
	kit "divulgabot/internal/transport"
	logx "divulgabot/pkg/logx"
	"divulgabot/pkg/tgui"
)

// AdminNotifier fans a message out to the configured admins.
type AdminNotifier interface {
	NotifyAdmins(ctx context.Context, text string, opt *kit.SendOptions) (int, error)
}

// Job reads and resets the views counter, then reports it. If nobody
// receives the report the views are put back for the next run.
type Job struct {
	store  storage.Store
	notify AdminNotifier
	zone   func() *time.Location
	log    logx.Logger
	now    func() time.Time
}

// New builds the job. zone yields the location the report is stamped in,
// read on every run so timezone reloads apply; nil means UTC.
func New(store storage.Store, notify AdminNotifier, zone func() *time.Location, log logx.Logger) *Job {
	if log.IsZero() {
		log = logx.Nop()
	}
	if zone == nil {
		zone = func() *time.Location { return time.UTC }
	}
	return &Job{store: store, notify: notify, zone: zone, log: log.With(logx.String("comp", "report")), now: time.Now}
}

// Run matches the scheduler job signature.
func (j *Job) Run(ctx context.Context) error {
	total, err := j.store.CountApproved(ctx)
	if err != nil {
		return fmt.Errorf("count approved: %w", err)
	}
	views, err := j.store.ReadAndResetViews(ctx)
	if err != nil {
		return fmt.Errorf("read views: %w", err)
	}

	sent, err := j.notify.NotifyAdmins(ctx, Format(views, total, j.stamp()), &kit.SendOptions{ParseMode: "HTML"})
	if err != nil {
		// Use a fresh context: ctx may be the reason the send failed.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := j.store.IncrementViews(rctx, views); rerr != nil {
			j.log.Error("views lost after failed report", logx.Int64("views", views), logx.Err(rerr))
		}
		return fmt.Errorf("send report: %w", err)
	}
	j.log.Info("report sent", logx.Int64("views", views), logx.Int("channels", total), logx.Int("admins", sent))
	return nil
}

func (j *Job) stamp() time.Time {
	if loc := j.zone(); loc != nil {
		return j.now().In(loc)
	}
	return j.now().UTC()
}

// Format renders the report body.
func Format(views int64, channels int, at time.Time) string {
	return tgui.JoinH("\n",
		tgui.B("📊 Relatório DivulgaHot"),
		tgui.Esc(fmt.Sprintf("👁 Visualizações da lista: %d", views)),
		tgui.Esc(fmt.Sprintf("📢 Canais aprovados: %d", channels)),
		tgui.I(at.Format("02/01/2006 15:04")),
	).String()
}

package app

import (
	"context"
	"fmt"
	"time"

	"divulgabot/internal/broadcast"
	"divulgabot/internal/eventbus"
	"divulgabot/internal/storage"
	logx "divulgabot/pkg/logx"
)

// auditEntry maps a bus event to the audit row it produces. ok is false for
// events that are not audited.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	switch e.Type {
	case eventbus.TypeChannelRegistered, eventbus.TypeChannelApproved, eventbus.TypeChannelRejected:
		ch, ok := e.Data.(eventbus.DirectoryChange)
		if !ok {
			return storage.AuditEntry{}, false
		}
		return storage.AuditEntry{
			At:        at,
			ActorID:   ch.ActorID,
			ChannelID: ch.ChannelID,
			Action:    e.Type,
			Source:    ch.Source,
			Detail:    ch.Detail,
		}, true
	case eventbus.TypeBroadcastFinished:
		rep, ok := e.Data.(broadcast.Report)
		if !ok {
			return storage.AuditEntry{}, false
		}
		return storage.AuditEntry{
			At:     at,
			Action: e.Type,
			Source: "broadcast",
			Detail: fmt.Sprintf("groups=%d sent=%d failed=%d", rep.Groups, rep.Sent, len(rep.Failed)),
		}, true
	}
	return storage.AuditEntry{}, false
}

// runAudit persists directory events until ctx is done.
func runAudit(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			entry, ok := auditEntry(e)
			if !ok {
				log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := store.AppendAudit(wctx, entry)
			cancel()
			if err != nil {
				log.Warn("audit append failed", logx.String("action", entry.Action), logx.Int64("channel_id", entry.ChannelID), logx.Err(err))
			}
		}
	}
}

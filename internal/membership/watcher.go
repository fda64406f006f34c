// Package membership registers channels when the bot is promoted to admin.
package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"divulgabot/internal/eventbus"
	"divulgabot/internal/storage"
	kit "divulgabot/internal/transport"
	logx "divulgabot/pkg/logx"
	"divulgabot/pkg/tgui"
)

type Config struct {
	// AutoApprove marks promoted channels as approved immediately.
	AutoApprove bool
	// StoreTimeout bounds store calls per event.
	StoreTimeout time.Duration
}

// Notifier delivers the confirmation to the promoting user.
type Notifier interface {
	DirectWithFallback(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) (int64, error)
}

type Watcher struct {
	mu  sync.Mutex
	cfg Config

	store  storage.Store
	notify Notifier
	bus    eventbus.Bus
	log    logx.Logger
}

func New(cfg Config, store storage.Store, notify Notifier, bus eventbus.Bus, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &Watcher{
		store:  store,
		notify: notify,
		bus:    bus,
		log:    log.With(logx.String("comp", "membership")),
	}
	w.Apply(cfg)
	return w
}

func (w *Watcher) Apply(cfg Config) {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
}

// Promoted reports whether ch is the bot itself gaining admin rights.
func Promoted(ch kit.MembershipChange) bool {
	return ch.Self && !ch.OldStatus.IsAdmin() && ch.NewStatus.IsAdmin()
}

// Demoted reports whether ch is the bot itself losing admin rights.
func Demoted(ch kit.MembershipChange) bool {
	return ch.Self && ch.OldStatus.IsAdmin() && !ch.NewStatus.IsAdmin()
}

// Handle processes one membership change. Errors are logged; the caller
// has nothing to retry.
func (w *Watcher) Handle(ctx context.Context, ch kit.MembershipChange) {
	if ch.Chat.ID == 0 {
		w.log.Warn("membership event dropped: missing chat id", logx.String("new_status", string(ch.NewStatus)))
		return
	}
	log := w.log.With(
		logx.Int64("chat_id", ch.Chat.ID),
		logx.String("old_status", string(ch.OldStatus)),
		logx.String("new_status", string(ch.NewStatus)),
	)
	switch {
	case Promoted(ch):
		w.register(ctx, ch, log)
	case Demoted(ch):
		// Records are only removed by an explicit admin rejection.
		log.Info("bot lost admin rights; directory entry kept", logx.Int64("actor_id", ch.Actor.ID))
	default:
		log.Debug("membership change ignored", logx.Bool("self", ch.Self))
	}
}

func (w *Watcher) register(ctx context.Context, ch kit.MembershipChange, log logx.Logger) {
	w.mu.Lock()
	cfg := w.cfg
	w.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	rec, created, err := w.store.Register(sctx, ch.Chat.ID, ch.Chat.Title, ch.Chat.Username, cfg.AutoApprove)
	if err != nil {
		log.Error("channel registration failed", logx.Err(err))
		return
	}
	if !created && cfg.AutoApprove && !rec.Approved {
		if err := w.store.SetApproved(sctx, ch.Chat.ID, true); err != nil {
			log.Error("channel approval failed", logx.Err(err))
			return
		}
		rec.Approved = true
	}
	log.Info("channel registered from promotion",
		logx.Bool("created", created),
		logx.Bool("approved", rec.Approved),
		logx.Int64("actor_id", ch.Actor.ID),
	)

	if w.bus != nil {
		w.bus.Publish(eventbus.Event{Type: eventbus.TypeChannelRegistered, Data: eventbus.DirectoryChange{
			ChannelID: ch.Chat.ID,
			Title:     ch.Chat.Title,
			ActorID:   ch.Actor.ID,
			Source:    "membership",
			Detail:    fmt.Sprintf("created=%t approved=%t", created, rec.Approved),
		}})
	}

	if w.notify == nil {
		return
	}
	to, err := w.notify.DirectWithFallback(ctx, ch.Actor.ID, confirmation(ch.Chat, rec.Approved), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		log.Warn("promotion notice not delivered", logx.Int64("actor_id", ch.Actor.ID), logx.Err(err))
		return
	}
	log.Debug("promotion notice delivered", logx.Int64("to", to))
}

func confirmation(c kit.Chat, approved bool) string {
	title := c.Title
	if title == "" {
		title = fmt.Sprintf("Canal %d", c.ID)
	}
	name := tgui.B(title).String()
	if c.Username != "" {
		name += " (@" + tgui.Esc(c.Username).String() + ")"
	}
	if approved {
		return "✅ " + name + " foi adicionado à lista de divulgação e já participa das próximas divulgações."
	}
	return "📥 " + name + " foi cadastrado e aguarda aprovação de um administrador."
}

package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"divulgabot/internal/eventbus"
	kit "divulgabot/internal/transport"
	logx "divulgabot/pkg/logx"
)

const historySize = 300

var (
	ErrNoRecipient = errors.New("notifier: no recipient")
	ErrDeduped     = errors.New("notifier: duplicate suppressed")
)

// Sender is the part of the transport adapter the notifier uses.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Service delivers notifications synchronously under a shared rate limit.
type Service struct {
	log    logx.Logger
	sender Sender
	bus    eventbus.Bus
	recent recentSet

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	histMu  sync.Mutex
	history []HistoryItem

	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "notifier")),
		sender: sender,
		bus:    bus,
		sleep:  sleepCtx,
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) settings() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// Admins is the current fan-out list.
func (s *Service) Admins() []int64 {
	cfg, _ := s.settings()
	return cfg.Admins
}

// Direct sends text to one chat. The same text to the same chat inside
// the dedup window returns ErrDeduped without sending.
func (s *Service) Direct(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) error {
	if chatID == 0 {
		return ErrNoRecipient
	}
	cfg, _ := s.settings()
	key := messageKey(chatID, text)
	if cfg.DedupWindow > 0 && !s.recent.claim(key, cfg.DedupWindow, time.Now()) {
		s.emit("notifier.deduped", chatID, key, nil)
		return ErrDeduped
	}
	if err := s.deliver(ctx, chatID, text, opt); err != nil {
		s.recent.release(key)
		s.emit("notifier.failed", chatID, key, err)
		return err
	}
	s.remember(chatID, text)
	s.emit("notifier.sent", chatID, key, nil)
	return nil
}

// DirectWithFallback tries chatID and then the operator. It returns the
// chat that got the message.
func (s *Service) DirectWithFallback(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) (int64, error) {
	err := s.Direct(ctx, chatID, text, opt)
	if err == nil {
		return chatID, nil
	}
	cfg, _ := s.settings()
	if cfg.Operator == 0 || cfg.Operator == chatID {
		return 0, err
	}
	s.log.Info("notification redirected to operator",
		logx.Int64("chat_id", chatID),
		logx.Int64("operator_id", cfg.Operator),
		logx.Err(err),
	)
	if ferr := s.Direct(ctx, cfg.Operator, text, opt); ferr != nil {
		return 0, errors.Join(err, ferr)
	}
	return cfg.Operator, nil
}

// NotifyAdmins sends text to every admin and returns how many got it. It
// fails only when nobody did.
func (s *Service) NotifyAdmins(ctx context.Context, text string, opt *kit.SendOptions) (int, error) {
	admins := s.Admins()
	if len(admins) == 0 {
		return 0, ErrNoRecipient
	}
	sent := 0
	var errs []error
	for _, id := range admins {
		err := s.Direct(ctx, id, text, opt)
		if err == nil {
			sent++
			continue
		}
		s.log.Warn("admin notification failed", logx.Int64("chat_id", id), logx.Err(err))
		errs = append(errs, fmt.Errorf("admin %d: %w", id, err))
	}
	if sent == 0 {
		return 0, errors.Join(errs...)
	}
	return sent, nil
}

// Snapshot returns recent deliveries, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) remember(chatID int64, text string) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.history = append(s.history, HistoryItem{At: time.Now(), ChatID: chatID, Text: text})
	if over := len(s.history) - historySize; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

func (s *Service) emit(typ string, chatID int64, key string, err error) {
	if s.bus == nil {
		return
	}
	ev := NotificationEvent{ChatID: chatID, Key: key, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// deliver makes up to 1+RetryMax attempts, each behind the rate limiter
// and bounded by SendTimeout.
func (s *Service) deliver(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) error {
	if s.sender == nil {
		return ErrNoRecipient
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, lim := s.settings()
	to := kit.ChatTarget{ChatID: chatID}
	var err error
	for attempt := 1; ; attempt++ {
		if werr := lim.Wait(ctx); werr != nil {
			return werr
		}
		sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err = s.sender.SendText(sctx, to, text, opt)
		cancel()
		if err == nil || attempt > cfg.RetryMax {
			return err
		}
		s.log.Debug("notification attempt failed", logx.Int64("chat_id", chatID), logx.Int("attempt", attempt), logx.Err(err))
		if s.sleep(ctx, backoff(cfg, attempt, err)) != nil {
			return err
		}
	}
}

// backoff honors a flood wait exactly and otherwise doubles RetryBase per
// attempt with ±30% jitter, capped at RetryMaxDelay.
func backoff(cfg Config, attempt int, err error) time.Duration {
	if te, ok := kit.AsThrottle(err); ok && te.RetryAfter > 0 {
		return min(te.RetryAfter, cfg.RetryMaxDelay)
	}
	d := cfg.RetryBase << min(attempt-1, 20)
	d = time.Duration(float64(min(d, cfg.RetryMaxDelay)) * (0.7 + 0.6*rand.Float64()))
	return min(max(d, 0), cfg.RetryMaxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package broadcast

import (
	"errors"
	"fmt"
	"time"

	kit "divulgabot/internal/transport"
	"divulgabot/pkg/tgui"
)

type Config struct {
	Header string
	// BatchSize > 0 sends one message per group of this many channels.
	BatchSize int
	Shuffle   bool
	// ThrottleDelay is the floor pause after a flood-wait.
	ThrottleDelay time.Duration
	RatePerSec    int
	// RepresentativeChatID receives batch messages; 0 means each group's first channel.
	RepresentativeChatID int64
	LookupTimeout        time.Duration
}

var ErrRunInProgress = errors.New("broadcast already running")

type Button struct {
	Label string
	URL   string
}

// Composed is a ready-to-send broadcast message.
type Composed struct {
	Text    string
	Buttons []Button
}

// SendOptions lays the buttons out one per row.
func (c Composed) SendOptions() *kit.SendOptions {
	btns := make([]kit.Button, 0, len(c.Buttons))
	for _, b := range c.Buttons {
		btns = append(btns, tgui.URLBtn(tgui.TruncRunes(b.Label, tgui.MaxButtonText), b.URL))
	}
	return &kit.SendOptions{DisablePreview: true, Keyboard: tgui.Column(btns)}
}

type Failure struct {
	ChannelID int64
	Reason    string
}

// Report summarizes one dispatch.
type Report struct {
	Sent     int
	Failed   []Failure
	Groups   int
	Started  time.Time
	Finished time.Time
}

func (r *Report) merge(o Report) {
	r.Sent += o.Sent
	r.Failed = append(r.Failed, o.Failed...)
	r.Groups += o.Groups
}

// DeliveryError is a failed send to one recipient.
type DeliveryError struct {
	ChannelID int64
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %d: %v", e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// LookupError is a failed metadata lookup while composing.
type LookupError struct {
	ChannelID int64
	Err       error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %d: %v", e.ChannelID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// RunStatus is the outcome of the most recent Run.
type RunStatus struct {
	Trigger  string
	Channels int
	Report   Report
	Err      string
}

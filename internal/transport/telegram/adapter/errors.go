package adapter

import (
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "divulgabot/internal/transport"
)

// notFoundMarkers are Bot API descriptions meaning the chat or handle does
// not exist.
var notFoundMarkers = []string{"chat not found", "username_not_occupied", "username_invalid"}

// mapError turns telebot errors into the transport package's errors so no
// caller has to import telebot.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := floodWait(err); ok {
		return &kit.ThrottleError{RetryAfter: wait, Err: err}
	}
	if errors.Is(err, tele.ErrChatNotFound) {
		return errors.Join(kit.ErrChatNotFound, err)
	}
	desc := strings.ToLower(err.Error())
	for _, m := range notFoundMarkers {
		if strings.Contains(desc, m) {
			return errors.Join(kit.ErrChatNotFound, err)
		}
	}
	return err
}

// floodWait reads retry_after from a FloodError, by value or pointer.
func floodWait(err error) (time.Duration, bool) {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return time.Duration(fe.RetryAfter) * time.Second, true
	}
	var fp *tele.FloodError
	if errors.As(err, &fp) && fp != nil {
		return time.Duration(fp.RetryAfter) * time.Second, true
	}
	return 0, false
}

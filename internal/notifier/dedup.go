package notifier

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

// recentSet remembers message keys until their window ends.
type recentSet struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func messageKey(chatID int64, text string) string {
	h := fnv.New64a()
	_, _ = h.Write(strconv.AppendInt(nil, chatID, 10))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(text))
	return strconv.FormatUint(h.Sum64(), 16)
}

// claim records key for window and reports whether it was free. Expired
// keys are swept on the way.
func (r *recentSet) claim(key string, window time.Duration, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.until == nil {
		r.until = map[string]time.Time{}
	}
	if now.Before(r.until[key]) {
		return false
	}
	for k, t := range r.until {
		if !now.Before(t) {
			delete(r.until, k)
		}
	}
	r.until[key] = now.Add(window)
	return true
}

// release lets key through again, used after a failed delivery.
func (r *recentSet) release(key string) {
	r.mu.Lock()
	delete(r.until, key)
	r.mu.Unlock()
}

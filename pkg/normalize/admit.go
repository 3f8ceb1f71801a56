package normalize

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/harunnryd/freestream/pkg/alert"
)

// DefaultDuplicateWindow is how long identical spoken text is suppressed.
const DefaultDuplicateWindow = 5 * time.Second

// recentTexts suppresses repeats of the same spoken text within a window,
// whatever event produced them.
type recentTexts struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func newRecentTexts(window time.Duration) *recentTexts {
	return &recentTexts{window: window, seen: make(map[string]time.Time)}
}

// mark records text at now and reports whether it was not seen within the
// window. A zero window accepts everything.
func (r *recentTexts) mark(text string, now time.Time) bool {
	if r == nil || r.window <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, at := range r.seen {
		if now.Sub(at) >= r.window {
			delete(r.seen, k)
		}
	}
	if _, ok := r.seen[text]; ok {
		return false
	}
	r.seen[text] = now
	return true
}

func (r *recentTexts) forget(text string) {
	if r == nil || r.window <= 0 {
		return
	}
	r.mu.Lock()
	delete(r.seen, text)
	r.mu.Unlock()
}

// platformLimits holds one token bucket per platform. A platform without a
// positive per-minute limit is unlimited.
type platformLimits map[alert.Platform]*rate.Limiter

func newPlatformLimits(perMinute map[alert.Platform]int) platformLimits {
	out := make(platformLimits, len(perMinute))
	for p, n := range perMinute {
		if n > 0 {
			out[p] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		}
	}
	return out
}

func (l platformLimits) allow(p alert.Platform, now time.Time) bool {
	lim, ok := l[p]
	if !ok {
		return true
	}
	return lim.AllowN(now, 1)
}

// remaining reports the whole tokens left per limited platform.
func (l platformLimits) remaining(now time.Time) map[alert.Platform]int {
	out := make(map[alert.Platform]int, len(l))
	for p, lim := range l {
		out[p] = int(lim.TokensAt(now))
	}
	return out
}

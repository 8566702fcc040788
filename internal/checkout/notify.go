package checkout

import (
	"sync"

	"github.com/rs/zerolog"
)

type NoticeKind string

const (
	NoticeApplied  NoticeKind = "coupon_applied"
	NoticeNoneWork NoticeKind = "coupons_failed"
	NoticeNoCoupon NoticeKind = "no_coupons"
	NoticeNetwork  NoticeKind = "network_error"
)

// Notice is a user-facing message about a checkout.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	URL     string     `json:"url,omitempty"`
}

type Notifier interface {
	Notify(n Notice)
}

// LogNotifier writes notices to the log and keeps the most recent ones for
// clients that poll for them.
type LogNotifier struct {
	log  zerolog.Logger
	keep int

	mu     sync.Mutex
	recent []Notice
}

func NewLogNotifier(log zerolog.Logger, keep int) *LogNotifier {
	if keep <= 0 {
		keep = 20
	}
	return &LogNotifier{log: log.With().Str("component", "notify").Logger(), keep: keep}
}

func (n *LogNotifier) Notify(note Notice) {
	n.log.Info().Str("kind", string(note.Kind)).Str("url", note.URL).Msg(note.Title + ": " + note.Message)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.recent = append(n.recent, note)
	if len(n.recent) > n.keep {
		n.recent = append([]Notice(nil), n.recent[len(n.recent)-n.keep:]...)
	}
}

// Recent returns the retained notices, oldest first.
func (n *LogNotifier) Recent() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.recent...)
}

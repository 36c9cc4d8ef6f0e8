package handler

import (
	"sort"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/l1jgo/reclaimer/internal/net"
	"go.uber.org/zap"
)

// Broadcaster tracks connected console sessions and fans engine
// notifications out to the privileged ones. It implements reclaim.Notifier.
// Accessed only from the game loop goroutine.
type Broadcaster struct {
	sessions map[uint64]*net.Session
	minLevel int
	limit    *catrate.Limiter // per-kind throttle for NotifyAdmins, nil = unlimited
	log      *zap.Logger
}

// NewBroadcaster creates a broadcaster that lets at most perMinute alerts
// per entity kind through. perMinute <= 0 disables throttling.
func NewBroadcaster(minLevel, perMinute int, log *zap.Logger) *Broadcaster {
	b := &Broadcaster{
		sessions: make(map[uint64]*net.Session),
		minLevel: minLevel,
		log:      log,
	}
	if perMinute > 0 {
		b.limit = catrate.NewLimiter(map[time.Duration]int{time.Minute: perMinute})
	}
	return b
}

func (b *Broadcaster) Add(sess *net.Session) { b.sessions[sess.ID] = sess }
func (b *Broadcaster) Remove(id uint64)      { delete(b.sessions, id) }
func (b *Broadcaster) Len() int              { return len(b.sessions) }

// Sessions returns the tracked sessions ordered by ID.
func (b *Broadcaster) Sessions() []*net.Session {
	out := make([]*net.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Privileged reports whether sess may run reclamation commands and
// receives alerts.
func (b *Broadcaster) Privileged(sess *net.Session) bool {
	return sess.State() == net.StateAuthenticated && sess.AccessLevel >= b.minLevel
}

// Broadcast sends line to every privileged session and returns how many
// received it.
func (b *Broadcaster) Broadcast(line string) int {
	n := 0
	for _, s := range b.Sessions() {
		if s.IsClosed() || !b.Privileged(s) {
			continue
		}
		s.Send(line)
		n++
	}
	return n
}

// NotifyAdmins implements reclaim.Notifier.
func (b *Broadcaster) NotifyAdmins(kind, msg string) {
	if b.limit != nil {
		if _, ok := b.limit.Allow(kind); !ok {
			b.log.Debug("admin alert throttled", zap.String("kind", kind))
			return
		}
	}
	b.log.Warn("admin alert", zap.String("kind", kind), zap.String("msg", msg))
	b.Broadcast("[reclaim] " + msg)
}

// ReportScan implements reclaim.Notifier.
func (b *Broadcaster) ReportScan(line string) {
	b.Broadcast("[reffind] " + line)
}

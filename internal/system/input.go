package system

import (
	"time"

	coresys "github.com/l1jgo/reclaimer/internal/core/system"
	"github.com/l1jgo/reclaimer/internal/handler"
	"github.com/l1jgo/reclaimer/internal/net"
	"go.uber.org/zap"
)

// InputSystem drains console lines from all sessions and dispatches them
// through the console handlers. Phase 0 (Input).
type InputSystem struct {
	netServer  *net.Server
	deps       *handler.Deps
	maxPerTick int
	log        *zap.Logger
}

func NewInputSystem(netServer *net.Server, deps *handler.Deps, maxPerTick int, log *zap.Logger) *InputSystem {
	if maxPerTick <= 0 {
		maxPerTick = 1
	}
	return &InputSystem{
		netServer:  netServer,
		deps:       deps,
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	consoles := s.deps.Consoles

	// Accept new sessions
	for {
		select {
		case sess := <-s.netServer.NewSessions():
			consoles.Add(sess)
			s.log.Info("管理連線建立", zap.Uint64("session", sess.ID), zap.String("ip", sess.IP))
		default:
			goto doneNew
		}
	}
doneNew:

	// Process dead sessions
	for {
		select {
		case id := <-s.netServer.DeadSessions():
			consoles.Remove(id)
		default:
			goto doneDead
		}
	}
doneDead:

	// Drain lines from each session (up to maxPerTick per session)
	for _, sess := range consoles.Sessions() {
		if sess.IsClosed() {
			consoles.Remove(sess.ID)
			continue
		}
		s.drain(sess)
	}

	// 提前 flush：讓指令回應立即進入 OutQueue，
	// Phase 4 的 OutputSystem 會再 flush 之後產生的訊息（掃描結果、警告）。
	for _, sess := range consoles.Sessions() {
		sess.FlushOutput()
	}
}

func (s *InputSystem) drain(sess *net.Session) {
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case line := <-sess.InQueue:
			handler.Dispatch(sess, line, s.deps)
		default:
			return
		}
	}
}

// SessionCount returns the current number of console sessions.
func (s *InputSystem) SessionCount() int {
	return s.deps.Consoles.Len()
}

package system

import (
	"time"

	coresys "github.com/l1jgo/reclaimer/internal/core/system"
	"github.com/l1jgo/reclaimer/internal/handler"
)

// OutputSystem flushes console output produced after the input phase.
// Phase 4 (Output).
type OutputSystem struct {
	consoles *handler.Broadcaster
}

func NewOutputSystem(consoles *handler.Broadcaster) *OutputSystem {
	return &OutputSystem{consoles: consoles}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	for _, sess := range s.consoles.Sessions() {
		sess.FlushOutput()
	}
}

package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: drain admin console queues
	PhasePreUpdate               // 1: process last tick's events
	PhaseUpdate                  // 2: simulation logic (spawn/destroy churn)
	PhasePostUpdate              // 3: bookkeeping
	PhaseOutput                  // 4: flush console output
	PhasePersist                 // 5: report persistence
	PhaseCleanup                 // 6: reclamation engine fire step
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhasePreUpdate:
		return "pre-update"
	case PhaseUpdate:
		return "update"
	case PhasePostUpdate:
		return "post-update"
	case PhaseOutput:
		return "output"
	case PhasePersist:
		return "persist"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is the interface every ECS system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

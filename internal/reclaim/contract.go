package reclaim

import (
	"fmt"
	"time"

	"github.com/l1jgo/reclaimer/internal/core/ecs"
)

// Entity is anything the host wants destroyed through the engine.
type Entity interface {
	ID() ecs.EntityID
	// Kind is the statistics key; usually the concrete type's name.
	Kind() string
	Mark() *Mark
	// Destroy is the cleanup hook. It runs exactly once per request and must
	// not request destruction of its own entity again.
	Destroy(force bool) Hint
}

// Registry is the host's live-object table.
type Registry interface {
	// Resolve returns the entity for id while it is still reachable.
	Resolve(id ecs.EntityID) (Entity, bool)
	// HardDelete irrecoverably destroys e, dropping every reference to it.
	HardDelete(e Entity)
}

// Scheduler is the cooperative tick scheduler that drives Fire.
type Scheduler interface {
	CurrentTick() int64
	// Exhausted reports that the current tick's budget is used up.
	Exhausted() bool
	// Postpone shortens the next tick's budget by d.
	Postpone(d time.Duration)
}

// Observer hooks into every destruction request before the cleanup hook runs.
type Observer interface {
	// PreDestroy may veto the request by returning true.
	PreDestroy(e Entity, force bool) bool
	Destroying(e Entity, force bool)
}

// Notifier is the administrator broadcast channel.
type Notifier interface {
	NotifyAdmins(kind, msg string)
	ReportScan(line string)
}

// Recorder receives fire-and-forget lifecycle notifications (replay/demo
// recording, event fan-out). Calls must be idempotent.
type Recorder interface {
	Destroyed(e Entity, tick Tick)
	Suspended(kind string, overruns int)
}

// ReentrantDestroyError is the panic value raised when an entity's cleanup
// hook leads back into RequestDestroy for the same entity.
type ReentrantDestroyError struct {
	Kind string
	ID   ecs.EntityID
}

func (e *ReentrantDestroyError) Error() string {
	return fmt.Sprintf("reclaim: destroy of %s %s re-entered from its own cleanup hook", e.Kind, e.ID)
}

package event

import "github.com/l1jgo/reclaimer/internal/core/ecs"

// EntityDestroyed is emitted once per destruction request whose cleanup
// hook ran. Consumers must treat it as advisory: the entity may still be
// reachable and awaiting collection.
type EntityDestroyed struct {
	EntityID ecs.EntityID
	Kind     string
	Tick     int64
}

// KindSuspended is emitted when a kind trips the hard-delete overrun breaker.
type KindSuspended struct {
	Kind     string
	Overruns int
}

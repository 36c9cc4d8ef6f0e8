package world

import (
	"time"

	"github.com/l1jgo/reclaimer/internal/core/ecs"
	"github.com/l1jgo/reclaimer/internal/reclaim"
)

// Object is a simulated world entity. It stays resolvable until nothing
// holds a counted reference to it and its destruction was requested, or
// until it is hard deleted.
// Accessed only from the game loop goroutine.
type Object struct {
	id   ecs.EntityID
	kind string
	mark reclaim.Mark
	hint reclaim.Hint // used when no script decides

	refs       int  // counted holders: containers, watchers, the spotlight
	pooled     bool // self_managed：放回物件池，不釋放 ID
	deleteCost time.Duration

	Container *Object
	Contents  []*Object
	// Overlays are cosmetic attachments; they do not keep anything alive.
	Overlays []*Object

	state *State `reclaim:"-"`
}

func (o *Object) ID() ecs.EntityID    { return o.id }
func (o *Object) Kind() string        { return o.kind }
func (o *Object) Mark() *reclaim.Mark { return &o.mark }

// Refs returns the number of counted references to o.
func (o *Object) Refs() int { return o.refs }

// Pooled reports whether o was returned to its kind's pool.
func (o *Object) Pooled() bool { return o.pooled }

// Destroy is the cleanup hook. It detaches o from the world graph and asks
// the script for a disposition, falling back to the kind's default hint.
// Watchers are not touched; one that never unwatches leaks o.
func (o *Object) Destroy(force bool) reclaim.Hint {
	s := o.state
	hint := o.hint
	if s.scripts != nil {
		if h, ok := s.scripts.DestroyHint(o.kind, force); ok {
			hint = h
		}
	}
	if hint == reclaim.HintLetLive && !force {
		return hint
	}

	s.lifetimes.Remove(o.id)
	if o.Container != nil {
		s.takeOut(o)
	}
	for len(o.Contents) > 0 {
		child := o.Contents[len(o.Contents)-1]
		s.takeOut(child)
		if s.destroy != nil {
			s.destroy(child, force)
		}
	}
	if hint == reclaim.HintSelfManaged {
		o.Overlays = o.Overlays[:0]
		o.pooled = true
		s.pool[o.kind] = append(s.pool[o.kind], o)
	}
	s.remember(o.id)
	return hint
}

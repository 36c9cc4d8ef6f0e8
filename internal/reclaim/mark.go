package reclaim

import "fmt"

// Tick is a scheduler tick number.
type Tick int64

type markState uint8

const (
	markClear markState = iota
	markInHook
	markStamped
)

// Mark is the entity-side record of a destruction request (the entity's
// "pending since" field). Host entities own one and hand out a pointer via
// Entity.Mark; only this package writes it. Outside readers must treat it
// as advisory.
type Mark struct {
	state markState
	at    Tick
}

// Pending reports whether destruction was requested and not aborted.
func (m *Mark) Pending() bool { return m.state != markClear }

// Destroying reports whether the entity's cleanup hook is running right now.
func (m *Mark) Destroying() bool { return m.state == markInHook }

// Since returns the tick stamped at the entity's latest queue admission.
func (m *Mark) Since() (Tick, bool) {
	if m.state != markStamped {
		return 0, false
	}
	return m.at, true
}

func (m *Mark) String() string {
	switch m.state {
	case markInHook:
		return "destroying"
	case markStamped:
		return fmt.Sprintf("pending@%d", m.at)
	}
	return "live"
}

func (m *Mark) clear()                { *m = Mark{} }
func (m *Mark) enterHook()            { *m = Mark{state: markInHook} }
func (m *Mark) stamp(t Tick)          { *m = Mark{state: markStamped, at: t} }
func (m *Mark) stampedAt(t Tick) bool { return m.state == markStamped && m.at == t }

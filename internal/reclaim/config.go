package reclaim

import "time"

// Config holds the engine's tunables. Dwell times are in ticks.
type Config struct {
	FilterDwell     Tick
	CheckDwell      Tick
	HardDeleteDwell Tick

	// PostponeThreshold: a hard delete slower than this borrows its
	// duration from the next tick's budget.
	PostponeThreshold time.Duration
	// OverrunThreshold/OverrunLimit drive the per-kind circuit breaker.
	// Zero disables the respective check.
	OverrunThreshold time.Duration
	OverrunLimit     int

	// Diagnostics enables reference-finding hints and warn-once logging.
	Diagnostics bool
	// HardLookup scans for references on every Check-stage failure.
	HardLookup bool

	ScanDepth      int
	ScanSkipFields []string
}

// Policy carries per-kind overrides loaded from the policy table.
type Policy struct {
	// AutoFindRefs scans for references whenever the kind fails Check.
	AutoFindRefs bool
	// OverrunLimit overrides Config.OverrunLimit when positive.
	OverrunLimit int
}

// DefaultConfig matches a 200ms tick: Filter 1s, Check 5min, HardDelete 10s.
func DefaultConfig() Config {
	return Config{
		FilterDwell:       5,
		CheckDwell:        1500,
		HardDeleteDwell:   50,
		PostponeThreshold: 100 * time.Millisecond,
		OverrunThreshold:  0,
		OverrunLimit:      0,
		ScanDepth:         64,
		ScanSkipFields:    []string{"Overlays", "VisLocs"},
	}
}

func (c Config) dwell(st Stage) Tick {
	switch st {
	case StageFilter:
		return c.FilterDwell
	case StageCheck:
		return c.CheckDwell
	case StageHardDelete:
		return c.HardDeleteDwell
	}
	return 0
}

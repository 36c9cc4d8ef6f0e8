package reclaim

import "strings"

// Hint is the disposition a cleanup hook returns. The set is closed: every
// switch over Hint in this package names each value, and an out-of-range
// value is a programming error.
type Hint uint8

const (
	// HintNone means the hook returned nothing useful. Queued, and counted.
	HintNone Hint = iota
	// HintDone: the entity will be reclaimed by the host unaided.
	HintDone
	// HintQueue admits the entity to the Filter stage.
	HintQueue
	// HintSelfManaged hands lifecycle bookkeeping back to the caller
	// (pooled objects that get reused rather than freed).
	HintSelfManaged
	// HintLetLive aborts destruction unless the request was forced.
	HintLetLive
	// HintHardDelete queues the entity straight into the HardDelete stage.
	HintHardDelete
	// HintHardDeleteNow destroys the entity irrecoverably, right away.
	HintHardDeleteNow
	// HintFindReference queues and, with diagnostics on, starts a reference scan.
	HintFindReference
	// HintFindReferenceOnFailure queues and scans only if the Check stage fails.
	HintFindReferenceOnFailure

	hintCount
)

var hintNames = [hintCount]string{
	HintNone:                   "none",
	HintDone:                   "done",
	HintQueue:                  "queue",
	HintSelfManaged:            "self_managed",
	HintLetLive:                "let_live",
	HintHardDelete:             "hard_delete",
	HintHardDeleteNow:          "hard_delete_now",
	HintFindReference:          "find_reference",
	HintFindReferenceOnFailure: "find_reference_on_failure",
}

func (h Hint) String() string {
	if h < hintCount {
		return hintNames[h]
	}
	return "invalid"
}

// Valid reports whether h is one of the declared hints.
func (h Hint) Valid() bool { return h < hintCount }

// ParseHint maps a script-facing name to a Hint. Unknown names yield
// HintNone so a misspelt hint is queued and counted, never dropped.
func ParseHint(s string) (Hint, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for h, name := range hintNames {
		if name == s {
			return Hint(h), true
		}
	}
	return HintNone, false
}

package reclaim

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var reportPrinter = message.NewPrinter(language.English)

// Report renders the statistics of one kind for operators. ok is false
// when the kind has never been seen.
func (e *Engine) Report(kind string) (string, bool) {
	ts, ok := e.stats.Lookup(kind)
	if !ok {
		return "", false
	}
	return formatStats(ts), true
}

// ReportLines renders one line per known kind, ordered by kind.
func (e *Engine) ReportLines() []string {
	sorted := e.stats.Sorted()
	lines := make([]string, 0, len(sorted))
	for _, ts := range sorted {
		lines = append(lines, formatStats(ts))
	}
	return lines
}

func formatStats(ts *TypeStats) string {
	var b strings.Builder
	p := reportPrinter
	p.Fprintf(&b, "%s: requests=%d hook=%s slept=%d",
		ts.Kind, ts.Requests, ms(ts.HookTime), ts.SleptInHook)
	p.Fprintf(&b, " fail=%d/%d/%d", ts.Failures[StageFilter], ts.Failures[StageCheck], ts.Failures[StageHardDelete])
	p.Fprintf(&b, " hd=%d avg=%s max=%s overruns=%d",
		ts.HardDeletes, ms(ts.AvgHardDelete()), ms(ts.HardDeleteMax), ts.Overruns)
	if ts.IgnoredForce > 0 {
		p.Fprintf(&b, " ignoredforce=%d", ts.IgnoredForce)
	}
	if ts.NoHint > 0 {
		p.Fprintf(&b, " nohint=%d", ts.NoHint)
	}
	if ts.AutoFindRefs {
		b.WriteString(" autofind")
	}
	if ts.SuspendedForLag {
		b.WriteString(" SUSPENDED")
	}
	return b.String()
}

func ms(d time.Duration) string {
	return reportPrinter.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}

package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/l1jgo/reclaimer/internal/core/ecs"
	"github.com/l1jgo/reclaimer/internal/net"
	"github.com/l1jgo/reclaimer/internal/reclaim"
	"github.com/l1jgo/reclaimer/internal/world"
	"go.uber.org/zap"
)

// HandleGMCommand processes a "." prefixed console command.
// Returns true if the text was a command (consumed), false otherwise.
func HandleGMCommand(sess *net.Session, text string, deps *Deps) bool {
	if !strings.HasPrefix(text, ".") {
		return false
	}

	parts := strings.Fields(text[1:]) // strip leading "."
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	if sess.AccessLevel < deps.Config.Admin.MinAccessLevel {
		gmMsgf(sess, "access level %d required", deps.Config.Admin.MinAccessLevel)
		return true
	}
	deps.Log.Debug("console command",
		zap.String("account", sess.AccountName), zap.String("cmd", cmd))

	switch cmd {
	case "help":
		gmHelp(sess)
	case "gcstatus":
		gmStatus(sess, deps)
	case "gcreport":
		gmReport(sess, args, deps)
	case "reffind":
		gmRefFind(sess, args, deps)
	case "delfind":
		gmDelFind(sess, args, deps)
	case "delfindfail":
		gmDelFindFail(sess, args, deps)
	case "world":
		gmWorld(sess, deps)
	case "leaks":
		gmLeaks(sess, args, deps)
	case "who":
		gmWho(sess, deps)
	default:
		gmMsg(sess, "unknown command ."+cmd+", try .help")
	}
	return true
}

// --- Helper ---

func gmMsg(sess *net.Session, msg string) {
	sess.Send(msg)
}

func gmMsgf(sess *net.Session, format string, a ...any) {
	gmMsg(sess, fmt.Sprintf(format, a...))
}

// lookup resolves an "index:generation" argument to a live object.
func lookup(sess *net.Session, arg string, deps *Deps) (*world.Object, bool) {
	id, err := ecs.ParseEntityID(arg)
	if err != nil {
		gmMsgf(sess, "bad id %q: want index:generation", arg)
		return nil, false
	}
	o, ok := deps.World.Get(id)
	if !ok {
		gmMsgf(sess, "no live object %s", id)
		return nil, false
	}
	return o, true
}

// --- Commands ---

func gmHelp(sess *net.Session) {
	gmMsg(sess, "=== console commands ===")
	gmMsg(sess, ".gcstatus  - queue lengths and totals")
	gmMsg(sess, ".gcreport [kind]  - per-kind statistics")
	gmMsg(sess, ".reffind <id> [yes]  - search references to an object; no id cancels a running search")
	gmMsg(sess, ".delfind <id>  - force destroy, then search references")
	gmMsg(sess, ".delfindfail <id>  - force destroy, search references if it is not collected")
	gmMsg(sess, ".world  - simulated world summary")
	gmMsg(sess, ".leaks [n]  - destroyed objects that are still held")
	gmMsg(sess, ".who  - connected consoles")
}

func gmStatus(sess *net.Session, deps *Deps) {
	st := deps.Engine().Status()
	gmMsg(sess, st.String())
	if st.Scanning {
		gmMsg(sess, "reference search running; queues are paused")
	}
	if st.SlowestKind != "" {
		gmMsgf(sess, "slowest hard delete: %s %s", st.SlowestKind, st.Slowest)
	}
}

func gmReport(sess *net.Session, args []string, deps *Deps) {
	eng := deps.Engine()
	if len(args) > 0 {
		line, ok := eng.Report(args[0])
		if !ok {
			gmMsgf(sess, "no statistics for %s", args[0])
			return
		}
		gmMsg(sess, line)
		return
	}
	lines := eng.ReportLines()
	if len(lines) == 0 {
		gmMsg(sess, "no statistics yet")
		return
	}
	for _, l := range lines {
		gmMsg(sess, l)
	}
}

func gmRefFind(sess *net.Session, args []string, deps *Deps) {
	eng := deps.Engine()
	if len(args) == 0 || eng.Paused() {
		if !eng.Paused() {
			gmMsg(sess, "usage: .reffind <id> [yes]")
			return
		}
		// a second request cancels the running search
		if err := eng.FindReferences(nil, true); err != nil {
			gmMsg(sess, err.Error())
			return
		}
		gmMsg(sess, "reference search cancelled")
		return
	}
	o, ok := lookup(sess, args[0], deps)
	if !ok {
		return
	}
	confirmed := len(args) > 1 && strings.EqualFold(args[1], "yes")
	err := eng.FindReferences(o, confirmed)
	switch {
	case errors.Is(err, reclaim.ErrScanNotConfirmed):
		gmMsgf(sess, "the search pauses reclamation until it finishes; repeat with .reffind %s yes", o.ID())
	case err != nil:
		gmMsg(sess, err.Error())
	default:
		deps.Log.Info("reference search started",
			zap.String("account", sess.AccountName), zap.Stringer("id", o.ID()), zap.String("kind", o.Kind()))
		gmMsgf(sess, "searching references to %s %s", o.Kind(), o.ID())
	}
}

func gmDelFind(sess *net.Session, args []string, deps *Deps) {
	if len(args) != 1 {
		gmMsg(sess, "usage: .delfind <id>")
		return
	}
	o, ok := lookup(sess, args[0], deps)
	if !ok {
		return
	}
	eng := deps.Engine()
	if eng.Paused() {
		gmMsg(sess, "a reference search is running; cancel it with .reffind first")
		return
	}
	eng.RequestDestroy(o, true)
	if _, live := deps.World.Get(o.ID()); !live {
		gmMsgf(sess, "%s %s was reclaimed immediately", o.Kind(), o.ID())
		return
	}
	if err := eng.FindReferences(o, true); err != nil {
		gmMsg(sess, err.Error())
		return
	}
	gmMsgf(sess, "destroyed %s %s (%s), searching references", o.Kind(), o.ID(), o.Mark())
}

func gmDelFindFail(sess *net.Session, args []string, deps *Deps) {
	if len(args) != 1 {
		gmMsg(sess, "usage: .delfindfail <id>")
		return
	}
	o, ok := lookup(sess, args[0], deps)
	if !ok {
		return
	}
	eng := deps.Engine()
	eng.FlagFindOnFailure(o.ID())
	eng.RequestDestroy(o, true)
	gmMsgf(sess, "destroyed %s %s (%s); references are searched if it fails collection", o.Kind(), o.ID(), o.Mark())
}

func gmWorld(sess *net.Session, deps *Deps) {
	st := deps.World.Stats()
	gmMsgf(sess, "live=%d pending=%d leaked=%d pooled=%d collected=%d hard_deleted=%d",
		st.Live, st.Pending, st.Leaked, st.Pooled, st.Collected, st.HardDeleted)
	for _, k := range deps.World.Kinds() {
		gmMsgf(sess, "  %s: %d", k, st.ByKind[k])
	}
}

func gmLeaks(sess *net.Session, args []string, deps *Deps) {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			gmMsg(sess, "usage: .leaks [n]")
			return
		}
		limit = n
	}
	leaked := deps.World.Leaked(limit)
	for _, o := range leaked {
		gmMsgf(sess, "  %s %s refs=%d %s", o.Kind(), o.ID(), o.Refs(), o.Mark())
	}
	gmMsgf(sess, "leaked objects shown: %d", len(leaked))
}

func gmWho(sess *net.Session, deps *Deps) {
	count := 0
	for _, s := range deps.Consoles.Sessions() {
		if s.State() != net.StateAuthenticated {
			continue
		}
		count++
		gmMsgf(sess, "  %s (level %d) %s", s.AccountName, s.AccessLevel, s.IP)
	}
	gmMsgf(sess, "consoles logged in: %d", count)
}

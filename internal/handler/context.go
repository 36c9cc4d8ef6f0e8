package handler

import (
	"strings"

	"github.com/joeycumines/go-catrate"
	"github.com/l1jgo/reclaimer/internal/config"
	"github.com/l1jgo/reclaimer/internal/net"
	"github.com/l1jgo/reclaimer/internal/reclaim"
	"github.com/l1jgo/reclaimer/internal/world"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into all console handlers.
type Deps struct {
	Accounts Authenticator
	Config   *config.Config
	Log      *zap.Logger
	World    *world.State
	// Engine returns the current engine; it changes on hot restart.
	Engine     func() *reclaim.Engine
	LoginLimit *catrate.Limiter // nil disables login throttling
	Consoles   *Broadcaster
}

// Dispatch handles one input line from sess. Called from the game loop.
func Dispatch(sess *net.Session, line string, deps *Deps) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "quit", "exit":
		sess.Send("bye")
		sess.FlushOutput()
		sess.Close()
		return
	case "login":
		if sess.State() == net.StateAuthenticated {
			sess.Send("already logged in as " + sess.AccountName)
			return
		}
		HandleLogin(sess, args, deps)
		return
	}

	if sess.State() != net.StateAuthenticated {
		sess.Send("not logged in. login <name> <password>")
		return
	}
	if !HandleGMCommand(sess, line, deps) {
		sess.Send("unknown input; commands start with '.', try .help")
	}
}

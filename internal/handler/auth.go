package handler

import (
	"context"
	"errors"
	"fmt"
	stdnet "net"
	"strings"
	"time"

	"github.com/l1jgo/reclaimer/internal/config"
	"github.com/l1jgo/reclaimer/internal/net"
	"github.com/l1jgo/reclaimer/internal/persist"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Authenticator checks operator credentials and returns the access level.
// Unknown names and wrong passwords both yield persist.ErrBadCredentials.
type Authenticator interface {
	Authenticate(ctx context.Context, name, password, ip string) (int, error)
}

// StaticAccounts authenticates against the bootstrap accounts from the
// config file. It is used when no database is configured.
type StaticAccounts map[string]config.AdminAccount

func NewStaticAccounts(accounts []config.AdminAccount) StaticAccounts {
	m := make(StaticAccounts, len(accounts))
	for _, a := range accounts {
		m[strings.ToLower(a.Name)] = a
	}
	return m
}

func (a StaticAccounts) Authenticate(_ context.Context, name, password, _ string) (int, error) {
	acct, ok := a[name]
	if !ok {
		return 0, persist.ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return 0, persist.ErrBadCredentials
	}
	return acct.AccessLevel, nil
}

// HandleLogin processes "login <name> <password>".
func HandleLogin(sess *net.Session, args []string, deps *Deps) {
	if len(args) != 2 {
		sess.Send("usage: login <name> <password>")
		return
	}
	accountName := strings.ToLower(args[0])
	password := args[1]
	host := remoteHost(sess.IP)

	if deps.LoginLimit != nil {
		if next, ok := deps.LoginLimit.Allow(host); !ok {
			deps.Log.Warn("登入嘗試過於頻繁", zap.String("ip", host))
			sess.Send(fmt.Sprintf("too many login attempts, retry in %s", time.Until(next).Round(time.Second)))
			return
		}
	}
	if deps.Accounts == nil {
		sess.Send("login failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	level, err := deps.Accounts.Authenticate(ctx, accountName, password, host)
	if err != nil {
		if !errors.Is(err, persist.ErrBadCredentials) {
			deps.Log.Error("驗證帳號資料庫錯誤", zap.Error(err))
		}
		sess.Send("login failed")
		return
	}

	sess.AccountName = accountName
	sess.AccessLevel = level
	sess.SetState(net.StateAuthenticated)
	sess.Send(fmt.Sprintf("welcome %s (access level %d)", accountName, level))
	if deps.Consoles != nil && deps.Consoles.Privileged(sess) {
		sess.Send("you will receive reclamation alerts; .help lists commands")
	}

	deps.Log.Info(fmt.Sprintf("登入成功  帳號=%s  ip=%s", accountName, host))
}

func remoteHost(addr string) string {
	host, _, err := stdnet.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

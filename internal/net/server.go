package net

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Limits bound the resources of every admin console session.
type Limits struct {
	InQueueSize  int
	OutQueueSize int
	LinesPerSec  int // 0 = unlimited
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server accepts TCP connections and creates Sessions.
// New/dead sessions are communicated to the game loop via channels.
type Server struct {
	listener net.Listener
	nextID   atomic.Uint64
	newConns chan *Session
	deadCh   chan uint64 // session IDs of dead sessions
	limits   Limits
	log      *zap.Logger
	closeCh  chan struct{}
	acceptCh chan struct{} // closed when AcceptLoop returns

	mu       sync.Mutex
	sessions map[uint64]*Session
	wg       sync.WaitGroup // session goroutines
}

func NewServer(bindAddr string, limits Limits, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: ln,
		newConns: make(chan *Session, 64),
		deadCh:   make(chan uint64, 64),
		limits:   limits,
		log:      log,
		closeCh:  make(chan struct{}),
		acceptCh: make(chan struct{}),
		sessions: make(map[uint64]*Session),
	}
	return s, nil
}

// AcceptLoop runs in its own goroutine. It accepts connections, creates
// sessions and pushes them onto the newConns channel. Every Server must
// have exactly one AcceptLoop running before Shutdown is called.
func (s *Server) AcceptLoop() {
	defer close(s.acceptCh)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return // server shutting down
			default:
			}
			s.log.Error("連線接受失敗", zap.Error(err))
			continue
		}

		id := s.nextID.Add(1)
		sess := NewSession(conn, id, s.limits, s.log)
		sess.onClose = s.NotifyDead
		s.track(sess)
		sess.Start(&s.wg)

		s.log.Info(fmt.Sprintf("管理員連線  session=%d  ip=%s", id, sess.IP))

		select {
		case s.newConns <- sess:
		default:
			s.log.Warn("連線佇列已滿，拒絕新連線")
			sess.Close()
		}
	}
}

func (s *Server) track(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// NotifyDead reports a dead session ID to the game loop.
func (s *Server) NotifyDead(sessionID uint64) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	select {
	case s.deadCh <- sessionID:
	default:
	}
}

// DeadSessions returns the channel of dead session IDs.
func (s *Server) DeadSessions() <-chan uint64 {
	return s.deadCh
}

// Shutdown stops accepting new connections, closes every session and waits
// for their goroutines to exit.
func (s *Server) Shutdown() {
	close(s.closeCh)
	s.listener.Close()
	<-s.acceptCh

	s.mu.Lock()
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()
	for _, sess := range live {
		sess.Close()
	}
	s.wg.Wait()
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

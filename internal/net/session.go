package net

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SessionState is the login state of a console session.
type SessionState int32

const (
	StateConnected SessionState = iota
	StateAuthenticated
	StateDisconnecting
)

// maxLineLen bounds a single console line.
const maxLineLen = 4096

// Session represents a single admin console connection. Network I/O runs in
// dedicated goroutines; game state is accessed only from the game loop.
type Session struct {
	ID   uint64
	conn net.Conn

	state atomic.Int32 // SessionState stored as int32

	InQueue  chan string // game loop reads lines from here
	OutQueue chan string // writer goroutine reads from here

	IP          string
	AccountName string
	AccessLevel int

	outBuf []string // buffered lines, flushed by the output system (game loop only)

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	onClose   func(id uint64)

	limits Limits
	// Per-second line rate limiter (readLoop goroutine only, no lock needed)
	lineCount   int
	lineResetAt int64

	log *zap.Logger
}

func NewSession(conn net.Conn, id uint64, limits Limits, log *zap.Logger) *Session {
	s := &Session{
		ID:       id,
		conn:     conn,
		InQueue:  make(chan string, max(limits.InQueueSize, 1)),
		OutQueue: make(chan string, max(limits.OutQueueSize, 1)),
		IP:       conn.RemoteAddr().String(),
		closeCh:  make(chan struct{}),
		limits:   limits,
		log:      log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(StateConnected))
	return s
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) SetState(st SessionState) {
	s.state.Store(int32(st))
}

// Start sends the greeting and launches the reader and writer goroutines.
// wg, if non-nil, tracks both goroutines.
func (s *Session) Start(wg *sync.WaitGroup) {
	s.outBuf = append(s.outBuf, "reclaimer admin console. login <name> <password>")
	s.FlushOutput()

	if wg != nil {
		wg.Add(2)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		s.readLoop()
	}()
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		s.writeLoop()
	}()
}

// Send buffers a line for sending. The line is not written to TCP until
// FlushOutput is called by the output system.
// Called only from the game loop goroutine; outBuf is not locked.
func (s *Session) Send(line string) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, line)
}

// FlushOutput drains the output buffer to OutQueue for the writeLoop goroutine.
// Non-blocking: if OutQueue is full, the session is disconnected (backpressure).
func (s *Session) FlushOutput() {
	for _, line := range s.outBuf {
		select {
		case s.OutQueue <- line:
		default:
			s.log.Warn("輸出佇列已滿，斷開慢速連線")
			s.Close()
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	s.outBuf = s.outBuf[:0]
}

// Close gracefully shuts down the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
		if s.onClose != nil {
			s.onClose(s.ID)
		}
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop runs in its own goroutine. It reads lines from the TCP connection
// and pushes them onto InQueue for the game loop to consume.
func (s *Session) readLoop() {
	defer s.Close()

	sc := bufio.NewScanner(s.conn)
	sc.Buffer(make([]byte, 0, 256), maxLineLen)
	for {
		if s.limits.ReadTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.limits.ReadTimeout))
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil && !s.closed.Load() {
				s.log.Debug("讀取錯誤", zap.Error(err))
			}
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		// Per-second line rate limiter
		if s.limits.LinesPerSec > 0 {
			now := time.Now().Unix()
			if now != s.lineResetAt {
				s.lineCount = 0
				s.lineResetAt = now
			}
			s.lineCount++
			if s.lineCount > s.limits.LinesPerSec {
				s.log.Warn("指令速率超限，斷開連線", zap.Int("lps", s.lineCount))
				return
			}
		}

		// Block until InQueue has space or session closes.
		select {
		case s.InQueue <- line:
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop runs in its own goroutine. It reads lines from OutQueue and
// writes them to the TCP connection.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case line := <-s.OutQueue:
			if !s.writeLine(line) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// writeLine 寫入單行到 TCP socket。成功回傳 true。
func (s *Session) writeLine(line string) bool {
	if s.limits.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.limits.WriteTimeout))
	}
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		if !s.closed.Load() {
			s.log.Debug("寫入錯誤", zap.Error(err))
		}
		return false
	}
	return true
}

package bridge

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const sessionWriteTimeout = 10 * time.Second

// session is one connected browser client. Outbound messages flow through a
// bounded queue drained by a single writer goroutine, which keeps delivery
// ordered per session and lets a stalled session be skipped without
// blocking a broadcast.
type session struct {
	id       string
	conn     *websocket.Conn
	outbound chan []byte

	mu        sync.Mutex // serializes enqueue against queue close
	closed    atomic.Bool
	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, queueSize int) *session {
	return &session{
		id:       id,
		conn:     conn,
		outbound: make(chan []byte, queueSize),
	}
}

// enqueue offers a message to the session without blocking. It reports
// false when the session is closed or its queue is full; the caller skips
// this session and moves on.
func (s *session) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	select {
	case s.outbound <- data:
		return true
	default:
		return false
	}
}

// writeLoop drains the outbound queue onto the connection. It exits when
// the session closes or a write fails.
func (s *session) writeLoop(logger *slog.Logger) {
	for data := range s.outbound {
		if s.closed.Load() {
			return
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("session write failed", "session_id", s.id, "error", err)
			s.closed.Store(true)
			return
		}
	}
}

// close marks the session dead and tears down the connection. Safe to call
// from any goroutine, any number of times.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.outbound)
		s.mu.Unlock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pvzzle/walletfeed/internal/domain"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is the write side of a websocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Requeue receives notifications a session accepted but never wrote, in the
// order they were accepted.
type Requeue func(unsent []domain.Notification)

type outbound struct {
	n     domain.Notification
	frame []byte
	// set by SendWait; the caller keeps ownership of n until it is answered
	result chan error
}

// WSSession queues notifications on a buffered channel drained by a single
// writer goroutine. A full buffer or a closed connection is reported as a
// transport failure so the router falls back to the pending queue. Frames
// that were queued but could not be written go to the Requeue hook.
type WSSession struct {
	id      string
	userID  string
	conn    Conn
	requeue Requeue
	log     *zap.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup // SendWait calls that may still write to send
	send     chan outbound
	quit     chan struct{}
	done     chan struct{}
}

var (
	_ Session   = (*WSSession)(nil)
	_ Confirmer = (*WSSession)(nil)
)

func NewWSSession(userID string, conn Conn, buffer int, requeue Requeue, log *zap.Logger) *WSSession {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &WSSession{
		id:      uuid.NewString(),
		userID:  userID,
		conn:    conn,
		requeue: requeue,
		send:    make(chan outbound, buffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.log = log.With(zap.String("session_id", s.id), zap.String("user_id", userID))
	go s.writeLoop()
	return s
}

func (s *WSSession) ID() string     { return s.id }
func (s *WSSession) UserID() string { return s.userID }

// Send queues n without blocking.
func (s *WSSession) Send(n domain.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- outbound{n: n, frame: b}:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SendWait queues n, waiting for buffer space, and returns once the frame has
// been written. A failed write is returned to the caller, not requeued.
func (s *WSSession) SendWait(ctx context.Context, n domain.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	ob := outbound{n: n, frame: b, result: make(chan error, 1)}
	select {
	case s.send <- ob:
		s.inflight.Done()
	case <-s.quit:
		s.inflight.Done()
		return ErrSessionClosed
	case <-ctx.Done():
		s.inflight.Done()
		return ctx.Err()
	}

	select {
	case err := <-ob.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting notifications. Already queued frames are still
// written before the writer exits.
func (s *WSSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.quit)
	go func() {
		s.inflight.Wait()
		close(s.send)
	}()
}

// Done is closed once the writer goroutine has exited.
func (s *WSSession) Done() <-chan struct{} { return s.done }

func (s *WSSession) writeLoop() {
	defer close(s.done)

	for ob := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, ob.frame); err != nil {
			s.abort(ob, err)
			return
		}
		if ob.result != nil {
			ob.result <- nil
		}
	}
}

// abort closes the session after a failed write and settles every frame
// still queued: confirmed sends get the error, the rest are requeued.
func (s *WSSession) abort(failed outbound, err error) {
	s.log.Debug("ws write failed", zap.Error(err))
	s.Close()
	_ = s.conn.Close()

	var unsent []domain.Notification
	settle := func(ob outbound) {
		if ob.result != nil {
			ob.result <- err
			return
		}
		unsent = append(unsent, ob.n)
	}

	settle(failed)
	for ob := range s.send {
		settle(ob)
	}

	if len(unsent) == 0 {
		return
	}
	if s.requeue == nil {
		s.log.Warn("unsent notifications dropped", zap.Int("count", len(unsent)))
		return
	}
	s.requeue(unsent)
}

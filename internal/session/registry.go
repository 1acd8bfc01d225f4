package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/metrics"
	"github.com/pvzzle/walletfeed/internal/storage"

	"go.uber.org/zap"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrSendBufferFull = errors.New("session send buffer full")
)

// Session is one live client connection of a user.
type Session interface {
	ID() string
	UserID() string
	Send(n domain.Notification) error
}

// Confirmer is implemented by sessions whose Send only queues. SendWait
// returns once n has reached the client, which is what a pending drain needs
// before it acknowledges an entry.
type Confirmer interface {
	SendWait(ctx context.Context, n domain.Notification) error
}

// drainTimeout bounds how long one registration may spend draining.
const drainTimeout = 30 * time.Second

// Fallback is invoked under the user's lock when no live session accepted a
// notification.
type Fallback func(ctx context.Context, n domain.Notification) error

type Stats struct {
	Users    int
	Sessions int
}

// Registry tracks live sessions by user id. The global lock only guards the
// user map; delivery, registration and draining for one user serialise on
// that user's own lock.
type Registry struct {
	pending storage.PendingQueue
	log     *zap.Logger

	mu    sync.RWMutex
	users map[string]*userSessions
}

type userSessions struct {
	mu       sync.Mutex
	sessions []Session
	dead     bool
}

func NewRegistry(pending storage.PendingQueue, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		pending: pending,
		log:     log.With(zap.String("component", "session")),
		users:   make(map[string]*userSessions),
	}
}

// Register drains the user's pending queue into s in creation order and then
// adds s to the live set. Both happen under the user's lock, so nothing routed
// meanwhile can overtake the backlog. If the drain does not complete, s is
// not registered, the undelivered rest stays queued and the error is
// returned; the caller is expected to drop the connection.
func (r *Registry) Register(ctx context.Context, s Session) error {
	userID := s.UserID()
	u := r.lockUser(userID)
	defer r.unlockUser(userID, u)

	if err := r.drain(ctx, userID, s); err != nil {
		return err
	}

	u.sessions = append(u.sessions, s)
	metrics.LiveSessions.Inc()
	r.log.Debug("session registered", zap.String("user_id", userID), zap.String("session_id", s.ID()))
	return nil
}

func (r *Registry) drain(ctx context.Context, userID string, s Session) error {
	if r.pending == nil {
		return nil
	}

	backlog, err := r.pending.List(ctx, userID)
	if err != nil {
		return fmt.Errorf("list pending for %s: %w", userID, err)
	}
	if len(backlog) == 0 {
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	delivered := 0
	var sendErr error
	for _, n := range backlog {
		if sendErr = sendConfirmed(dctx, s, n); sendErr != nil {
			break
		}
		delivered++
	}

	if delivered > 0 {
		if err := r.pending.Ack(ctx, userID, delivered); err != nil {
			// the entries were sent; a later drain repeats them with the same ids
			return fmt.Errorf("ack pending for %s: %w", userID, err)
		}
		metrics.PendingDrained.Add(float64(delivered))
	}
	if sendErr != nil {
		r.log.Warn("pending drain interrupted",
			zap.String("user_id", userID),
			zap.Int("delivered", delivered),
			zap.Int("backlog", len(backlog)),
			zap.Error(sendErr),
		)
		return fmt.Errorf("drain pending for %s: %d of %d sent: %w", userID, delivered, len(backlog), sendErr)
	}
	return nil
}

func sendConfirmed(ctx context.Context, s Session, n domain.Notification) error {
	if c, ok := s.(Confirmer); ok {
		return c.SendWait(ctx, n)
	}
	return s.Send(n)
}

// Unregister removes s. Unknown sessions are ignored.
func (r *Registry) Unregister(s Session) {
	userID := s.UserID()

	r.mu.RLock()
	u := r.users[userID]
	r.mu.RUnlock()
	if u == nil {
		return
	}

	u.mu.Lock()
	defer r.unlockUser(userID, u)
	if u.dead {
		return
	}
	for i, cur := range u.sessions {
		if cur.ID() == s.ID() {
			u.sessions = append(u.sessions[:i], u.sessions[i+1:]...)
			metrics.LiveSessions.Dec()
			r.log.Debug("session unregistered", zap.String("user_id", userID), zap.String("session_id", s.ID()))
			return
		}
	}
}

// Deliver pushes n to every live session of userID and reports whether at
// least one accepted it.
func (r *Registry) Deliver(userID string, n domain.Notification) bool {
	r.mu.RLock()
	u := r.users[userID]
	r.mu.RUnlock()
	if u == nil {
		return false
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.dead {
		return false
	}
	return r.fanout(userID, u, n)
}

// DeliverOrElse behaves like Deliver but runs fallback, still under the
// user's lock, when no session accepted n. A Register racing with it either
// sees the fallback's effect or receives n live.
func (r *Registry) DeliverOrElse(ctx context.Context, userID string, n domain.Notification, fallback Fallback) (bool, error) {
	u := r.lockUser(userID)
	defer r.unlockUser(userID, u)

	if r.fanout(userID, u, n) {
		return true, nil
	}
	if fallback == nil {
		return false, nil
	}
	return false, fallback(ctx, n)
}

// Requeue routes notifications that a session accepted but failed to write:
// to the user's other live sessions, otherwise to the pending queue.
func (r *Registry) Requeue(ctx context.Context, userID string, ns []domain.Notification) {
	u := r.lockUser(userID)
	defer r.unlockUser(userID, u)

	for _, n := range ns {
		if r.fanout(userID, u, n) {
			metrics.Notifications.WithLabelValues("requeued_live").Inc()
			continue
		}
		if r.pending == nil {
			metrics.Notifications.WithLabelValues("failed").Inc()
			r.log.Error("unsent notification lost, no pending queue",
				zap.String("user_id", userID), zap.String("notification_id", n.ID))
			continue
		}
		if err := r.pending.Push(ctx, n); err != nil {
			metrics.Notifications.WithLabelValues("failed").Inc()
			r.log.Error("requeue to pending failed",
				zap.String("user_id", userID), zap.String("notification_id", n.ID), zap.Error(err))
			continue
		}
		metrics.Notifications.WithLabelValues("requeued").Inc()
	}
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	users := make([]*userSessions, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	r.mu.RUnlock()

	var st Stats
	for _, u := range users {
		u.mu.Lock()
		if n := len(u.sessions); n > 0 {
			st.Users++
			st.Sessions += n
		}
		u.mu.Unlock()
	}
	return st
}

func (r *Registry) fanout(userID string, u *userSessions, n domain.Notification) bool {
	ok := false
	for _, s := range u.sessions {
		if err := s.Send(n); err != nil {
			r.log.Debug("live push failed",
				zap.String("user_id", userID),
				zap.String("session_id", s.ID()),
				zap.Error(err),
			)
			continue
		}
		ok = true
	}
	return ok
}

// lockUser returns the locked entry of userID, creating it if needed.
func (r *Registry) lockUser(userID string) *userSessions {
	for {
		r.mu.RLock()
		u := r.users[userID]
		r.mu.RUnlock()

		if u == nil {
			r.mu.Lock()
			u = r.users[userID]
			if u == nil {
				u = &userSessions{}
				r.users[userID] = u
			}
			r.mu.Unlock()
		}

		u.mu.Lock()
		if !u.dead {
			return u
		}
		u.mu.Unlock()
	}
}

// unlockUser releases u and drops it from the map once it holds no sessions.
// The global lock is never held while waiting for a user lock, so taking it
// here cannot deadlock.
func (r *Registry) unlockUser(userID string, u *userSessions) {
	if len(u.sessions) == 0 && !u.dead {
		r.mu.Lock()
		if r.users[userID] == u {
			delete(r.users, userID)
		}
		r.mu.Unlock()
		u.dead = true
	}
	u.mu.Unlock()
}

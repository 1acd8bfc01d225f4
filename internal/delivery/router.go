package delivery

import (
	"context"
	"fmt"

	"github.com/pvzzle/walletfeed/internal/bus"
	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/metrics"
	"github.com/pvzzle/walletfeed/internal/session"
	"github.com/pvzzle/walletfeed/internal/storage"

	"go.uber.org/zap"
)

// Sessions is the part of session.Registry the router needs.
type Sessions interface {
	DeliverOrElse(ctx context.Context, userID string, n domain.Notification, fallback session.Fallback) (bool, error)
}

type Outcome string

const (
	OutcomeLive    Outcome = "live"
	OutcomePending Outcome = "pending"
	OutcomeFailed  Outcome = "failed"
)

// Router sends a notification to the owner's live sessions or, when none
// accepts it, to the pending queue.
type Router struct {
	sessions Sessions
	pending  storage.PendingQueue
	alerts   chan<- bus.Alert
	log      *zap.Logger
}

func NewRouter(sessions Sessions, pending storage.PendingQueue, alerts chan<- bus.Alert, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		sessions: sessions,
		pending:  pending,
		alerts:   alerts,
		log:      log.With(zap.String("component", "delivery")),
	}
}

// Route never retries. A pending store failure loses the notification to the
// pipeline; it is logged, counted and raised as an alert.
func (r *Router) Route(ctx context.Context, n domain.Notification) Outcome {
	live, err := r.sessions.DeliverOrElse(ctx, n.UserID, n, r.pending.Push)
	switch {
	case live:
		metrics.Notifications.WithLabelValues(string(OutcomeLive)).Inc()
		return OutcomeLive
	case err == nil:
		metrics.Notifications.WithLabelValues(string(OutcomePending)).Inc()
		r.log.Debug("user offline, notification queued",
			zap.String("user_id", n.UserID),
			zap.String("notification_id", n.ID),
		)
		return OutcomePending
	}

	metrics.Notifications.WithLabelValues(string(OutcomeFailed)).Inc()
	r.log.Error("pending store write failed",
		zap.String("user_id", n.UserID),
		zap.String("notification_id", n.ID),
		zap.String("hash", n.Hash),
		zap.Error(err),
	)
	bus.Publish(r.alerts, bus.Alert{
		Severity:  bus.SeverityCritical,
		Component: "delivery",
		Text:      fmt.Sprintf("pending store write failed for user %s tx %s: %v", n.UserID, n.Hash, err),
	})
	return OutcomeFailed
}

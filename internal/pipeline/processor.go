package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pvzzle/walletfeed/internal/bus"
	"github.com/pvzzle/walletfeed/internal/delivery"
	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/metrics"
	"github.com/pvzzle/walletfeed/internal/subs"

	"go.uber.org/zap"
)

type Reconstructor interface {
	Reconstruct(batch []domain.RawDelivery) []domain.Transaction
}

type Classifier interface {
	Classify(ctx context.Context, tx domain.Transaction, sub domain.Subscription) (*domain.Notification, bool)
}

type Router interface {
	Route(ctx context.Context, n domain.Notification) delivery.Outcome
}

// Processor consumes flushed batches one at a time, so notifications of one
// user keep the order of the flushes that produced them.
type Processor struct {
	recon  Reconstructor
	subs   subs.Directory
	cls    Classifier
	router Router
	alerts chan<- bus.Alert
	log    *zap.Logger
}

func NewProcessor(recon Reconstructor, dir subs.Directory, cls Classifier, router Router, alerts chan<- bus.Alert, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		recon:  recon,
		subs:   dir,
		cls:    cls,
		router: router,
		alerts: alerts,
		log:    log.With(zap.String("component", "pipeline")),
	}
}

// Run processes batches until the channel is closed. Cancelling ctx does not
// abort in-flight work: the buffer's final flush still gets routed.
func (p *Processor) Run(ctx context.Context, batches <-chan []domain.RawDelivery) error {
	work := context.WithoutCancel(ctx)
	for batch := range batches {
		p.Process(work, batch)
	}
	return nil
}

type resolved struct {
	sub domain.Subscription
	err error
}

func (p *Processor) Process(ctx context.Context, batch []domain.RawDelivery) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()
	defer func() { metrics.BatchLatency.Observe(time.Since(start).Seconds()) }()

	txs := p.recon.Reconstruct(batch)
	lookups := make(map[string]resolved)

	for _, tx := range txs {
		for _, subID := range tx.SubscriptionIDs {
			r, ok := lookups[subID]
			if !ok {
				sub, err := p.subs.Resolve(ctx, subID)
				r = resolved{sub: sub, err: err}
				lookups[subID] = r
			}
			p.handle(ctx, tx, subID, r)
		}
	}

	p.log.Debug("batch processed",
		zap.Int("deliveries", len(batch)),
		zap.Int("transactions", len(txs)),
		zap.Duration("took", time.Since(start)),
	)
}

// handle isolates one (transaction, subscription) pair: a panic is logged and
// the rest of the batch continues.
func (p *Processor) handle(ctx context.Context, tx domain.Transaction, subID string, r resolved) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.EntriesDropped.WithLabelValues("pipeline", "panic").Add(float64(len(tx.Entries)))
			p.log.Error("transaction processing panicked",
				zap.String("hash", tx.Hash),
				zap.String("subscription_id", subID),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			bus.Publish(p.alerts, bus.Alert{
				Severity:  bus.SeverityCritical,
				Component: "pipeline",
				Text:      fmt.Sprintf("panic while processing %s: %v", tx.Hash, rec),
			})
		}
	}()

	switch {
	case errors.Is(r.err, subs.ErrNotFound):
		metrics.EntriesDropped.WithLabelValues("pipeline", "unknown_subscription").Add(float64(len(tx.Entries)))
		p.log.Warn("unknown subscription, dropping", zap.String("subscription_id", subID), zap.String("hash", tx.Hash))
		return
	case r.err != nil:
		metrics.EntriesDropped.WithLabelValues("pipeline", "directory_error").Add(float64(len(tx.Entries)))
		p.log.Error("subscription lookup failed", zap.String("subscription_id", subID), zap.Error(r.err))
		return
	case !r.sub.Active:
		p.log.Debug("inactive subscription, dropping", zap.String("subscription_id", subID), zap.String("hash", tx.Hash))
		return
	}

	n, ok := p.cls.Classify(ctx, tx, r.sub)
	if !ok {
		p.log.Info("no trackable activity",
			zap.String("hash", tx.Hash),
			zap.String("subscription_id", subID),
			zap.String("user_id", r.sub.UserID),
		)
		return
	}

	outcome := p.router.Route(ctx, *n)
	p.log.Debug("notification routed",
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("outcome", string(outcome)),
	)
}

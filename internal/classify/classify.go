package classify

import (
	"context"

	"github.com/pvzzle/walletfeed/internal/coins"
	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/metrics"

	"go.uber.org/zap"
)

// CoinResolver is the part of coins.Resolver the classifier depends on.
type CoinResolver interface {
	Resolve(ctx context.Context, network, contract string) (string, bool)
	ResolveNative(network string) (coins.NativeCoin, bool)
}

type Classifier struct {
	coins CoinResolver
	log   *zap.Logger
}

func New(coins CoinResolver, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{coins: coins, log: log.With(zap.String("component", "classify"))}
}

// Classify turns a reconstructed transaction into the notification seen by
// sub's owner. Each activity lands in exactly one bucket or is dropped; the
// boolean is false when nothing is left to report.
func (c *Classifier) Classify(ctx context.Context, tx domain.Transaction, sub domain.Subscription) (*domain.Notification, bool) {
	network := tx.Network
	if network == "" {
		network = sub.Network
	}

	n := &domain.Notification{
		ID:             domain.NotificationID(tx.Hash, sub.ID),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Network:        network,
		Hash:           domain.NormalizeAddress(tx.Hash),
		CreatedAt:      tx.CreatedAt,
	}

	for _, e := range tx.Entries {
		for _, a := range expand(e) {
			if isZero(a.Value) {
				metrics.EntriesDropped.WithLabelValues("classify", "zero_value").Inc()
				continue
			}
			c.identify(ctx, network, &a)

			fromTracked := sub.Tracks(a.From)
			toTracked := sub.Tracks(a.To)
			switch {
			case fromTracked && toTracked:
				n.Transferred = append(n.Transferred, a)
			case fromTracked:
				n.Sent = append(n.Sent, a)
			case toTracked:
				n.Received = append(n.Received, a)
			default:
				metrics.EntriesDropped.WithLabelValues("classify", "untracked").Inc()
			}
		}
	}

	if n.Empty() {
		return nil, false
	}
	return n, true
}

// expand yields one activity per asset movement. Multi-token entries carry
// several (id, value) pairs and become one activity each.
func expand(e domain.ActivityEntry) []domain.Activity {
	base := domain.Activity{
		Category: e.Category,
		From:     domain.NormalizeAddress(e.From),
		To:       domain.NormalizeAddress(e.To),
		Value:    e.Value,
		Asset:    e.Asset,
		Contract: domain.NormalizeAddress(e.Contract),
		TokenID:  e.TokenID,
	}

	if e.Category != domain.CategoryMultiToken || len(e.MultiToken) == 0 {
		return []domain.Activity{base}
	}

	out := make([]domain.Activity, 0, len(e.MultiToken))
	for _, p := range e.MultiToken {
		a := base
		a.TokenID = p.TokenID
		a.Value = p.Value
		out = append(out, a)
	}
	return out
}

func (c *Classifier) identify(ctx context.Context, network string, a *domain.Activity) {
	if c.coins == nil {
		return
	}
	switch a.Category {
	case domain.CategoryNative, domain.CategoryInternal:
		if nc, ok := c.coins.ResolveNative(network); ok {
			a.CoinID = nc.ID
			if a.Asset == "" {
				a.Asset = nc.Symbol
			}
		}
	default:
		if a.Contract == "" {
			return
		}
		if id, ok := c.coins.Resolve(ctx, network, a.Contract); ok {
			a.CoinID = id
		} else {
			c.log.Debug("coin unresolved, keeping symbol",
				zap.String("network", network),
				zap.String("contract", a.Contract),
				zap.String("asset", a.Asset),
			)
		}
	}
}

func isZero(v string) bool {
	r, err := domain.ParseAmount(v)
	if err != nil {
		return true
	}
	return r.Sign() == 0
}

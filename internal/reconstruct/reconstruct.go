package reconstruct

import (
	"errors"
	"strings"

	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/metrics"

	"go.uber.org/zap"
)

var (
	errNoHash    = errors.New("missing transaction hash")
	errNoParties = errors.New("missing from and to address")
)

// Reconstructor rebuilds logical transactions out of a flushed batch.
type Reconstructor struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Reconstructor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconstructor{log: log.With(zap.String("component", "reconstruct"))}
}

type group struct {
	tx   domain.Transaction
	subs map[string]struct{}
	keys map[string]struct{}
}

// Reconstruct groups every entry of the batch by transaction hash. Entries
// are unioned in arrival order and exact duplicates collapse to the first
// occurrence. Transactions are returned in order of first appearance.
func (r *Reconstructor) Reconstruct(batch []domain.RawDelivery) []domain.Transaction {
	groups := make(map[string]*group)
	var order []string

	for _, d := range batch {
		for _, raw := range d.Entries {
			e, err := normalize(raw)
			if err != nil {
				metrics.EntriesDropped.WithLabelValues("reconstruct", "malformed").Inc()
				r.log.Warn("dropping malformed entry",
					zap.String("delivery_id", d.DeliveryID),
					zap.String("subscription_id", d.SubscriptionID),
					zap.String("hash", raw.Hash),
					zap.Error(err),
				)
				continue
			}

			g := groups[e.Hash]
			if g == nil {
				g = &group{
					tx: domain.Transaction{
						Hash:      e.Hash,
						Network:   d.Network,
						CreatedAt: d.CreatedAt,
					},
					subs: make(map[string]struct{}),
					keys: make(map[string]struct{}),
				}
				groups[e.Hash] = g
				order = append(order, e.Hash)
			}

			if d.CreatedAt.Before(g.tx.CreatedAt) || g.tx.CreatedAt.IsZero() {
				g.tx.CreatedAt = d.CreatedAt
			}
			if _, ok := g.subs[d.SubscriptionID]; !ok {
				g.subs[d.SubscriptionID] = struct{}{}
				g.tx.SubscriptionIDs = append(g.tx.SubscriptionIDs, d.SubscriptionID)
			}

			k := dedupeKey(e)
			if _, dup := g.keys[k]; dup {
				metrics.EntriesDropped.WithLabelValues("reconstruct", "duplicate").Inc()
				continue
			}
			g.keys[k] = struct{}{}
			g.tx.Entries = append(g.tx.Entries, e)
		}
	}

	out := make([]domain.Transaction, 0, len(order))
	for _, h := range order {
		out = append(out, groups[h].tx)
	}
	metrics.TransactionsReconstructed.Add(float64(len(out)))
	return out
}

func normalize(e domain.ActivityEntry) (domain.ActivityEntry, error) {
	e.Hash = domain.NormalizeAddress(e.Hash)
	if e.Hash == "" {
		return e, errNoHash
	}
	e.From = domain.NormalizeAddress(e.From)
	e.To = domain.NormalizeAddress(e.To)
	if e.From == "" && e.To == "" {
		return e, errNoParties
	}
	e.Contract = domain.NormalizeAddress(e.Contract)

	if e.Category == domain.CategoryMultiToken && len(e.MultiToken) > 0 {
		pairs := make([]domain.TokenAmount, 0, len(e.MultiToken))
		for _, p := range e.MultiToken {
			v, err := domain.NormalizeAmount(p.Value)
			if err != nil {
				return e, err
			}
			pairs = append(pairs, domain.TokenAmount{TokenID: strings.ToLower(p.TokenID), Value: v})
		}
		e.MultiToken = pairs
		return e, nil
	}

	v, err := domain.NormalizeAmount(e.Value)
	if err != nil {
		return e, err
	}
	e.Value = v
	return e, nil
}

func dedupeKey(e domain.ActivityEntry) string {
	var sb strings.Builder
	sb.WriteString(e.Hash)
	sb.WriteByte('|')
	sb.WriteString(e.From)
	sb.WriteByte('|')
	sb.WriteString(e.To)
	sb.WriteByte('|')
	sb.WriteString(e.Value)
	sb.WriteByte('|')
	sb.WriteString(e.Contract)
	sb.WriteByte('|')
	sb.WriteString(e.TokenID)
	for _, p := range e.MultiToken {
		sb.WriteByte('|')
		sb.WriteString(p.TokenID)
		sb.WriteByte('=')
		sb.WriteString(p.Value)
	}
	return sb.String()
}

package coins

import (
	"context"
	"errors"
	"time"

	"github.com/pvzzle/walletfeed/internal/cache"
	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/storage"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

const lookupTimeout = 2 * time.Second

// Enqueuer accepts provisioning work without blocking.
type Enqueuer interface {
	Enqueue(t Task) bool
}

type ResolverConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Resolver maps (network, contract) to a canonical coin id and triggers
// background provisioning the first time an id shows up.
type Resolver struct {
	repo  storage.CoinRepository
	prov  Enqueuer
	log   *zap.Logger
	cache *cache.LRU[string, string]
	seen  mapset.Set[string]
}

func NewResolver(repo storage.CoinRepository, prov Enqueuer, cfg ResolverConfig, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &Resolver{
		repo:  repo,
		prov:  prov,
		log:   log.With(zap.String("component", "coins")),
		cache: cache.NewLRU[string, string](cfg.CacheSize, cfg.CacheTTL),
		seen:  mapset.NewSet[string](),
	}
}

// Resolve looks up the coin id of a token contract. A miss is cached too, so
// an unknown contract costs one repository call per TTL window.
func (r *Resolver) Resolve(ctx context.Context, network, contract string) (string, bool) {
	contract = domain.NormalizeAddress(contract)
	if contract == "" {
		return "", false
	}
	key := cacheKey(network, contract)

	id, ok := r.cache.Get(key)
	if !ok {
		cctx, cancel := context.WithTimeout(ctx, lookupTimeout)
		defer cancel()

		found, err := r.repo.FindCoinID(cctx, network, contract)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			// not cached: a transient failure must not hide the mapping
			r.log.Warn("coin lookup failed",
				zap.String("network", network),
				zap.String("contract", contract),
				zap.Error(err),
			)
			return "", false
		default:
			id = found
		}
		r.cache.Put(key, id)
	}

	if id == "" {
		return "", false
	}
	r.EnsureProvisioned(id, network, contract)
	return id, true
}

// ResolveNative returns the native coin id of network.
func (r *Resolver) ResolveNative(network string) (NativeCoin, bool) {
	c, ok := Native(network)
	if ok {
		r.EnsureProvisioned(c.ID, network, "")
	}
	return c, ok
}

// EnsureProvisioned enqueues provisioning for coinID once. The id is only
// marked as seen after a successful enqueue, so a full queue is retried on
// the next resolution.
func (r *Resolver) EnsureProvisioned(coinID, network, contract string) {
	if coinID == "" || r.prov == nil || r.seen.Contains(coinID) {
		return
	}
	if r.prov.Enqueue(Task{CoinID: coinID, Network: network, Contract: contract}) {
		r.seen.Add(coinID)
	}
}

// Invalidate drops the cached mapping of a contract.
func (r *Resolver) Invalidate(network, contract string) {
	r.cache.Delete(cacheKey(network, domain.NormalizeAddress(contract)))
}

func cacheKey(network, contract string) string {
	return network + "/" + contract
}

// MapContract records an operator-supplied mapping and drops any cached miss.
func (r *Resolver) MapContract(ctx context.Context, network, contract, coinID string) error {
	if err := r.repo.MapContract(ctx, network, contract, coinID); err != nil {
		return err
	}
	r.Invalidate(network, contract)
	return nil
}

package subs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pvzzle/walletfeed/internal/cache"
	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/storage"
)

var ErrNotFound = errors.New("subscription not found")

// Directory resolves a provider subscription id to its owner and tracked set.
type Directory interface {
	Resolve(ctx context.Context, id string) (domain.Subscription, error)
}

type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Store is the Directory backed by a SubscriptionRepository with a TTL LRU in
// front. Writes go through the repository and invalidate the cached entry.
type Store struct {
	repo  storage.SubscriptionRepository
	cache *cache.LRU[string, domain.Subscription]
}

var _ Directory = (*Store)(nil)

func NewStore(repo storage.SubscriptionRepository, cfg Config) *Store {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &Store{
		repo:  repo,
		cache: cache.NewLRU[string, domain.Subscription](cfg.CacheSize, cfg.CacheTTL),
	}
}

// Resolve returns a copy of the subscription; callers may keep it.
func (s *Store) Resolve(ctx context.Context, id string) (domain.Subscription, error) {
	if sub, ok := s.cache.Get(id); ok {
		return sub.Clone(), nil
	}

	sub, err := s.repo.GetSubscription(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Subscription{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("resolve subscription %s: %w", id, err)
	}

	s.cache.Put(id, sub.Clone())
	return sub, nil
}

// Put creates or replaces a subscription. Tracked addresses are normalized.
func (s *Store) Put(ctx context.Context, sub domain.Subscription) error {
	if sub.ID == "" {
		return errors.New("subscription id is empty")
	}
	if sub.UserID == "" {
		return errors.New("subscription user id is empty")
	}

	var addrs []string
	if sub.TrackedAddresses != nil {
		addrs = sub.TrackedAddresses.ToSlice()
	}
	sub.TrackedAddresses = domain.NewAddressSet(addrs...)

	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("put subscription %s: %w", sub.ID, err)
	}
	s.cache.Delete(sub.ID)
	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.repo.DeleteSubscription(ctx, id); err != nil {
		return fmt.Errorf("remove subscription %s: %w", id, err)
	}
	s.cache.Delete(id)
	return nil
}

// Invalidate drops the cached copy of id, if any.
func (s *Store) Invalidate(id string) {
	s.cache.Delete(id)
}

package memory

import (
	"context"
	"sync"

	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/storage"
)

// Memory is a process-local Repository. Nothing survives a restart; it backs
// tests and single-node development setups.
type Memory struct {
	mu sync.RWMutex

	pending    map[string][]domain.Notification
	pendingIDs map[string]map[string]struct{}

	subs      map[string]domain.Subscription
	contracts map[string]string
	coins     map[string]storage.CoinRecord
}

var _ storage.Repository = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		pending:    make(map[string][]domain.Notification),
		pendingIDs: make(map[string]map[string]struct{}),
		subs:       make(map[string]domain.Subscription),
		contracts:  make(map[string]string),
		coins:      make(map[string]storage.CoinRecord),
	}
}

func (m *Memory) EnsureSchema(ctx context.Context) error { return nil }

func (m *Memory) Push(ctx context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.pendingIDs[n.UserID]
	if ids == nil {
		ids = make(map[string]struct{})
		m.pendingIDs[n.UserID] = ids
	}
	if _, dup := ids[n.ID]; dup {
		return nil
	}
	ids[n.ID] = struct{}{}
	m.pending[n.UserID] = append(m.pending[n.UserID], n)
	return nil
}

func (m *Memory) List(ctx context.Context, userID string) ([]domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := m.pending[userID]
	out := make([]domain.Notification, len(q))
	copy(out, q)
	return out, nil
}

func (m *Memory) Ack(ctx context.Context, userID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.pending[userID]
	if count > len(q) {
		count = len(q)
	}
	for _, n := range q[:count] {
		delete(m.pendingIDs[userID], n.ID)
	}
	rest := q[count:]
	if len(rest) == 0 {
		delete(m.pending, userID)
		delete(m.pendingIDs, userID)
		return nil
	}
	m.pending[userID] = append([]domain.Notification(nil), rest...)
	return nil
}

func (m *Memory) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subs[id]
	if !ok {
		return domain.Subscription{}, storage.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) UpsertSubscription(ctx context.Context, sub domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub.Clone()
	return nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

func (m *Memory) FindCoinID(ctx context.Context, network, contract string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.contracts[contractKey(network, contract)]
	if !ok {
		return "", storage.ErrNotFound
	}
	return id, nil
}

func (m *Memory) MapContract(ctx context.Context, network, contract, coinID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[contractKey(network, contract)] = coinID
	return nil
}

func (m *Memory) GetCoin(ctx context.Context, coinID string) (storage.CoinRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.coins[coinID]
	if !ok {
		return storage.CoinRecord{}, storage.ErrNotFound
	}
	return c, nil
}

func (m *Memory) UpsertCoin(ctx context.Context, c storage.CoinRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coins[c.ID] = c
	return nil
}

func contractKey(network, contract string) string {
	return network + "/" + domain.NormalizeAddress(contract)
}

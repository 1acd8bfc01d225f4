package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pvzzle/walletfeed/internal/bus"
	"github.com/pvzzle/walletfeed/internal/classify"
	"github.com/pvzzle/walletfeed/internal/coins"
	"github.com/pvzzle/walletfeed/internal/delivery"
	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/ingest"
	"github.com/pvzzle/walletfeed/internal/reconstruct"
	"github.com/pvzzle/walletfeed/internal/session"
	"github.com/pvzzle/walletfeed/internal/storage/memory"
	"github.com/pvzzle/walletfeed/internal/subs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	user string
	mu   sync.Mutex
	got  []domain.Notification
}

func (c *collector) ID() string     { return "c-" + c.user }
func (c *collector) UserID() string { return c.user }
func (c *collector) Send(n domain.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return nil
}

func (c *collector) received() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Notification(nil), c.got...)
}

type harness struct {
	repo     *memory.Memory
	registry *session.Registry
	buffer   *ingest.Buffer
	done     chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	repo := memory.New()
	require.NoError(t, repo.MapContract(ctx, "ETH_MAINNET", "0xa0b8", "usd-coin"))

	dir := subs.NewStore(repo, subs.Config{})
	require.NoError(t, dir.Put(ctx, domain.Subscription{
		ID: "wh_alice", UserID: "alice", Network: "ETH_MAINNET", Active: true,
		TrackedAddresses: domain.NewAddressSet("0xAA", "0xBB"),
	}))
	require.NoError(t, dir.Put(ctx, domain.Subscription{
		ID: "wh_paused", UserID: "bob", Network: "ETH_MAINNET", Active: false,
		TrackedAddresses: domain.NewAddressSet("0xCC"),
	}))

	resolver := coins.NewResolver(repo, nil, coins.ResolverConfig{}, nil)
	registry := session.NewRegistry(repo, nil)
	router := delivery.NewRouter(registry, repo, nil, nil)
	proc := NewProcessor(reconstruct.New(nil), dir, classify.New(resolver, nil), router, nil, nil)

	h := &harness{
		repo:     repo,
		registry: registry,
		buffer:   ingest.NewBuffer(ingest.Config{Quiet: 30 * time.Millisecond}, nil),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		_ = proc.Run(ctx, h.buffer.Batches())
	}()
	return h
}

func (h *harness) stop() {
	h.buffer.Close()
	<-h.done
}

func delivery0x123(at time.Time, entry domain.ActivityEntry) domain.RawDelivery {
	return domain.RawDelivery{
		SubscriptionID: "wh_alice", Network: "ETH_MAINNET", DeliveryID: at.String(), CreatedAt: at,
		Entries: []domain.ActivityEntry{entry},
	}
}

func TestPipeline_OfflineBurstIsQueuedThenDrained(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.buffer.Accept(delivery0x123(t0, domain.ActivityEntry{
		Category: domain.CategoryToken, Hash: "0x123", From: "0xAA", To: "0xCC", Value: "5", Asset: "USDC", Contract: "0xA0B8",
	}))
	h.buffer.Accept(delivery0x123(t0.Add(100*time.Millisecond), domain.ActivityEntry{
		Category: domain.CategoryNative, Hash: "0x123", From: "0xAA", To: "0xCC", Value: "0", Asset: "ETH",
	}))
	h.stop()

	queued, err := h.repo.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, queued, 1, "one notification per transaction")

	n := queued[0]
	assert.Equal(t, "0x123", n.Hash)
	assert.Equal(t, t0, n.CreatedAt)
	require.Len(t, n.Sent, 1)
	assert.Equal(t, "5", n.Sent[0].Value)
	assert.Equal(t, "usd-coin", n.Sent[0].CoinID)
	assert.Empty(t, n.Received)
	assert.Empty(t, n.Transferred)

	c := &collector{user: "alice"}
	require.NoError(t, h.registry.Register(ctx, c))
	got := c.received()
	require.Len(t, got, 1)
	assert.Equal(t, n.ID, got[0].ID)

	left, _ := h.repo.List(ctx, "alice")
	assert.Empty(t, left)
}

func TestPipeline_LiveTransferAndDrops(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	c := &collector{user: "alice"}
	require.NoError(t, h.registry.Register(ctx, c))

	now := time.Now().UTC()
	h.buffer.Accept(domain.RawDelivery{
		SubscriptionID: "wh_alice", Network: "ETH_MAINNET", CreatedAt: now,
		Entries: []domain.ActivityEntry{
			{Category: domain.CategoryNative, Hash: "0x456", From: "0xaa", To: "0xbb", Value: "10", Asset: "ETH"},
		},
	})
	h.buffer.Accept(domain.RawDelivery{
		SubscriptionID: "wh_unknown", Network: "ETH_MAINNET", CreatedAt: now,
		Entries: []domain.ActivityEntry{
			{Category: domain.CategoryNative, Hash: "0x777", From: "0xaa", To: "0xbb", Value: "1"},
		},
	})
	h.buffer.Accept(domain.RawDelivery{
		SubscriptionID: "wh_paused", Network: "ETH_MAINNET", CreatedAt: now,
		Entries: []domain.ActivityEntry{
			{Category: domain.CategoryNative, Hash: "0x888", From: "0xcc", To: "0xdd", Value: "1"},
		},
	})
	h.stop()

	got := c.received()
	require.Len(t, got, 1)
	assert.Equal(t, "0x456", got[0].Hash)
	require.Len(t, got[0].Transferred, 1)
	assert.Equal(t, "10", got[0].Transferred[0].Value)
	assert.Equal(t, "ethereum", got[0].Transferred[0].CoinID)

	bob, _ := h.repo.List(ctx, "bob")
	assert.Empty(t, bob, "inactive subscriptions produce nothing")
}

type panickyClassifier struct{}

func (panickyClassifier) Classify(ctx context.Context, tx domain.Transaction, sub domain.Subscription) (*domain.Notification, bool) {
	if tx.Hash == "0xbad" {
		panic("boom")
	}
	return &domain.Notification{ID: tx.Hash, UserID: sub.UserID, Hash: tx.Hash, Sent: []domain.Activity{{Value: "1"}}}, true
}

type recordingRouter struct {
	routed []domain.Notification
}

func (r *recordingRouter) Route(ctx context.Context, n domain.Notification) delivery.Outcome {
	r.routed = append(r.routed, n)
	return delivery.OutcomeLive
}

type staticDirectory map[string]domain.Subscription

func (d staticDirectory) Resolve(ctx context.Context, id string) (domain.Subscription, error) {
	s, ok := d[id]
	if !ok {
		return domain.Subscription{}, subs.ErrNotFound
	}
	return s, nil
}

func TestProcessor_PanicIsContainedPerTransaction(t *testing.T) {
	router := &recordingRouter{}
	alerts := make(chan bus.Alert, 4)
	dir := staticDirectory{"wh_1": {ID: "wh_1", UserID: "u1", Active: true}}
	p := NewProcessor(reconstruct.New(nil), dir, panickyClassifier{}, router, alerts, nil)

	p.Process(context.Background(), []domain.RawDelivery{{
		SubscriptionID: "wh_1", Network: "ETH_MAINNET",
		Entries: []domain.ActivityEntry{
			{Category: domain.CategoryNative, Hash: "0xbad", From: "0xaa", To: "0xbb", Value: "1"},
			{Category: domain.CategoryNative, Hash: "0xgood", From: "0xaa", To: "0xbb", Value: "1"},
		},
	}})

	require.Len(t, router.routed, 1)
	assert.Equal(t, "0xgood", router.routed[0].Hash)
	assert.Len(t, alerts, 1)
}

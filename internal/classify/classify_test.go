package classify

import (
	"context"
	"testing"
	"time"

	"github.com/pvzzle/walletfeed/internal/coins"
	"github.com/pvzzle/walletfeed/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoins struct {
	contracts map[string]string
}

func (f fakeCoins) Resolve(ctx context.Context, network, contract string) (string, bool) {
	id, ok := f.contracts[contract]
	return id, ok
}

func (f fakeCoins) ResolveNative(network string) (coins.NativeCoin, bool) {
	return coins.Native(network)
}

var (
	t0       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver = fakeCoins{contracts: map[string]string{"0xa0b8": "usd-coin"}}
)

func sub(addrs ...string) domain.Subscription {
	return domain.Subscription{
		ID: "wh_1", UserID: "u1", Network: "ETH_MAINNET", Active: true,
		TrackedAddresses: domain.NewAddressSet(addrs...),
	}
}

func TestClassify_SentTokenDropsZeroValueCall(t *testing.T) {
	tx := domain.Transaction{
		Hash: "0x123", Network: "ETH_MAINNET", CreatedAt: t0, SubscriptionIDs: []string{"wh_1"},
		Entries: []domain.ActivityEntry{
			{Category: domain.CategoryToken, Hash: "0x123", From: "0xaa", To: "0xcc", Value: "5", Asset: "USDC", Contract: "0xa0b8"},
			{Category: domain.CategoryNative, Hash: "0x123", From: "0xaa", To: "0xcc", Value: "0", Asset: "ETH"},
		},
	}

	n, ok := New(resolver, nil).Classify(context.Background(), tx, sub("0xAA"))
	require.True(t, ok)

	assert.Empty(t, n.Transferred)
	assert.Empty(t, n.Received)
	require.Len(t, n.Sent, 1)
	assert.Equal(t, "5", n.Sent[0].Value)
	assert.Equal(t, "USDC", n.Sent[0].Asset)
	assert.Equal(t, "usd-coin", n.Sent[0].CoinID)

	assert.Equal(t, "u1", n.UserID)
	assert.Equal(t, "0x123", n.Hash)
	assert.Equal(t, t0, n.CreatedAt)
	assert.Equal(t, domain.NotificationID("0x123", "wh_1"), n.ID)
}

func TestClassify_TransferBetweenOwnAddresses(t *testing.T) {
	tx := domain.Transaction{
		Hash: "0x456", Network: "ETH_MAINNET", CreatedAt: t0,
		Entries: []domain.ActivityEntry{
			{Category: domain.CategoryNative, Hash: "0x456", From: "0xaa", To: "0xbb", Value: "10", Asset: "ETH"},
		},
	}

	n, ok := New(resolver, nil).Classify(context.Background(), tx, sub("0xaa", "0xbb"))
	require.True(t, ok)

	require.Len(t, n.Transferred, 1)
	assert.Empty(t, n.Sent)
	assert.Empty(t, n.Received)
	assert.Equal(t, "10", n.Transferred[0].Value)
	assert.Equal(t, "ethereum", n.Transferred[0].CoinID)
}

func TestClassify_BucketsAreDisjoint(t *testing.T) {
	tx := domain.Transaction{
		Hash: "0x789", Network: "ETH_MAINNET",
		Entries: []domain.ActivityEntry{
			{Category: domain.CategoryNative, From: "0xaa", To: "0xbb", Value: "1"},
			{Category: domain.CategoryNative, From: "0xaa", To: "0xdd", Value: "2"},
			{Category: domain.CategoryNative, From: "0xdd", To: "0xbb", Value: "3"},
			{Category: domain.CategoryNative, From: "0xdd", To: "0xee", Value: "4"},
			{Category: domain.CategoryInternal, From: "0xaa", To: "0xdd", Value: "0"},
		},
	}

	n, ok := New(resolver, nil).Classify(context.Background(), tx, sub("0xaa", "0xbb"))
	require.True(t, ok)

	total := len(n.Transferred) + len(n.Sent) + len(n.Received)
	assert.Equal(t, 3, total, "untracked and zero-valued entries are dropped")
	assert.Equal(t, "1", n.Transferred[0].Value)
	assert.Equal(t, "2", n.Sent[0].Value)
	assert.Equal(t, "3", n.Received[0].Value)
}

func TestClassify_NothingTrackable(t *testing.T) {
	tx := domain.Transaction{
		Hash: "0x1", Network: "ETH_MAINNET",
		Entries: []domain.ActivityEntry{
			{Category: domain.CategoryNative, From: "0xdd", To: "0xee", Value: "1"},
			{Category: domain.CategoryInternal, From: "0xaa", To: "0xee", Value: "0"},
		},
	}

	n, ok := New(resolver, nil).Classify(context.Background(), tx, sub("0xaa"))
	assert.False(t, ok)
	assert.Nil(t, n)
}

func TestClassify_ExpandsMultiTokenPairs(t *testing.T) {
	tx := domain.Transaction{
		Hash: "0x5", Network: "ETH_MAINNET",
		Entries: []domain.ActivityEntry{{
			Category: domain.CategoryMultiToken, From: "0xdd", To: "0xaa", Contract: "0xnft",
			MultiToken: []domain.TokenAmount{
				{TokenID: "0x1", Value: "2"},
				{TokenID: "0x2", Value: "0"},
				{TokenID: "0x3", Value: "7"},
			},
		}},
	}

	n, ok := New(resolver, nil).Classify(context.Background(), tx, sub("0xaa"))
	require.True(t, ok)
	require.Len(t, n.Received, 2)
	assert.Equal(t, "0x1", n.Received[0].TokenID)
	assert.Equal(t, "2", n.Received[0].Value)
	assert.Equal(t, "0x3", n.Received[1].TokenID)
	assert.Empty(t, n.Received[0].CoinID, "unknown contract keeps symbol only")
}

func TestClassify_CaseInsensitiveAddresses(t *testing.T) {
	tx := domain.Transaction{
		Hash: "0xABC", Network: "ETH_MAINNET",
		Entries: []domain.ActivityEntry{
			{Category: domain.CategoryToken, From: "0xDdDd", To: "0xAaAa", Value: "1", Contract: "0xA0B8", Asset: "USDC"},
		},
	}

	n, ok := New(resolver, nil).Classify(context.Background(), tx, sub("0xAAAA"))
	require.True(t, ok)
	require.Len(t, n.Received, 1)
	assert.Equal(t, "0xaaaa", n.Received[0].To)
	assert.Equal(t, "usd-coin", n.Received[0].CoinID)
	assert.Equal(t, "0xabc", n.Hash)
}

func TestClassify_SameTransactionDifferentSubscriptions(t *testing.T) {
	tx := domain.Transaction{
		Hash: "0x9", Network: "ETH_MAINNET",
		Entries: []domain.ActivityEntry{
			{Category: domain.CategoryNative, From: "0xaa", To: "0xbb", Value: "1"},
		},
	}
	sender := sub("0xaa")
	receiver := domain.Subscription{ID: "wh_2", UserID: "u2", TrackedAddresses: domain.NewAddressSet("0xbb")}

	c := New(resolver, nil)
	a, ok := c.Classify(context.Background(), tx, sender)
	require.True(t, ok)
	b, ok := c.Classify(context.Background(), tx, receiver)
	require.True(t, ok)

	assert.Len(t, a.Sent, 1)
	assert.Len(t, b.Received, 1)
	assert.NotEqual(t, a.ID, b.ID)
}

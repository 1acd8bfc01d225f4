package memory

import (
	"context"
	"testing"

	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func note(user, id string) domain.Notification {
	return domain.Notification{ID: id, UserID: user, Hash: "0x" + id}
}

func TestPending_PushListAck(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.Push(ctx, note("u1", "a")))
	require.NoError(t, m.Push(ctx, note("u1", "b")))
	require.NoError(t, m.Push(ctx, note("u1", "a")), "duplicate id is a no-op")
	require.NoError(t, m.Push(ctx, note("u2", "c")))

	got, err := m.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	require.NoError(t, m.Ack(ctx, "u1", 1))
	got, _ = m.List(ctx, "u1")
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)

	require.NoError(t, m.Ack(ctx, "u1", 10))
	got, _ = m.List(ctx, "u1")
	assert.Empty(t, got)

	other, _ := m.List(ctx, "u2")
	assert.Len(t, other, 1, "acks never touch other users")

	// an acked id may be queued again
	require.NoError(t, m.Push(ctx, note("u1", "a")))
	got, _ = m.List(ctx, "u1")
	assert.Len(t, got, 1)
}

func TestSubscriptions_CopyOnReadWrite(t *testing.T) {
	ctx := context.Background()
	m := New()

	sub := domain.Subscription{ID: "wh_1", UserID: "u1", TrackedAddresses: domain.NewAddressSet("0xaa"), Active: true}
	require.NoError(t, m.UpsertSubscription(ctx, sub))
	sub.TrackedAddresses.Add("0xbb")

	got, err := m.GetSubscription(ctx, "wh_1")
	require.NoError(t, err)
	assert.False(t, got.Tracks("0xbb"))

	require.NoError(t, m.DeleteSubscription(ctx, "wh_1"))
	_, err = m.GetSubscription(ctx, "wh_1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCoins(t *testing.T) {
	ctx := context.Background()
	m := New()

	_, err := m.FindCoinID(ctx, "ETH_MAINNET", "0xA0b8")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, m.MapContract(ctx, "ETH_MAINNET", "0xA0B8", "usd-coin"))
	id, err := m.FindCoinID(ctx, "ETH_MAINNET", "0xa0b8")
	require.NoError(t, err)
	assert.Equal(t, "usd-coin", id)

	require.NoError(t, m.UpsertCoin(ctx, storage.CoinRecord{ID: "usd-coin", Symbol: "USDC"}))
	c, err := m.GetCoin(ctx, "usd-coin")
	require.NoError(t, err)
	assert.Equal(t, "USDC", c.Symbol)
}

//go:build integration

package pg_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/storage"
	"github.com/pvzzle/walletfeed/internal/storage/pg"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *pg.Postgres {
	t.Helper()
	repo, _ := openRepo(t)
	return repo
}

func openRepo(t *testing.T) (*pg.Postgres, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		dsn = os.Getenv("PG_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_PG_DSN/PG_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := pg.New(pool)
	require.NoError(t, repo.EnsureSchema(ctx))

	_, err = pool.Exec(ctx, "TRUNCATE pending_notifications, pending_dead_letters, subscription_addresses, subscriptions, coin_contracts, coins RESTART IDENTITY CASCADE")
	require.NoError(t, err)
	return repo, pool
}

func TestRepo_PendingQueue(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"n-1", "n-2", "n-3"} {
		require.NoError(t, repo.Push(ctx, domain.Notification{
			ID: id, UserID: "u1", Hash: "0x123", CreatedAt: created,
			Sent: []domain.Activity{{Category: domain.CategoryToken, Value: "5", Asset: "USDC"}},
		}))
	}
	require.NoError(t, repo.Push(ctx, domain.Notification{ID: "n-1", UserID: "u1"}), "duplicate is ignored")

	got, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "n-1", got[0].ID)
	assert.True(t, created.Equal(got[0].CreatedAt))
	require.Len(t, got[0].Sent, 1)
	assert.Equal(t, "USDC", got[0].Sent[0].Asset)

	require.NoError(t, repo.Ack(ctx, "u1", 2))
	got, err = repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n-3", got[0].ID)
}

func TestRepo_PendingQuarantinesUndecodableRows(t *testing.T) {
	repo, pool := openRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Push(ctx, domain.Notification{ID: "n-1", UserID: "u1"}))
	_, err := pool.Exec(ctx,
		`INSERT INTO pending_notifications(user_id, notification_id, payload) VALUES ('u1', 'n-bad', '"oops"'::jsonb)`)
	require.NoError(t, err)
	require.NoError(t, repo.Push(ctx, domain.Notification{ID: "n-2", UserID: "u1"}))

	got, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "n-1", got[0].ID)
	assert.Equal(t, "n-2", got[1].ID)

	require.NoError(t, repo.Ack(ctx, "u1", 1))
	got, err = repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n-2", got[0].ID)

	var dead string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT notification_id FROM pending_dead_letters WHERE user_id = 'u1'`).Scan(&dead))
	assert.Equal(t, "n-bad", dead)
}

func TestRepo_Subscriptions(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	sub := domain.Subscription{
		ID: "wh_1", UserID: "u1", Network: "ETH_MAINNET", Active: true,
		TrackedAddresses: domain.NewAddressSet("0xAA", "0xbb"),
	}
	require.NoError(t, repo.UpsertSubscription(ctx, sub))

	got, err := repo.GetSubscription(ctx, "wh_1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.Active)
	assert.True(t, got.Tracks("0xaa"))
	assert.True(t, got.Tracks("0xBB"))

	sub.TrackedAddresses = domain.NewAddressSet("0xcc")
	sub.Active = false
	require.NoError(t, repo.UpsertSubscription(ctx, sub))
	got, err = repo.GetSubscription(ctx, "wh_1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.False(t, got.Tracks("0xaa"))
	assert.Equal(t, 1, got.TrackedAddresses.Cardinality())

	require.NoError(t, repo.DeleteSubscription(ctx, "wh_1"))
	_, err = repo.GetSubscription(ctx, "wh_1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRepo_Coins(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.FindCoinID(ctx, "ETH_MAINNET", "0xA0B8")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, repo.MapContract(ctx, "ETH_MAINNET", "0xA0B8", "usd-coin"))
	id, err := repo.FindCoinID(ctx, "ETH_MAINNET", "0xa0b8")
	require.NoError(t, err)
	assert.Equal(t, "usd-coin", id)

	six := 6
	require.NoError(t, repo.UpsertCoin(ctx, storage.CoinRecord{ID: "usd-coin", Network: "ETH_MAINNET", Contract: "0xA0B8", Symbol: "USDC", Decimals: &six}))
	require.NoError(t, repo.UpsertCoin(ctx, storage.CoinRecord{ID: "usd-coin", Network: "ETH_MAINNET"}), "empty fields keep stored metadata")

	c, err := repo.GetCoin(ctx, "usd-coin")
	require.NoError(t, err)
	assert.Equal(t, "USDC", c.Symbol)
	require.NotNil(t, c.Decimals)
	assert.Equal(t, 6, *c.Decimals)
	assert.Equal(t, "0xa0b8", c.Contract)
}

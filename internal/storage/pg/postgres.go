package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/metrics"
	"github.com/pvzzle/walletfeed/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	writeTimeout = 2 * time.Second
	readTimeout  = 3 * time.Second
)

type Postgres struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Postgres)(nil)

func New(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

func (r *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS subscriptions (
  id         TEXT PRIMARY KEY,
  user_id    TEXT NOT NULL,
  network    TEXT NOT NULL,
  is_active  BOOLEAN NOT NULL DEFAULT true,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subscription_addresses (
  subscription_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
  address         TEXT NOT NULL, -- lower-cased
  PRIMARY KEY (subscription_id, address)
);

CREATE TABLE IF NOT EXISTS coin_contracts (
  network          TEXT NOT NULL,
  contract_address TEXT NOT NULL, -- lower-cased
  coin_id          TEXT NOT NULL,
  PRIMARY KEY (network, contract_address)
);

CREATE TABLE IF NOT EXISTS coins (
  id               TEXT PRIMARY KEY,
  network          TEXT NOT NULL,
  contract_address TEXT NOT NULL DEFAULT '',
  symbol           TEXT NOT NULL DEFAULT '',
  name             TEXT NOT NULL DEFAULT '',
  decimals         INT NULL,
  provisioned_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pending_notifications (
  seq             BIGSERIAL PRIMARY KEY,
  user_id         TEXT NOT NULL,
  notification_id TEXT NOT NULL,
  payload         JSONB NOT NULL,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (user_id, notification_id)
);

CREATE INDEX IF NOT EXISTS pending_notifications_user_seq_idx ON pending_notifications(user_id, seq);

CREATE TABLE IF NOT EXISTS pending_dead_letters (
  seq             BIGINT PRIMARY KEY,
  user_id         TEXT NOT NULL,
  notification_id TEXT NOT NULL,
  payload         JSONB NOT NULL,
  created_at      TIMESTAMPTZ NOT NULL,
  quarantined_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	_, err := r.pool.Exec(ctx, ddl)
	return err
}

// Pending queue

func (r *Postgres) Push(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err = r.pool.Exec(cctx,
		`INSERT INTO pending_notifications(user_id, notification_id, payload) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		n.UserID, n.ID, payload,
	)
	if err != nil {
		return fmt.Errorf("push pending: %w", err)
	}
	return nil
}

// List returns the user's backlog oldest first. Rows whose payload no longer
// decodes are moved to pending_dead_letters.
func (r *Postgres) List(ctx context.Context, userID string) ([]domain.Notification, error) {
	cctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	rows, err := r.pool.Query(cctx,
		`SELECT seq, payload FROM pending_notifications WHERE user_id = $1 ORDER BY seq`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	var (
		out []domain.Notification
		bad []int64
	)
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			rows.Close()
			return nil, err
		}
		var n domain.Notification
		if err := json.Unmarshal(payload, &n); err != nil {
			bad = append(bad, seq)
			continue
		}
		out = append(out, n)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if len(bad) > 0 {
		_, err := r.pool.Exec(cctx, `
WITH moved AS (
  DELETE FROM pending_notifications WHERE seq = ANY($1)
  RETURNING seq, user_id, notification_id, payload, created_at
)
INSERT INTO pending_dead_letters(seq, user_id, notification_id, payload, created_at)
SELECT seq, user_id, notification_id, payload, created_at FROM moved
ON CONFLICT (seq) DO NOTHING`, bad)
		if err != nil {
			return nil, fmt.Errorf("quarantine pending: %w", err)
		}
		metrics.PendingQuarantined.WithLabelValues("postgres").Add(float64(len(bad)))
	}
	return out, nil
}

func (r *Postgres) Ack(ctx context.Context, userID string, count int) error {
	if count <= 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := r.pool.Exec(cctx, `
DELETE FROM pending_notifications
WHERE seq IN (
  SELECT seq FROM pending_notifications
  WHERE user_id = $1
  ORDER BY seq
  LIMIT $2
)`, userID, count)
	if err != nil {
		return fmt.Errorf("ack pending: %w", err)
	}
	return nil
}

// Subscriptions

func (r *Postgres) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	cctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	q := `
SELECT
  s.id,
  s.user_id,
  s.network,
  s.is_active,
  COALESCE(array_agg(a.address) FILTER (WHERE a.address IS NOT NULL), '{}')::text[]
FROM subscriptions s
LEFT JOIN subscription_addresses a ON a.subscription_id = s.id
WHERE s.id = $1
GROUP BY s.id
`
	var (
		sub   domain.Subscription
		addrs []string
	)
	err := r.pool.QueryRow(cctx, q, id).Scan(&sub.ID, &sub.UserID, &sub.Network, &sub.Active, &addrs)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscription{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	sub.TrackedAddresses = domain.NewAddressSet(addrs...)
	return sub, nil
}

func (r *Postgres) UpsertSubscription(ctx context.Context, sub domain.Subscription) error {
	cctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var addrs []string
	if sub.TrackedAddresses != nil {
		addrs = sub.TrackedAddresses.ToSlice()
	}

	return pgx.BeginFunc(cctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(cctx, `
INSERT INTO subscriptions(id, user_id, network, is_active) VALUES ($1, $2, $3, $4)
ON CONFLICT(id) DO UPDATE SET
  user_id    = EXCLUDED.user_id,
  network    = EXCLUDED.network,
  is_active  = EXCLUDED.is_active,
  updated_at = now()
`, sub.ID, sub.UserID, sub.Network, sub.Active)
		if err != nil {
			return fmt.Errorf("upsert subscription: %w", err)
		}

		if _, err := tx.Exec(cctx, `DELETE FROM subscription_addresses WHERE subscription_id = $1`, sub.ID); err != nil {
			return fmt.Errorf("reset addresses: %w", err)
		}
		if len(addrs) == 0 {
			return nil
		}
		_, err = tx.Exec(cctx,
			`INSERT INTO subscription_addresses(subscription_id, address)
			 SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING`,
			sub.ID, addrs,
		)
		if err != nil {
			return fmt.Errorf("insert addresses: %w", err)
		}
		return nil
	})
}

func (r *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	cctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := r.pool.Exec(cctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	return err
}

// Coins

func (r *Postgres) FindCoinID(ctx context.Context, network, contract string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var id string
	err := r.pool.QueryRow(cctx,
		`SELECT coin_id FROM coin_contracts WHERE network = $1 AND contract_address = $2`,
		network, domain.NormalizeAddress(contract),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find coin id: %w", err)
	}
	return id, nil
}

func (r *Postgres) MapContract(ctx context.Context, network, contract, coinID string) error {
	cctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := r.pool.Exec(cctx, `
INSERT INTO coin_contracts(network, contract_address, coin_id) VALUES ($1, $2, $3)
ON CONFLICT(network, contract_address) DO UPDATE SET coin_id = EXCLUDED.coin_id
`, network, domain.NormalizeAddress(contract), coinID)
	return err
}

func (r *Postgres) GetCoin(ctx context.Context, coinID string) (storage.CoinRecord, error) {
	cctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var (
		c        storage.CoinRecord
		decimals *int32
	)
	err := r.pool.QueryRow(cctx,
		`SELECT id, network, contract_address, symbol, name, decimals, provisioned_at FROM coins WHERE id = $1`,
		coinID,
	).Scan(&c.ID, &c.Network, &c.Contract, &c.Symbol, &c.Name, &decimals, &c.ProvisionedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.CoinRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.CoinRecord{}, fmt.Errorf("get coin: %w", err)
	}
	if decimals != nil {
		d := int(*decimals)
		c.Decimals = &d
	}
	return c, nil
}

func (r *Postgres) UpsertCoin(ctx context.Context, c storage.CoinRecord) error {
	cctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var decimals any = nil
	if c.Decimals != nil {
		decimals = int32(*c.Decimals)
	}
	provisionedAt := c.ProvisionedAt
	if provisionedAt.IsZero() {
		provisionedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(cctx, `
INSERT INTO coins(id, network, contract_address, symbol, name, decimals, provisioned_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT(id) DO UPDATE SET
  symbol         = COALESCE(NULLIF(EXCLUDED.symbol, ''), coins.symbol),
  name           = COALESCE(NULLIF(EXCLUDED.name, ''), coins.name),
  decimals       = COALESCE(EXCLUDED.decimals, coins.decimals),
  provisioned_at = EXCLUDED.provisioned_at
`, c.ID, c.Network, domain.NormalizeAddress(c.Contract), c.Symbol, c.Name, decimals, provisionedAt)
	return err
}

func (r *Postgres) String() string { return fmt.Sprintf("pgrepo(%p)", r.pool) }

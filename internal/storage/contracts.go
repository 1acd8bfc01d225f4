package storage

import (
	"context"

	"github.com/pvzzle/walletfeed/internal/domain"
)

// PendingQueue is the durable per-user backlog of undelivered notifications.
// Entries of one user are kept in push order; pushing an id that is already
// queued for the user is a no-op.
type PendingQueue interface {
	Push(ctx context.Context, n domain.Notification) error
	List(ctx context.Context, userID string) ([]domain.Notification, error)
	// Ack removes the oldest count entries of the user's queue.
	Ack(ctx context.Context, userID string, count int) error
}

type SubscriptionRepository interface {
	GetSubscription(ctx context.Context, id string) (domain.Subscription, error)
	UpsertSubscription(ctx context.Context, sub domain.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
}

type CoinRepository interface {
	FindCoinID(ctx context.Context, network, contract string) (string, error)
	MapContract(ctx context.Context, network, contract, coinID string) error

	GetCoin(ctx context.Context, coinID string) (CoinRecord, error)
	UpsertCoin(ctx context.Context, c CoinRecord) error
}

type Repository interface {
	EnsureSchema(ctx context.Context) error

	PendingQueue
	SubscriptionRepository
	CoinRepository
}

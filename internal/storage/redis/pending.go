package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/metrics"
	"github.com/pvzzle/walletfeed/internal/storage"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultPrefix = "walletfeed:pending:"
	opTimeout     = 2 * time.Second
)

// pushScript appends a notification unless its id is already queued.
var pushScript = redis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 1 then
  return redis.call('RPUSH', KEYS[1], ARGV[2])
end
return 0
`)

// PendingQueue keeps each user's backlog in a list of msgpack frames, with a
// companion set of queued ids for duplicate filtering.
type PendingQueue struct {
	client *redis.Client
	prefix string
}

var _ storage.PendingQueue = (*PendingQueue)(nil)

func New(url string) (*PendingQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewWithClient(client, defaultPrefix), nil
}

func NewWithClient(client *redis.Client, prefix string) *PendingQueue {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &PendingQueue{client: client, prefix: prefix}
}

func (q *PendingQueue) Close() error {
	return q.client.Close()
}

func (q *PendingQueue) listKey(userID string) string { return q.prefix + userID }
func (q *PendingQueue) idsKey(userID string) string  { return q.prefix + userID + ":ids" }
func (q *PendingQueue) deadKey(userID string) string { return q.prefix + userID + ":dead" }

func (q *PendingQueue) Push(ctx context.Context, n domain.Notification) error {
	frame, err := msgpack.Marshal(&n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	keys := []string{q.listKey(n.UserID), q.idsKey(n.UserID)}
	if err := pushScript.Run(cctx, q.client, keys, n.ID, frame).Err(); err != nil {
		return fmt.Errorf("push pending: %w", err)
	}
	return nil
}

// List returns the user's backlog oldest first. Frames that no longer decode
// are moved to the user's dead list so they cannot block the queue.
func (q *PendingQueue) List(ctx context.Context, userID string) ([]domain.Notification, error) {
	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	frames, err := q.client.LRange(cctx, q.listKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	out, bad := decodeFrames(frames)
	if len(bad) == 0 {
		return out, nil
	}

	_, err = q.client.TxPipelined(cctx, func(p redis.Pipeliner) error {
		for _, f := range bad {
			p.LRem(cctx, q.listKey(userID), 1, f)
			p.RPush(cctx, q.deadKey(userID), f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("quarantine pending: %w", err)
	}
	metrics.PendingQuarantined.WithLabelValues("redis").Add(float64(len(bad)))
	return out, nil
}

func decodeFrames(frames []string) (out []domain.Notification, bad []string) {
	out = make([]domain.Notification, 0, len(frames))
	for _, f := range frames {
		var n domain.Notification
		if err := msgpack.Unmarshal([]byte(f), &n); err != nil {
			bad = append(bad, f)
			continue
		}
		out = append(out, n)
	}
	return out, bad
}

func (q *PendingQueue) Ack(ctx context.Context, userID string, count int) error {
	if count <= 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	head, err := q.List(cctx, userID)
	if err != nil {
		return err
	}
	if count > len(head) {
		count = len(head)
	}
	if count == 0 {
		return nil
	}

	ids := make([]any, 0, count)
	for _, n := range head[:count] {
		ids = append(ids, n.ID)
	}

	_, err = q.client.TxPipelined(cctx, func(p redis.Pipeliner) error {
		p.LTrim(cctx, q.listKey(userID), int64(count), -1)
		p.SRem(cctx, q.idsKey(userID), ids...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack pending: %w", err)
	}
	return nil
}

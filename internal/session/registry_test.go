package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id, user string

	mu        sync.Mutex
	got       []domain.Notification
	failAfter int // -1 never fails
}

func newFake(id, user string) *fakeSession {
	return &fakeSession{id: id, user: user, failAfter: -1}
}

func (f *fakeSession) ID() string     { return f.id }
func (f *fakeSession) UserID() string { return f.user }

func (f *fakeSession) Send(n domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && len(f.got) >= f.failAfter {
		return ErrSendBufferFull
	}
	f.got = append(f.got, n)
	return nil
}

func (f *fakeSession) received() []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Notification(nil), f.got...)
}

func note(user string, i int) domain.Notification {
	return domain.Notification{ID: fmt.Sprintf("n-%d", i), UserID: user, Hash: fmt.Sprintf("0x%d", i)}
}

func TestRegistry_DeliverWithoutSession(t *testing.T) {
	r := NewRegistry(memory.New(), nil)
	assert.False(t, r.Deliver("u1", note("u1", 1)))
}

func TestRegistry_OfflineThenRegisterDrainsInOrder(t *testing.T) {
	ctx := context.Background()
	pending := memory.New()
	r := NewRegistry(pending, nil)

	for i := 1; i <= 3; i++ {
		live, err := r.DeliverOrElse(ctx, "u1", note("u1", i), pending.Push)
		require.NoError(t, err)
		assert.False(t, live)
	}

	s := newFake("s1", "u1")
	require.NoError(t, r.Register(ctx, s))

	got := s.received()
	require.Len(t, got, 3)
	for i, n := range got {
		assert.Equal(t, fmt.Sprintf("n-%d", i+1), n.ID)
	}

	left, err := pending.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, left, "drained entries are acknowledged")

	// a second session must not see the backlog again
	s2 := newFake("s2", "u1")
	require.NoError(t, r.Register(ctx, s2))
	assert.Empty(t, s2.received())
}

func TestRegistry_InterruptedDrainRejectsSession(t *testing.T) {
	ctx := context.Background()
	pending := memory.New()
	r := NewRegistry(pending, nil)

	for i := 1; i <= 3; i++ {
		require.NoError(t, pending.Push(ctx, note("u1", i)))
	}

	s := newFake("s1", "u1")
	s.failAfter = 1
	assert.ErrorIs(t, r.Register(ctx, s), ErrSendBufferFull)
	assert.Len(t, s.received(), 1)

	left, err := pending.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "n-2", left[0].ID)

	assert.False(t, r.Deliver("u1", note("u1", 4)), "a session with an unfinished backlog never goes live")
	assert.Equal(t, Stats{}, r.Stats())
}

type failingPending struct{ *memory.Memory }

func (failingPending) List(ctx context.Context, userID string) ([]domain.Notification, error) {
	return nil, errors.New("db down")
}

func TestRegistry_DrainErrorRejectsSession(t *testing.T) {
	r := NewRegistry(failingPending{memory.New()}, nil)
	s := newFake("s1", "u1")

	assert.Error(t, r.Register(context.Background(), s))
	assert.False(t, r.Deliver("u1", note("u1", 1)))
	assert.Equal(t, Stats{}, r.Stats())
}

func TestRegistry_FanOutAndUnregister(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(memory.New(), nil)

	a := newFake("a", "u1")
	b := newFake("b", "u1")
	broken := newFake("c", "u1")
	broken.failAfter = 0
	other := newFake("d", "u2")

	for _, s := range []*fakeSession{a, b, broken, other} {
		require.NoError(t, r.Register(ctx, s))
	}
	assert.Equal(t, Stats{Users: 2, Sessions: 4}, r.Stats())

	assert.True(t, r.Deliver("u1", note("u1", 1)))
	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
	assert.Empty(t, other.received())

	r.Unregister(a)
	r.Unregister(b)
	r.Unregister(a)
	assert.False(t, r.Deliver("u1", note("u1", 2)), "a failing session does not count as delivered")

	r.Unregister(broken)
	r.Unregister(other)
	assert.Equal(t, Stats{}, r.Stats())
}

func TestRegistry_RouteRacingRegisterLosesNothing(t *testing.T) {
	ctx := context.Background()
	pending := memory.New()
	r := NewRegistry(pending, nil)
	s := newFake("s1", "u1")

	const total = 200
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.DeliverOrElse(ctx, "u1", note("u1", i), pending.Push)
			assert.NoError(t, err)
		}(i)
		if i == total/2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, r.Register(ctx, s))
			}()
		}
	}
	wg.Wait()

	left, err := pending.List(ctx, "u1")
	require.NoError(t, err)

	seen := make(map[string]struct{})
	for _, n := range append(s.received(), left...) {
		seen[n.ID] = struct{}{}
	}
	assert.Len(t, seen, total)
	assert.Empty(t, left, "once registered every notification is live or drained")
}

package loyalty_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/loyalty"
)

func emit(t *testing.T, e *loyalty.Engine, target loyalty.UserID, broadcast bool) loyalty.Notification {
	t.Helper()
	var n loyalty.Notification
	err := e.Atomically(context.Background(), "test_emit", func(u *loyalty.UnitOfWork) error {
		var err error
		n, err = e.Notifications.Emit(context.Background(), u, target, "Hello", "World", broadcast)
		return err
	})
	require.NoError(t, err)
	return n
}

func TestEmit_EmptyTargetIsBroadcast(t *testing.T) {
	e, _ := newTestEngine(t, loyalty.Options{})

	n := emit(t, e, "", false)
	assert.True(t, n.Broadcast)
	assert.False(t, n.Read)
}

func TestMarkRead_IdempotentForOwner(t *testing.T) {
	e, _ := newTestEngine(t, loyalty.Options{})
	ctx := context.Background()
	n := emit(t, e, "alice", false)
	caller := loyalty.Caller{UserID: "alice"}

	unread, err := e.Notifications.UnreadCount(ctx, loyalty.NotificationFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	for range 2 {
		got, err := e.Notifications.MarkRead(ctx, n.ID, caller)
		require.NoError(t, err)
		assert.True(t, got.Read)
	}

	unread, err = e.Notifications.UnreadCount(ctx, loyalty.NotificationFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Zero(t, unread)

	all, err := e.Notifications.List(ctx, loyalty.NotificationFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Read)
}

func TestMarkRead_Authorization(t *testing.T) {
	e, _ := newTestEngine(t, loyalty.Options{})
	ctx := context.Background()

	personal := emit(t, e, "alice", false)
	broadcast := emit(t, e, "", true)

	cases := []struct {
		name    string
		id      loyalty.NotificationID
		caller  loyalty.Caller
		allowed bool
	}{
		{"owner", personal.ID, loyalty.Caller{UserID: "alice"}, true},
		{"other user", personal.ID, loyalty.Caller{UserID: "bob"}, false},
		{"operator on personal", personal.ID, loyalty.Caller{UserID: "ops", Operator: true}, false},
		{"operator on broadcast", broadcast.ID, loyalty.Caller{UserID: "ops", Operator: true}, true},
		{"user on broadcast", broadcast.ID, loyalty.Caller{UserID: "alice"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Notifications.MarkRead(ctx, tc.id, tc.caller)
			if tc.allowed {
				assert.NoError(t, err)
				return
			}
			var forbidden *loyalty.ForbiddenError
			assert.ErrorAs(t, err, &forbidden)
		})
	}

	_, err := e.Notifications.MarkRead(ctx, "missing", loyalty.Caller{UserID: "alice"})
	assert.ErrorIs(t, err, loyalty.ErrNotFound)
}

func TestList_SeparatesUsersFromBroadcasts(t *testing.T) {
	e, _ := newTestEngine(t, loyalty.Options{})
	ctx := context.Background()

	emit(t, e, "alice", false)
	emit(t, e, "alice", false)
	emit(t, e, "bob", false)
	emit(t, e, "", true)

	alice, err := e.Notifications.List(ctx, loyalty.NotificationFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	ops, err := e.Notifications.List(ctx, loyalty.NotificationFilter{Broadcasts: true})
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	_, err = e.Notifications.List(ctx, loyalty.NotificationFilter{})
	assert.ErrorIs(t, err, loyalty.ErrValidation)
}

type failingPublisher struct{ calls atomic.Int32 }

func (p *failingPublisher) Publish(context.Context, loyalty.Notification) error {
	p.calls.Add(1)
	return errors.New("channel down")
}

func TestPublish_FailureDoesNotUndoCommit(t *testing.T) {
	pub := &failingPublisher{}
	e, _ := newTestEngine(t, loyalty.Options{Publisher: pub})
	ctx := context.Background()
	v := singleVoucher(t, e, 12)

	_, err := e.Vouchers.Redeem(ctx, v.Code, "alice")
	require.NoError(t, err)
	e.Wait()
	assert.Equal(t, int32(2), pub.calls.Load())

	balance, err := e.Wallets.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(12), balance)
}

// blockingPublisher holds every Publish until release is closed.
type blockingPublisher struct {
	release chan struct{}
	done    atomic.Int32
}

func (p *blockingPublisher) Publish(ctx context.Context, _ loyalty.Notification) error {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.done.Add(1)
	return nil
}

func TestPublish_SlowChannelDoesNotBlockCaller(t *testing.T) {
	// GIVEN: A publisher that hangs until released
	// WHEN: A voucher is redeemed
	// THEN: Redeem returns with the credit committed, delivery completes later

	pub := &blockingPublisher{release: make(chan struct{})}
	e, _ := newTestEngine(t, loyalty.Options{Publisher: pub, PublishTimeout: time.Minute})
	ctx := context.Background()
	v := singleVoucher(t, e, 25)

	returned := make(chan error, 1)
	go func() {
		_, err := e.Vouchers.Redeem(ctx, v.Code, "alice")
		returned <- err
	}()

	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		close(pub.release)
		t.Fatal("redeem waited on the publisher")
	}
	assert.Zero(t, pub.done.Load())

	balance, err := e.Wallets.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(25), balance)

	close(pub.release)
	e.Wait()
	assert.Equal(t, int32(2), pub.done.Load())
}

func TestPublish_TimeoutBoundsDelivery(t *testing.T) {
	// GIVEN: A publisher that never returns on its own and a short timeout
	// THEN: Wait still returns once the timeout expires

	pub := &blockingPublisher{release: make(chan struct{})}
	e, _ := newTestEngine(t, loyalty.Options{Publisher: pub, PublishTimeout: 50 * time.Millisecond})
	v := singleVoucher(t, e, 5)

	_, err := e.Vouchers.Redeem(context.Background(), v.Code, "alice")
	require.NoError(t, err)

	e.Wait()
	assert.Zero(t, pub.done.Load())
}

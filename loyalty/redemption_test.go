package loyalty_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/loyalty"
	"github.com/warp/points-engine/store/sqlstore"
)

func TestRequestRedemption_InsufficientBalance(t *testing.T) {
	// GIVEN: Balance 1500 and a reward costing 2000
	// THEN: InsufficientBalanceError, balance unchanged, no request recorded

	e, _ := newTestEngine(t, loyalty.Options{})
	ctx := context.Background()
	fund(t, e, "alice", 1500)
	reward := newReward(t, e, 2000, 5)

	_, err := e.Redemptions.RequestRedemption(ctx, "alice", reward.ID)
	var insufficient *loyalty.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, loyalty.Points(1500), insufficient.Available)
	assert.Equal(t, loyalty.Points(2000), insufficient.Requested)

	balance, err := e.Wallets.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(1500), balance)

	requests, err := e.Redemptions.ListRequests(ctx, loyalty.RequestFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, requests)

	stored, err := e.Redemptions.GetReward(ctx, reward.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Stock)
}

func TestRequestThenReject_RestoresBalanceAndStock(t *testing.T) {
	// GIVEN: Balance 1000 and a 500-point reward with stock 3
	// WHEN: Requesting it
	// THEN: Balance 500, stock 2, request pending
	// WHEN: Rejecting the request
	// THEN: Balance 1000, stock 3, a refund entry was appended

	pub := &recordingPublisher{}
	e, _ := newTestEngine(t, loyalty.Options{Publisher: pub})
	ctx := context.Background()
	fund(t, e, "alice", 1000)
	reward := newReward(t, e, 500, 3)

	req, err := e.Redemptions.RequestRedemption(ctx, "alice", reward.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.RequestPending, req.Status)
	assert.Equal(t, loyalty.Points(500), req.PointsSpent)

	balance, err := e.Wallets.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(500), balance)

	stored, err := e.Redemptions.GetReward(ctx, reward.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Stock)

	rejected, err := e.Redemptions.Reject(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.RequestRejected, rejected.Status)
	require.NotNil(t, rejected.DecidedAt)

	balance, err = e.Wallets.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(1000), balance)

	stored, err = e.Redemptions.GetReward(ctx, reward.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Stock)

	var categories []loyalty.EntryCategory
	for entry, err := range e.Wallets.ListTransactions(ctx, "alice") {
		require.NoError(t, err)
		categories = append(categories, entry.Category)
	}
	assert.Equal(t, []loyalty.EntryCategory{loyalty.CategoryEarn, loyalty.CategorySpend, loyalty.CategoryEarn}, categories)
	assertLedgerConsistent(t, e, "alice")

	e.Wait()
	titles := map[string]bool{}
	for _, n := range pub.published() {
		titles[n.Title] = true
	}
	assert.True(t, titles["New Redemption Request"])
	assert.True(t, titles["Redemption Rejected"])
}

func TestApprove_KeepsBalanceAndStock(t *testing.T) {
	e, _ := newTestEngine(t, loyalty.Options{})
	ctx := context.Background()
	fund(t, e, "alice", 800)
	reward := newReward(t, e, 300, 1)

	req, err := e.Redemptions.RequestRedemption(ctx, "alice", reward.ID)
	require.NoError(t, err)

	approved, err := e.Redemptions.Approve(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.RequestApproved, approved.Status)

	balance, err := e.Wallets.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(500), balance)

	stored, err := e.Redemptions.GetReward(ctx, reward.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.Stock)

	notes, err := e.Notifications.List(ctx, loyalty.NotificationFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Redemption Approved", notes[0].Title)
}

func TestDecide_TerminalStatesConflict(t *testing.T) {
	e, _ := newTestEngine(t, loyalty.Options{})
	ctx := context.Background()
	fund(t, e, "alice", 1000)
	reward := newReward(t, e, 100, 5)

	approvedReq, err := e.Redemptions.RequestRedemption(ctx, "alice", reward.ID)
	require.NoError(t, err)
	_, err = e.Redemptions.Approve(ctx, approvedReq.ID)
	require.NoError(t, err)

	rejectedReq, err := e.Redemptions.RequestRedemption(ctx, "alice", reward.ID)
	require.NoError(t, err)
	_, err = e.Redemptions.Reject(ctx, rejectedReq.ID)
	require.NoError(t, err)

	balanceBefore, err := e.Wallets.GetBalance(ctx, "alice")
	require.NoError(t, err)

	for _, id := range []loyalty.RequestID{approvedReq.ID, rejectedReq.ID} {
		for _, decide := range []func(context.Context, loyalty.RequestID) (loyalty.RedemptionRequest, error){
			e.Redemptions.Approve, e.Redemptions.Reject,
		} {
			_, err := decide(ctx, id)
			var conflict *loyalty.ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, id, conflict.RequestID)
		}
	}

	balanceAfter, err := e.Wallets.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, balanceBefore, balanceAfter, "a second reject must not refund twice")

	_, err = e.Redemptions.Approve(ctx, "missing")
	assert.ErrorIs(t, err, loyalty.ErrNotFound)
}

func TestRequestRedemption_PreconditionOrder(t *testing.T) {
	e, _ := newTestEngine(t, loyalty.Options{})
	ctx := context.Background()

	t.Run("missing reward", func(t *testing.T) {
		_, err := e.Redemptions.RequestRedemption(ctx, "alice", "missing")
		assert.ErrorIs(t, err, loyalty.ErrNotFound)
	})

	t.Run("inactive reward beats insufficient balance", func(t *testing.T) {
		rw, err := e.Redemptions.CreateReward(ctx, loyalty.RewardInput{Name: "Hidden", Cost: 10, Stock: 1, Active: false})
		require.NoError(t, err)
		_, err = e.Redemptions.RequestRedemption(ctx, "broke", rw.ID)
		assert.ErrorIs(t, err, loyalty.ErrNotFound)
	})

	t.Run("insufficient balance beats out of stock", func(t *testing.T) {
		rw := newReward(t, e, 10, 0)
		_, err := e.Redemptions.RequestRedemption(ctx, "broke", rw.ID)
		assert.ErrorIs(t, err, loyalty.ErrInsufficientBalance)
	})

	t.Run("out of stock", func(t *testing.T) {
		fund(t, e, "rich", 100)
		rw := newReward(t, e, 10, 0)
		_, err := e.Redemptions.RequestRedemption(ctx, "rich", rw.ID)
		var oos *loyalty.OutOfStockError
		require.ErrorAs(t, err, &oos)
		assert.Equal(t, rw.ID, oos.RewardID)

		balance, err := e.Wallets.GetBalance(ctx, "rich")
		require.NoError(t, err)
		assert.Equal(t, loyalty.Points(100), balance)
	})
}

func TestRequestRedemption_LastUnitRace(t *testing.T) {
	// GIVEN: Stock 1 and six funded users requesting at once
	// THEN: One request succeeds, the rest are refused, stock ends at 0

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			e, _ := b.open(t, loyalty.Options{})
			ctx := context.Background()
			reward := newReward(t, e, 100, 1)
			users := []loyalty.UserID{"alice", "bob", "carol", "dave", "erin", "frank"}
			for _, u := range users {
				fund(t, e, u, 100)
			}

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				errs []error
			)
			for _, u := range users {
				wg.Add(1)
				go func(u loyalty.UserID) {
					defer wg.Done()
					_, err := e.Redemptions.RequestRedemption(ctx, u, reward.ID)
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}(u)
			}
			wg.Wait()

			successes, refused := 0, 0
			for _, err := range errs {
				switch {
				case err == nil:
					successes++
				case errors.Is(err, loyalty.ErrOutOfStock), loyalty.IsRetryable(err):
					refused++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
			assert.Equal(t, 1, successes)
			assert.Equal(t, len(users)-1, refused)

			stored, err := e.Redemptions.GetReward(ctx, reward.ID)
			require.NoError(t, err)
			assert.Zero(t, stored.Stock)

			var total loyalty.Points
			for _, u := range users {
				bal, err := e.Wallets.GetBalance(ctx, u)
				require.NoError(t, err)
				total += bal
			}
			assert.Equal(t, loyalty.Points(100*len(users)-100), total, "only the winner paid")
			assertLedgerConsistent(t, e, users...)
		})
	}
}
func TestRewardCatalog_CreateUpdateList(t *testing.T) {
	e, _ := newTestEngine(t, loyalty.Options{})
	ctx := context.Background()

	_, err := e.Redemptions.CreateReward(ctx, loyalty.RewardInput{Name: "Bad", Cost: 0, Stock: 1})
	assert.ErrorIs(t, err, loyalty.ErrValidation)
	_, err = e.Redemptions.CreateReward(ctx, loyalty.RewardInput{Name: "Bad", Cost: 5, Stock: -1})
	assert.ErrorIs(t, err, loyalty.ErrValidation)

	mug := newReward(t, e, 200, 4)
	updated, err := e.Redemptions.UpdateReward(ctx, mug.ID, loyalty.RewardInput{
		Name: "Travel Mug", Description: "insulated", Cost: 250, Stock: 6, Active: false,
	})
	require.NoError(t, err)
	assert.Equal(t, "Travel Mug", updated.Name)
	assert.Equal(t, loyalty.Points(250), updated.Cost)

	active, err := e.Redemptions.ListRewards(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := e.Redemptions.ListRewards(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 6, all[0].Stock)
	assert.False(t, all[0].Active)

	_, err = e.Redemptions.UpdateReward(ctx, "missing", loyalty.RewardInput{Name: "x", Cost: 1})
	assert.ErrorIs(t, err, loyalty.ErrNotFound)
}

func TestListRequests_Filters(t *testing.T) {
	e, _ := newTestEngine(t, loyalty.Options{})
	ctx := context.Background()
	fund(t, e, "alice", 500)
	fund(t, e, "bob", 500)
	reward := newReward(t, e, 100, 10)

	a1, err := e.Redemptions.RequestRedemption(ctx, "alice", reward.ID)
	require.NoError(t, err)
	_, err = e.Redemptions.RequestRedemption(ctx, "alice", reward.ID)
	require.NoError(t, err)
	_, err = e.Redemptions.RequestRedemption(ctx, "bob", reward.ID)
	require.NoError(t, err)
	_, err = e.Redemptions.Approve(ctx, a1.ID)
	require.NoError(t, err)

	aliceReqs, err := e.Redemptions.ListRequests(ctx, loyalty.RequestFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, aliceReqs, 2)

	pending, err := e.Redemptions.ListRequests(ctx, loyalty.RequestFilter{Status: loyalty.RequestPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = e.Redemptions.ListRequests(ctx, loyalty.RequestFilter{Status: "archived"})
	assert.ErrorIs(t, err, loyalty.ErrValidation)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.PendingRequests)
	assert.Equal(t, loyalty.Points(300), stats.PointsRedeemed)
	assert.Equal(t, loyalty.Points(700), stats.Liability)
}

// =============================================================================
// LOCKING
// =============================================================================

// lockTrace records the row locks each unit of work takes. With
// refuseRestock set, positive stock adjustments match no row.
type lockTrace struct {
	loyalty.Store
	refuseRestock bool

	mu    sync.Mutex
	locks []string
}

func (s *lockTrace) WithTx(ctx context.Context, fn func(loyalty.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx loyalty.Tx) error {
		return fn(&tracedTx{Tx: tx, trace: s})
	})
}

func (s *lockTrace) record(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks = append(s.locks, kind)
}

func (s *lockTrace) take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	locks := s.locks
	s.locks = nil
	return locks
}

type tracedTx struct {
	loyalty.Tx
	trace *lockTrace
}

func (tx *tracedTx) LockReward(ctx context.Context, id loyalty.RewardID) (loyalty.Reward, error) {
	tx.trace.record("reward")
	return tx.Tx.LockReward(ctx, id)
}

func (tx *tracedTx) LockWallet(ctx context.Context, userID loyalty.UserID) (loyalty.Wallet, error) {
	tx.trace.record("wallet")
	return tx.Tx.LockWallet(ctx, userID)
}

func (tx *tracedTx) LockRequest(ctx context.Context, id loyalty.RequestID) (loyalty.RedemptionRequest, error) {
	tx.trace.record("request")
	return tx.Tx.LockRequest(ctx, id)
}

func (tx *tracedTx) AdjustStock(ctx context.Context, id loyalty.RewardID, delta int) (bool, error) {
	if delta > 0 && tx.trace.refuseRestock {
		return false, nil
	}
	return tx.Tx.AdjustStock(ctx, id, delta)
}

func newTracedEngine(t *testing.T, refuseRestock bool) (*loyalty.Engine, *lockTrace) {
	t.Helper()
	inner, err := sqlstore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { inner.Close() })

	trace := &lockTrace{Store: inner, refuseRestock: refuseRestock}
	e := loyalty.NewEngine(trace, loyalty.Options{})
	t.Cleanup(e.Wait)
	return e, trace
}

func TestRedemption_LocksRewardBeforeWallet(t *testing.T) {
	// GIVEN: A funded user and a stocked reward
	// WHEN: Requesting the reward, then rejecting the request
	// THEN: Both paths lock the reward row before the wallet row

	e, trace := newTracedEngine(t, false)
	ctx := context.Background()
	fund(t, e, "alice", 300)
	reward := newReward(t, e, 100, 2)
	trace.take()

	req, err := e.Redemptions.RequestRedemption(ctx, "alice", reward.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"reward", "wallet", "wallet"}, trace.take())

	_, err = e.Redemptions.Reject(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"request", "reward", "wallet"}, trace.take())
}

func TestReject_FailsWhenStockIsNotRestored(t *testing.T) {
	// GIVEN: A pending request whose restock update matches no row
	// WHEN: Rejecting it
	// THEN: The reject fails and nothing it did is kept

	e, _ := newTracedEngine(t, true)
	ctx := context.Background()
	fund(t, e, "alice", 300)
	reward := newReward(t, e, 100, 2)

	req, err := e.Redemptions.RequestRedemption(ctx, "alice", reward.ID)
	require.NoError(t, err)

	_, err = e.Redemptions.Reject(ctx, req.ID)
	var nf *loyalty.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "reward", nf.Kind)

	stored, err := e.Redemptions.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.RequestPending, stored.Status)

	balance, err := e.Wallets.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(200), balance, "refund rolled back")

	rw, err := e.Redemptions.GetReward(ctx, reward.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rw.Stock)

	notes, err := e.Notifications.List(ctx, loyalty.NotificationFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, notes)
}

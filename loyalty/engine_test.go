package loyalty_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/loyalty"
	"github.com/warp/points-engine/store/sqlstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T, opts loyalty.Options) (*loyalty.Engine, *sqlstore.Store) {
	t.Helper()
	return newEngineAt(t, ":memory:", opts)
}

// newFileEngine opens a SQLite file with a real connection pool, so
// concurrent units of work contend on database locks instead of queueing
// for the single in-memory connection.
func newFileEngine(t *testing.T, opts loyalty.Options) (*loyalty.Engine, *sqlstore.Store) {
	t.Helper()
	return newEngineAt(t, filepath.Join(t.TempDir(), "points.db"), opts)
}

// backends covers both the single-connection in-memory store and a pooled
// file store where writers really contend.
var backends = []struct {
	name string
	open func(*testing.T, loyalty.Options) (*loyalty.Engine, *sqlstore.Store)
}{
	{"memory", newTestEngine},
	{"file", newFileEngine},
}

func newEngineAt(t *testing.T, dsn string, opts loyalty.Options) (*loyalty.Engine, *sqlstore.Store) {
	t.Helper()
	store, err := sqlstore.New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e := loyalty.NewEngine(store, opts)
	t.Cleanup(e.Wait)
	return e, store
}

// fund credits points to a user the way any earn path would.
func fund(t *testing.T, e *loyalty.Engine, user loyalty.UserID, amount loyalty.Points) {
	t.Helper()
	err := e.Atomically(context.Background(), "test_fund", func(u *loyalty.UnitOfWork) error {
		_, err := e.Wallets.Credit(context.Background(), u, user, amount, "test funding")
		return err
	})
	require.NoError(t, err)
}

// singleVoucher issues one voucher worth exactly points.
func singleVoucher(t *testing.T, e *loyalty.Engine, points loyalty.Points) loyalty.Voucher {
	t.Helper()
	_, vouchers, err := e.Vouchers.GenerateBatch(context.Background(), loyalty.BatchSpec{
		Name:  "single",
		Count: 1,
		Tiers: []loyalty.Tier{loyalty.NewTier(1, points, points)},
	})
	require.NoError(t, err)
	require.Len(t, vouchers, 1)
	return vouchers[0]
}

func newReward(t *testing.T, e *loyalty.Engine, cost loyalty.Points, stock int) loyalty.Reward {
	t.Helper()
	rw, err := e.Redemptions.CreateReward(context.Background(), loyalty.RewardInput{
		Name:   "Coffee Mug",
		Cost:   cost,
		Stock:  stock,
		Active: true,
	})
	require.NoError(t, err)
	return rw
}

// assertLedgerConsistent checks balance == sum(entries) for each user.
func assertLedgerConsistent(t *testing.T, e *loyalty.Engine, users ...loyalty.UserID) {
	t.Helper()
	for _, u := range users {
		rec, err := e.Wallets.Verify(context.Background(), u)
		require.NoError(t, err)
		require.True(t, rec.Consistent(), "user %s: balance %d, entries sum %d", u, rec.Balance, rec.EntrySum)
	}
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []loyalty.Notification
}

func (p *recordingPublisher) Publish(_ context.Context, n loyalty.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, n)
	return nil
}

func (p *recordingPublisher) published() []loyalty.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]loyalty.Notification(nil), p.got...)
}

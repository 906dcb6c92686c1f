/*
engine.go - Wiring of the loyalty components

PURPOSE:
  Engine groups the four components that share one Store:

    Vouchers       VoucherStore        batches, codes, scanning
    Wallets        WalletLedger        balances and history
    Redemptions    RedemptionWorkflow  catalog stock and approval
    Notifications  NotificationFanout  user and operator alerts

  Components call each other only inside a UnitOfWork, so a voucher scan
  or a reward claim touches every table it needs in one transaction.

EXAMPLE:
  engine := loyalty.NewEngine(store, loyalty.Options{Logger: log})
  res, err := engine.Vouchers.Redeem(ctx, "3f0c...", "user-1")
*/
package loyalty

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxBatchSize   = 100000
	DefaultPageSize       = 50
	DefaultPublishTimeout = 5 * time.Second
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Logger *zap.Logger

	// Publisher receives every notification after its unit of work commits,
	// off the caller's goroutine.
	Publisher Publisher

	MaxBatchSize   int
	PageSize       int
	PublishTimeout time.Duration

	// Clock overrides time.Now, mostly for tests.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = DefaultMaxBatchSize
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// core is the state shared by all components.
type core struct {
	store Store
	opts  Options
	log   *zap.Logger

	// inflight counts publish goroutines that have not returned yet.
	inflight sync.WaitGroup
}

func (c *core) now() time.Time {
	return c.opts.Clock().UTC()
}

type Engine struct {
	Vouchers      *VoucherStore
	Wallets       *WalletLedger
	Redemptions   *RedemptionWorkflow
	Notifications *NotificationFanout

	core *core
}

func NewEngine(store Store, opts Options) *Engine {
	opts = opts.withDefaults()
	c := &core{store: store, opts: opts, log: opts.Logger}

	notes := &NotificationFanout{core: c}
	ledger := &WalletLedger{core: c}

	return &Engine{
		Vouchers:      &VoucherStore{core: c, ledger: ledger, notes: notes},
		Wallets:       ledger,
		Redemptions:   &RedemptionWorkflow{core: c, ledger: ledger, notes: notes},
		Notifications: notes,
		core:          c,
	}
}

// Atomically runs fn as one unit of work. See uow.go.
func (e *Engine) Atomically(ctx context.Context, op string, fn func(*UnitOfWork) error) error {
	return e.core.atomically(ctx, op, fn)
}

// Wait blocks until every notification dispatched so far has been handed
// to the Publisher. Call it on shutdown before closing publishers.
func (e *Engine) Wait() {
	e.core.inflight.Wait()
}

// Stats returns the operator dashboard totals.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return e.core.store.Stats(ctx)
}

func zapUser(id UserID) zap.Field {
	return zap.String("user_id", string(id))
}

func zapPoints(key string, p Points) zap.Field {
	return zap.Int64(key, int64(p))
}

package loyalty

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// maxAttempts bounds how often a unit of work runs when storage reports
// contention. Business errors are returned on the first attempt.
const maxAttempts = 2

// UnitOfWork is a single atomic step. Reads and writes go through the
// embedded Tx; notifications emitted through it are published only after
// the transaction commits and are dropped if it aborts.
type UnitOfWork struct {
	Tx

	// Now is fixed for the whole unit so every row it writes agrees.
	Now time.Time

	outbox []Notification
}

func (c *core) atomically(ctx context.Context, op string, fn func(*UnitOfWork) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var uow *UnitOfWork
		err = c.store.WithTx(ctx, func(tx Tx) error {
			uow = &UnitOfWork{Tx: tx, Now: c.now()}
			return fn(uow)
		})
		if err == nil {
			c.publish(ctx, uow.outbox)
			return nil
		}
		if !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		c.log.Warn("storage conflict",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return err
}

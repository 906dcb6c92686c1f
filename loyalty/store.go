/*
store.go - Persistence interface for the loyalty engine

PURPOSE:
  Defines the interface between the domain logic and the database.
  Reads are available anywhere; every write goes through a Tx obtained from
  Store.WithTx so that multi-row changes commit or abort together.

KEY INTERFACES:
  Reader: Point reads and list queries
  Tx:     Reader plus locking reads and conditional writes, valid only
          inside WithTx
  Store:  Reader plus WithTx

LOCKING CONTRACT:
  Lock* methods take a row lock held until the unit of work ends, so a
  check performed on the returned row cannot be invalidated by another
  unit of work before commit. Conditional writers (MarkVoucherRedeemed,
  AdjustStock, DecideRequest) report false instead of writing when their
  precondition no longer holds. SaveWallet enforces the wallet version and
  returns ErrStorageConflict on mismatch.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite (default) and PostgreSQL

SEE ALSO:
  - uow.go: Runs a function inside WithTx with one retry
*/
package loyalty

import (
	"context"
	"time"
)

// =============================================================================
// READER
// =============================================================================

type Reader interface {
	GetVoucher(ctx context.Context, code VoucherCode) (Voucher, error)
	GetBatch(ctx context.Context, id BatchID) (BatchSummary, error)
	ListBatches(ctx context.Context) ([]BatchSummary, error)
	ListVouchers(ctx context.Context, batchID BatchID) ([]Voucher, error)

	// GetWallet returns a zero wallet (Seq 0) for a user with no entries.
	GetWallet(ctx context.Context, userID UserID) (Wallet, error)
	// ListEntries returns up to limit entries with Seq < beforeSeq, newest
	// first. beforeSeq <= 0 starts from the newest entry.
	ListEntries(ctx context.Context, userID UserID, beforeSeq int64, limit int) ([]Entry, error)
	SumEntries(ctx context.Context, userID UserID) (Points, error)
	// ListWalletUsers returns up to limit wallet owners ordered by id,
	// starting after afterUser.
	ListWalletUsers(ctx context.Context, afterUser UserID, limit int) ([]UserID, error)

	GetReward(ctx context.Context, id RewardID) (Reward, error)
	ListRewards(ctx context.Context, activeOnly bool) ([]Reward, error)

	GetRequest(ctx context.Context, id RequestID) (RedemptionRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]RedemptionRequest, error)

	GetNotification(ctx context.Context, id NotificationID) (Notification, error)
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error)
	CountNotifications(ctx context.Context, filter NotificationFilter) (int, error)

	Stats(ctx context.Context) (Stats, error)
}

// =============================================================================
// TX - Writes, valid only inside Store.WithTx
// =============================================================================

type Tx interface {
	Reader

	InsertBatch(ctx context.Context, batch Batch, vouchers []Voucher) error
	DeleteBatch(ctx context.Context, id BatchID) error
	LockVoucher(ctx context.Context, code VoucherCode) (Voucher, error)
	// MarkVoucherRedeemed flips an unredeemed voucher; false if it was not.
	MarkVoucherRedeemed(ctx context.Context, code VoucherCode, userID UserID, at time.Time) (bool, error)

	// LockWallet returns a zero wallet (Seq 0) when none exists yet.
	LockWallet(ctx context.Context, userID UserID) (Wallet, error)
	// SaveWallet writes w only if the stored version still equals prevSeq.
	SaveWallet(ctx context.Context, w Wallet, prevSeq int64) error
	AppendEntry(ctx context.Context, e Entry) error

	InsertReward(ctx context.Context, r Reward) error
	UpdateReward(ctx context.Context, r Reward) error
	LockReward(ctx context.Context, id RewardID) (Reward, error)
	// AdjustStock adds delta unless the result would be negative.
	AdjustStock(ctx context.Context, id RewardID, delta int) (bool, error)

	InsertRequest(ctx context.Context, r RedemptionRequest) error
	LockRequest(ctx context.Context, id RequestID) (RedemptionRequest, error)
	// DecideRequest moves a pending request to status; false if not pending.
	DecideRequest(ctx context.Context, id RequestID, status RequestStatus, at time.Time) (bool, error)

	InsertNotification(ctx context.Context, n Notification) error
	MarkNotificationRead(ctx context.Context, id NotificationID) error
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Reader

	// WithTx executes fn within a database transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error

	Close() error
}

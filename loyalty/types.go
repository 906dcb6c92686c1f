/*
Package loyalty provides the points ledger and voucher/redemption engine.

PURPOSE:
  Customers earn points by redeeming single-use vouchers and spend them
  against a catalog of rewards. This package owns the state machine that
  keeps vouchers, wallets, reward stock and redemption requests consistent
  under concurrent access.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: integral point quantity (never fractional)
  - Voucher / Batch: single-use codes issued in bulk
  - Wallet / Entry: materialized balance plus its append-only history
  - Reward / RedemptionRequest: catalog stock and the approval workflow
  - Notification: user and operator alerts

BALANCE INVARIANT:
  For every wallet, Balance == sum(entry.Amount). The balance is a
  projection that only ever changes together with an entry append.

SEE ALSO:
  - store.go: Persistence contract
  - ledger.go: The only balance mutator
  - voucher.go, redemption.go, notification.go: Components
*/
package loyalty

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	UserID         string
	BatchID        string
	VoucherCode    string
	RewardID       string
	RequestID      string
	NotificationID string
)

// Points is a whole number of loyalty points. Ledger amounts are signed.
type Points int64

// =============================================================================
// VOUCHERS
// =============================================================================

type VoucherState string

const (
	VoucherUnredeemed VoucherState = "unredeemed"
	VoucherRedeemed   VoucherState = "redeemed"
)

// Voucher is a single-use code worth a fixed number of points.
// Once redeemed, Points, RedeemedBy and RedeemedAt never change.
type Voucher struct {
	Code       VoucherCode
	BatchID    BatchID
	BatchName  string
	Points     Points
	State      VoucherState
	RedeemedBy UserID // empty until redeemed
	RedeemedAt *time.Time
}

func (v Voucher) IsRedeemed() bool {
	return v.State == VoucherRedeemed
}

// Batch groups vouchers generated together.
type Batch struct {
	ID          BatchID
	Name        string
	TotalCount  int
	TotalPoints Points
	CreatedAt   time.Time
}

// BatchSummary is a batch with its redemption progress.
type BatchSummary struct {
	Batch
	Redeemed  int
	Available int
}

// =============================================================================
// WALLET LEDGER
// =============================================================================

type EntryCategory string

const (
	CategoryEarn  EntryCategory = "earn"
	CategorySpend EntryCategory = "spend"
)

// Wallet is the materialized balance of one user.
// Seq is the sequence number of the last appended entry and doubles as the
// optimistic version of the row.
type Wallet struct {
	UserID    UserID
	Balance   Points
	Seq       int64
	UpdatedAt time.Time
}

// Entry is an immutable ledger record. Seq increases by one per wallet.
type Entry struct {
	UserID      UserID
	Seq         int64
	Amount      Points // positive for earn, negative for spend
	Category    EntryCategory
	Description string
	CreatedAt   time.Time
}

// =============================================================================
// REWARDS AND REDEMPTIONS
// =============================================================================

type Reward struct {
	ID          RewardID
	Name        string
	Description string
	Cost        Points
	Stock       int
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected
}

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestRejected:
		return true
	}
	return false
}

// RedemptionRequest records a reward claim. PointsSpent is the reward cost
// at request time; later catalog edits do not change it.
type RedemptionRequest struct {
	ID          RequestID
	UserID      UserID
	RewardID    RewardID
	RewardName  string
	PointsSpent Points
	Status      RequestStatus
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

// RequestFilter narrows ListRequests. Zero values match everything.
type RequestFilter struct {
	UserID UserID
	Status RequestStatus
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// Notification is an alert for one user, or an operator broadcast when
// UserID is empty. Only Read ever changes after creation.
type Notification struct {
	ID        NotificationID
	UserID    UserID
	Title     string
	Message   string
	Broadcast bool
	Read      bool
	CreatedAt time.Time
}

// NotificationFilter selects either one user's notifications or the
// operator broadcasts.
type NotificationFilter struct {
	UserID     UserID
	Broadcasts bool
	UnreadOnly bool
}

// Caller is the already authenticated identity invoking an operation.
type Caller struct {
	UserID   UserID
	Operator bool
}

// =============================================================================
// REPORTING
// =============================================================================

// Stats is the operator dashboard summary.
type Stats struct {
	Wallets           int64
	VouchersIssued    int64
	VouchersRedeemed  int64
	PointsDistributed Points // value of redeemed vouchers
	PointsRedeemed    Points // points held by non-rejected requests
	Liability         Points // sum of wallet balances
	PendingRequests   int64
}

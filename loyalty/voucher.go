/*
voucher.go - Voucher batches and single-use redemption

PURPOSE:
  Issues vouchers in bulk and answers "is this code live, and for how many
  points". Redeem is the earn path of the whole system: it flips the
  voucher, credits the wallet and records both notifications in a single
  unit of work.

REDEEM FLOW:
  1. Lock the voucher row             (unknown code   -> NotFoundError)
  2. Check state                       (redeemed      -> AlreadyRedeemedError)
  3. Conditional update to redeemed    (lost the race -> AlreadyRedeemedError)
  4. Credit the wallet
  5. Emit user + operator notifications

  Two concurrent scans of one code serialize on step 1; the loser sees the
  redeemed state and fails without touching the ledger.

CODES:
  Random 128-bit UUIDv4 strings. Codes are never derived from batch data.
*/
package loyalty

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type VoucherStore struct {
	*core
	ledger *WalletLedger
	notes  *NotificationFanout
}

// BatchSpec describes a batch to generate.
type BatchSpec struct {
	Name  string
	Count int
	Tiers []Tier
}

// Redemption is the outcome of a successful voucher scan.
type Redemption struct {
	Voucher Voucher
	Earned  Points
	Balance Points
}

// =============================================================================
// ISSUANCE
// =============================================================================

// GenerateBatch creates exactly spec.Count vouchers distributed over
// spec.Tiers and persists them together with the batch.
func (s *VoucherStore) GenerateBatch(ctx context.Context, spec BatchSpec) (Batch, []Voucher, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Batch{}, nil, invalid("name", "required")
	}
	if spec.Count <= 0 {
		return Batch{}, nil, invalid("count", "must be positive, got %d", spec.Count)
	}
	if spec.Count > s.opts.MaxBatchSize {
		return Batch{}, nil, invalid("count", "%d exceeds the maximum batch size %d", spec.Count, s.opts.MaxBatchSize)
	}
	if err := validateTiers(spec.Tiers); err != nil {
		return Batch{}, nil, err
	}

	counts := tierCounts(spec.Count, spec.Tiers)

	var (
		batch    Batch
		vouchers []Voucher
	)
	err := s.atomically(ctx, "generate_batch", func(u *UnitOfWork) error {
		batch = Batch{
			ID:         BatchID(uuid.NewString()),
			Name:       name,
			TotalCount: spec.Count,
			CreatedAt:  u.Now,
		}
		vouchers = make([]Voucher, 0, spec.Count)

		for i, tier := range spec.Tiers {
			for range counts[i] {
				code, err := newVoucherCode()
				if err != nil {
					return err
				}
				v := Voucher{
					Code:      code,
					BatchID:   batch.ID,
					BatchName: name,
					Points:    tier.draw(),
					State:     VoucherUnredeemed,
				}
				batch.TotalPoints += v.Points
				vouchers = append(vouchers, v)
			}
		}
		return u.InsertBatch(ctx, batch, vouchers)
	})
	if err != nil {
		return Batch{}, nil, err
	}

	s.log.Info("voucher batch generated",
		zap.String("batch_id", string(batch.ID)),
		zap.String("name", name),
		zap.Int("count", batch.TotalCount),
		zapPoints("total_points", batch.TotalPoints))
	return batch, vouchers, nil
}

func newVoucherCode() (VoucherCode, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate voucher code: %w", err)
	}
	return VoucherCode(id.String()), nil
}

// =============================================================================
// REDEMPTION
// =============================================================================

// Redeem credits the voucher's points to userID exactly once.
func (s *VoucherStore) Redeem(ctx context.Context, code VoucherCode, userID UserID) (Redemption, error) {
	code = VoucherCode(strings.TrimSpace(string(code)))
	if code == "" {
		return Redemption{}, invalid("code", "required")
	}
	if userID == "" {
		return Redemption{}, invalid("user_id", "required")
	}

	var res Redemption
	err := s.atomically(ctx, "redeem_voucher", func(u *UnitOfWork) error {
		v, err := u.LockVoucher(ctx, code)
		if err != nil {
			return err
		}
		if v.IsRedeemed() {
			return &AlreadyRedeemedError{Code: code}
		}

		ok, err := u.MarkVoucherRedeemed(ctx, code, userID, u.Now)
		if err != nil {
			return err
		}
		if !ok {
			return &AlreadyRedeemedError{Code: code}
		}

		w, err := s.ledger.Credit(ctx, u, userID, v.Points,
			fmt.Sprintf("Points earned from voucher (batch: %s)", v.BatchName))
		if err != nil {
			return err
		}

		if _, err := s.notes.Emit(ctx, u, userID, "Points Added!",
			fmt.Sprintf("You earned %d points. Your balance is now %d points.", v.Points, w.Balance), false); err != nil {
			return err
		}
		if _, err := s.notes.Emit(ctx, u, "", "Voucher Redeemed",
			fmt.Sprintf("User %s redeemed a %d point voucher from batch %s.", userID, v.Points, v.BatchName), true); err != nil {
			return err
		}

		at := u.Now
		v.State = VoucherRedeemed
		v.RedeemedBy = userID
		v.RedeemedAt = &at
		res = Redemption{Voucher: v, Earned: v.Points, Balance: w.Balance}
		return nil
	})
	if err != nil {
		return Redemption{}, err
	}

	s.log.Info("voucher redeemed",
		zap.String("code", string(code)),
		zapUser(userID),
		zapPoints("earned", res.Earned),
		zapPoints("balance", res.Balance))
	return res, nil
}

// =============================================================================
// QUERIES AND ADMINISTRATION
// =============================================================================

// Lookup returns the voucher without changing it.
func (s *VoucherStore) Lookup(ctx context.Context, code VoucherCode) (Voucher, error) {
	code = VoucherCode(strings.TrimSpace(string(code)))
	if code == "" {
		return Voucher{}, invalid("code", "required")
	}
	return s.store.GetVoucher(ctx, code)
}

func (s *VoucherStore) ListBatches(ctx context.Context) ([]BatchSummary, error) {
	return s.store.ListBatches(ctx)
}

func (s *VoucherStore) GetBatch(ctx context.Context, id BatchID) (BatchSummary, error) {
	return s.store.GetBatch(ctx, id)
}

func (s *VoucherStore) BatchVouchers(ctx context.Context, id BatchID) ([]Voucher, error) {
	if _, err := s.store.GetBatch(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListVouchers(ctx, id)
}

// DeleteBatch removes a batch and its vouchers. Points already credited
// from the batch stay in the ledger.
func (s *VoucherStore) DeleteBatch(ctx context.Context, id BatchID) error {
	err := s.atomically(ctx, "delete_batch", func(u *UnitOfWork) error {
		return u.DeleteBatch(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.Info("voucher batch deleted", zap.String("batch_id", string(id)))
	return nil
}

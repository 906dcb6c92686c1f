/*
redemption.go - Reward claims and their approval lifecycle

PURPOSE:
  Spends points against catalog rewards. A claim immediately debits the
  wallet and takes one unit of stock, then waits for an operator.

REQUEST FLOW:

     RequestRedemption                 Approve
    ───────────────────▶  pending  ───────────────▶  approved   (no effect)
     stock - 1                │
     debit cost               │  Reject
                              └───────────────▶  rejected   (refund, stock + 1)

  approved and rejected are terminal. Any further transition fails with
  ConflictError and changes nothing.

PRECONDITION ORDER:
  reward missing or inactive -> NotFoundError
  balance below cost         -> InsufficientBalanceError
  stock exhausted            -> OutOfStockError

SEE ALSO:
  - catalog.go: Reward catalog maintenance
  - ledger.go: Debit and refund entries
*/
package loyalty

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RedemptionWorkflow struct {
	*core
	ledger *WalletLedger
	notes  *NotificationFanout
}

// RequestRedemption claims one unit of rewardID for userID.
func (r *RedemptionWorkflow) RequestRedemption(ctx context.Context, userID UserID, rewardID RewardID) (RedemptionRequest, error) {
	if userID == "" {
		return RedemptionRequest{}, invalid("user_id", "required")
	}
	if rewardID == "" {
		return RedemptionRequest{}, invalid("reward_id", "required")
	}

	var req RedemptionRequest
	err := r.atomically(ctx, "request_redemption", func(u *UnitOfWork) error {
		reward, err := u.LockReward(ctx, rewardID)
		if err != nil {
			return err
		}
		if !reward.Active {
			return &NotFoundError{Kind: "reward", ID: string(rewardID)}
		}

		w, err := u.LockWallet(ctx, userID)
		if err != nil {
			return err
		}
		if w.Balance < reward.Cost {
			return &InsufficientBalanceError{UserID: userID, Available: w.Balance, Requested: reward.Cost}
		}
		if reward.Stock <= 0 {
			return &OutOfStockError{RewardID: rewardID}
		}

		ok, err := u.AdjustStock(ctx, rewardID, -1)
		if err != nil {
			return err
		}
		if !ok {
			return &OutOfStockError{RewardID: rewardID}
		}

		if _, err := r.ledger.Debit(ctx, u, userID, reward.Cost, "Redeemed reward: "+reward.Name); err != nil {
			return err
		}

		req = RedemptionRequest{
			ID:          RequestID(uuid.NewString()),
			UserID:      userID,
			RewardID:    rewardID,
			RewardName:  reward.Name,
			PointsSpent: reward.Cost,
			Status:      RequestPending,
			CreatedAt:   u.Now,
		}
		if err := u.InsertRequest(ctx, req); err != nil {
			return err
		}

		_, err = r.notes.Emit(ctx, u, "", "New Redemption Request",
			fmt.Sprintf("User %s requested %s for %d points.", userID, reward.Name, reward.Cost), true)
		return err
	})
	if err != nil {
		return RedemptionRequest{}, err
	}

	r.log.Info("redemption requested",
		zap.String("request_id", string(req.ID)),
		zapUser(userID),
		zap.String("reward_id", string(rewardID)),
		zapPoints("points", req.PointsSpent))
	return req, nil
}

// Approve finalizes a pending request. Balance and stock stay as they are.
func (r *RedemptionWorkflow) Approve(ctx context.Context, id RequestID) (RedemptionRequest, error) {
	return r.decide(ctx, id, RequestApproved)
}

// Reject finalizes a pending request and returns the points and the unit
// of stock it held.
func (r *RedemptionWorkflow) Reject(ctx context.Context, id RequestID) (RedemptionRequest, error) {
	return r.decide(ctx, id, RequestRejected)
}

func (r *RedemptionWorkflow) decide(ctx context.Context, id RequestID, to RequestStatus) (RedemptionRequest, error) {
	if id == "" {
		return RedemptionRequest{}, invalid("request_id", "required")
	}

	var req RedemptionRequest
	err := r.atomically(ctx, "decide_redemption", func(u *UnitOfWork) error {
		var err error
		req, err = u.LockRequest(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return &ConflictError{RequestID: id, Status: req.Status}
		}

		ok, err := u.DecideRequest(ctx, id, to, u.Now)
		if err != nil {
			return err
		}
		if !ok {
			current, err := u.GetRequest(ctx, id)
			if err != nil {
				return err
			}
			return &ConflictError{RequestID: id, Status: current.Status}
		}

		title, message := "Redemption Approved",
			fmt.Sprintf("Your request for %s has been approved.", req.RewardName)

		if to == RequestRejected {
			// Reward before wallet, the same order RequestRedemption takes.
			if _, err := u.LockReward(ctx, req.RewardID); err != nil {
				return err
			}
			if _, err := r.ledger.Credit(ctx, u, req.UserID, req.PointsSpent, "Refund: "+req.RewardName); err != nil {
				return err
			}
			restocked, err := u.AdjustStock(ctx, req.RewardID, 1)
			if err != nil {
				return err
			}
			if !restocked {
				return &NotFoundError{Kind: "reward", ID: string(req.RewardID)}
			}
			title, message = "Redemption Rejected",
				fmt.Sprintf("Your request for %s was rejected. %d points have been returned to your wallet.",
					req.RewardName, req.PointsSpent)
		}

		if _, err := r.notes.Emit(ctx, u, req.UserID, title, message, false); err != nil {
			return err
		}

		at := u.Now
		req.Status = to
		req.DecidedAt = &at
		return nil
	})
	if err != nil {
		return RedemptionRequest{}, err
	}

	r.log.Info("redemption decided",
		zap.String("request_id", string(id)),
		zap.String("status", string(to)),
		zapUser(req.UserID))
	return req, nil
}

func (r *RedemptionWorkflow) GetRequest(ctx context.Context, id RequestID) (RedemptionRequest, error) {
	return r.store.GetRequest(ctx, id)
}

// ListRequests returns matching requests, newest first.
func (r *RedemptionWorkflow) ListRequests(ctx context.Context, filter RequestFilter) ([]RedemptionRequest, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalid("status", "unknown status %q", filter.Status)
	}
	return r.store.ListRequests(ctx, filter)
}

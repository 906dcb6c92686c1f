package loyalty

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RewardInput holds the editable fields of a catalog item.
type RewardInput struct {
	Name        string
	Description string
	Cost        Points
	Stock       int
	Active      bool
}

func (in RewardInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name", "required")
	}
	if in.Cost <= 0 {
		return invalid("cost", "must be positive, got %d", in.Cost)
	}
	if in.Stock < 0 {
		return invalid("stock", "must not be negative, got %d", in.Stock)
	}
	return nil
}

func (r *RedemptionWorkflow) CreateReward(ctx context.Context, in RewardInput) (Reward, error) {
	if err := in.validate(); err != nil {
		return Reward{}, err
	}

	var reward Reward
	err := r.atomically(ctx, "create_reward", func(u *UnitOfWork) error {
		reward = Reward{
			ID:          RewardID(uuid.NewString()),
			Name:        strings.TrimSpace(in.Name),
			Description: in.Description,
			Cost:        in.Cost,
			Stock:       in.Stock,
			Active:      in.Active,
			CreatedAt:   u.Now,
			UpdatedAt:   u.Now,
		}
		return u.InsertReward(ctx, reward)
	})
	if err != nil {
		return Reward{}, err
	}

	r.log.Info("reward created", zap.String("reward_id", string(reward.ID)), zap.String("name", reward.Name))
	return reward, nil
}

// UpdateReward replaces every editable field. Pending requests keep the
// cost they were charged.
func (r *RedemptionWorkflow) UpdateReward(ctx context.Context, id RewardID, in RewardInput) (Reward, error) {
	if err := in.validate(); err != nil {
		return Reward{}, err
	}

	var reward Reward
	err := r.atomically(ctx, "update_reward", func(u *UnitOfWork) error {
		var err error
		reward, err = u.LockReward(ctx, id)
		if err != nil {
			return err
		}
		reward.Name = strings.TrimSpace(in.Name)
		reward.Description = in.Description
		reward.Cost = in.Cost
		reward.Stock = in.Stock
		reward.Active = in.Active
		reward.UpdatedAt = u.Now
		return u.UpdateReward(ctx, reward)
	})
	if err != nil {
		return Reward{}, err
	}
	return reward, nil
}

func (r *RedemptionWorkflow) GetReward(ctx context.Context, id RewardID) (Reward, error) {
	return r.store.GetReward(ctx, id)
}

func (r *RedemptionWorkflow) ListRewards(ctx context.Context, activeOnly bool) ([]Reward, error) {
	return r.store.ListRewards(ctx, activeOnly)
}

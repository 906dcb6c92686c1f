package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/points-engine/loyalty"
)

// =============================================================================
// REWARDS
// =============================================================================

const rewardCols = `id, name, description, cost, stock, active, created_at, updated_at`

func scanReward(s scanner) (loyalty.Reward, error) {
	var (
		rw                   loyalty.Reward
		createdAt, updatedAt string
		err                  error
	)
	if err = s.Scan(&rw.ID, &rw.Name, &rw.Description, &rw.Cost, &rw.Stock, &rw.Active, &createdAt, &updatedAt); err != nil {
		return rw, err
	}
	if rw.CreatedAt, err = parseTime(createdAt); err != nil {
		return rw, err
	}
	if rw.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return rw, err
	}
	return rw, nil
}

func (r *reader) GetReward(ctx context.Context, id loyalty.RewardID) (loyalty.Reward, error) {
	return r.getReward(ctx, id, "")
}

func (r *reader) getReward(ctx context.Context, id loyalty.RewardID, lock string) (loyalty.Reward, error) {
	rw, err := scanReward(r.queryRow(ctx, `SELECT `+rewardCols+` FROM rewards WHERE id = ?`+lock, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rw, &loyalty.NotFoundError{Kind: "reward", ID: string(id)}
	}
	if err != nil {
		return rw, fmt.Errorf("get reward: %w", mapErr(err))
	}
	return rw, nil
}

func (r *reader) ListRewards(ctx context.Context, activeOnly bool) ([]loyalty.Reward, error) {
	query := `SELECT ` + rewardCols + ` FROM rewards`
	var args []any
	if activeOnly {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY cost, name`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	rewards := []loyalty.Reward{}
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rewards = append(rewards, rw)
	}
	return rewards, rows.Err()
}

func (t *txStore) InsertReward(ctx context.Context, rw loyalty.Reward) error {
	_, err := t.exec(ctx,
		`INSERT INTO rewards (`+rewardCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rw.ID, rw.Name, rw.Description, rw.Cost, rw.Stock, rw.Active,
		formatTime(rw.CreatedAt), formatTime(rw.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert reward: %w", err)
	}
	return nil
}

func (t *txStore) UpdateReward(ctx context.Context, rw loyalty.Reward) error {
	ok, err := t.execChanged(ctx,
		`UPDATE rewards SET name = ?, description = ?, cost = ?, stock = ?, active = ?, updated_at = ? WHERE id = ?`,
		rw.Name, rw.Description, rw.Cost, rw.Stock, rw.Active, formatTime(rw.UpdatedAt), rw.ID)
	if err != nil {
		return fmt.Errorf("update reward: %w", err)
	}
	if !ok {
		return &loyalty.NotFoundError{Kind: "reward", ID: string(rw.ID)}
	}
	return nil
}

func (t *txStore) LockReward(ctx context.Context, id loyalty.RewardID) (loyalty.Reward, error) {
	return t.getReward(ctx, id, t.d.forUpdate(""))
}

func (t *txStore) AdjustStock(ctx context.Context, id loyalty.RewardID, delta int) (bool, error) {
	ok, err := t.execChanged(ctx,
		`UPDATE rewards SET stock = stock + ? WHERE id = ? AND stock + ? >= 0`,
		delta, id, delta)
	if err != nil {
		return false, fmt.Errorf("adjust stock: %w", err)
	}
	return ok, nil
}

// =============================================================================
// REDEMPTION REQUESTS
// =============================================================================

const requestCols = `id, user_id, reward_id, reward_name, points_spent, status, created_at, decided_at`

func scanRequest(s scanner) (loyalty.RedemptionRequest, error) {
	var (
		req       loyalty.RedemptionRequest
		createdAt string
		decidedAt sql.NullString
		err       error
	)
	if err = s.Scan(&req.ID, &req.UserID, &req.RewardID, &req.RewardName, &req.PointsSpent, &req.Status, &createdAt, &decidedAt); err != nil {
		return req, err
	}
	if req.CreatedAt, err = parseTime(createdAt); err != nil {
		return req, err
	}
	if req.DecidedAt, err = parseNullTime(decidedAt); err != nil {
		return req, err
	}
	return req, nil
}

func (r *reader) GetRequest(ctx context.Context, id loyalty.RequestID) (loyalty.RedemptionRequest, error) {
	return r.getRequest(ctx, id, "")
}

func (r *reader) getRequest(ctx context.Context, id loyalty.RequestID, lock string) (loyalty.RedemptionRequest, error) {
	req, err := scanRequest(r.queryRow(ctx, `SELECT `+requestCols+` FROM redemption_requests WHERE id = ?`+lock, id))
	if errors.Is(err, sql.ErrNoRows) {
		return req, &loyalty.NotFoundError{Kind: "redemption request", ID: string(id)}
	}
	if err != nil {
		return req, fmt.Errorf("get redemption request: %w", mapErr(err))
	}
	return req, nil
}

func (r *reader) ListRequests(ctx context.Context, filter loyalty.RequestFilter) ([]loyalty.RedemptionRequest, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, `user_id = ?`)
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, filter.Status)
	}

	query := `SELECT ` + requestCols + ` FROM redemption_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list redemption requests: %w", err)
	}
	defer rows.Close()

	requests := []loyalty.RedemptionRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (t *txStore) InsertRequest(ctx context.Context, req loyalty.RedemptionRequest) error {
	_, err := t.exec(ctx,
		`INSERT INTO redemption_requests (id, user_id, reward_id, reward_name, points_spent, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.UserID, req.RewardID, req.RewardName, req.PointsSpent, req.Status, formatTime(req.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert redemption request: %w", err)
	}
	return nil
}

func (t *txStore) LockRequest(ctx context.Context, id loyalty.RequestID) (loyalty.RedemptionRequest, error) {
	return t.getRequest(ctx, id, t.d.forUpdate(""))
}

func (t *txStore) DecideRequest(ctx context.Context, id loyalty.RequestID, status loyalty.RequestStatus, at time.Time) (bool, error) {
	ok, err := t.execChanged(ctx,
		`UPDATE redemption_requests SET status = ?, decided_at = ? WHERE id = ? AND status = ?`,
		status, formatTime(at), id, loyalty.RequestPending)
	if err != nil {
		return false, fmt.Errorf("decide redemption request: %w", err)
	}
	return ok, nil
}

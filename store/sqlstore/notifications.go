package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/points-engine/loyalty"
)

// =============================================================================
// NOTIFICATIONS
// =============================================================================

const notificationCols = `id, user_id, title, message, broadcast, is_read, created_at`

func scanNotification(s scanner) (loyalty.Notification, error) {
	var (
		n         loyalty.Notification
		userID    sql.NullString
		createdAt string
		err       error
	)
	if err = s.Scan(&n.ID, &userID, &n.Title, &n.Message, &n.Broadcast, &n.Read, &createdAt); err != nil {
		return n, err
	}
	n.UserID = loyalty.UserID(userID.String)
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return n, err
	}
	return n, nil
}

func notificationWhere(f loyalty.NotificationFilter) (string, []any) {
	where := ` WHERE broadcast = ?`
	args := []any{true}
	if !f.Broadcasts {
		where = ` WHERE user_id = ? AND broadcast = ?`
		args = []any{f.UserID, false}
	}
	if f.UnreadOnly {
		where += ` AND is_read = ?`
		args = append(args, false)
	}
	return where, args
}

func (r *reader) GetNotification(ctx context.Context, id loyalty.NotificationID) (loyalty.Notification, error) {
	n, err := scanNotification(r.queryRow(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return n, &loyalty.NotFoundError{Kind: "notification", ID: string(id)}
	}
	if err != nil {
		return n, fmt.Errorf("get notification: %w", mapErr(err))
	}
	return n, nil
}

func (r *reader) ListNotifications(ctx context.Context, filter loyalty.NotificationFilter) ([]loyalty.Notification, error) {
	where, args := notificationWhere(filter)
	rows, err := r.query(ctx, `SELECT `+notificationCols+` FROM notifications`+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notes := []loyalty.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (r *reader) CountNotifications(ctx context.Context, filter loyalty.NotificationFilter) (int, error) {
	where, args := notificationWhere(filter)
	var count int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM notifications`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count notifications: %w", mapErr(err))
	}
	return count, nil
}

func (t *txStore) InsertNotification(ctx context.Context, n loyalty.Notification) error {
	_, err := t.exec(ctx,
		`INSERT INTO notifications (`+notificationCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, nullString(string(n.UserID)), n.Title, n.Message, n.Broadcast, n.Read, formatTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (t *txStore) MarkNotificationRead(ctx context.Context, id loyalty.NotificationID) error {
	ok, err := t.execChanged(ctx, `UPDATE notifications SET is_read = ? WHERE id = ?`, true, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if !ok {
		return &loyalty.NotFoundError{Kind: "notification", ID: string(id)}
	}
	return nil
}

// =============================================================================
// STATS
// =============================================================================

func (r *reader) Stats(ctx context.Context) (loyalty.Stats, error) {
	var s loyalty.Stats
	err := r.queryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM wallets),
			(SELECT COUNT(*) FROM vouchers),
			(SELECT COUNT(*) FROM vouchers WHERE state = 'redeemed'),
			(SELECT CAST(COALESCE(SUM(points), 0) AS BIGINT) FROM vouchers WHERE state = 'redeemed'),
			(SELECT CAST(COALESCE(SUM(points_spent), 0) AS BIGINT) FROM redemption_requests WHERE status <> 'rejected'),
			(SELECT CAST(COALESCE(SUM(balance), 0) AS BIGINT) FROM wallets),
			(SELECT COUNT(*) FROM redemption_requests WHERE status = 'pending')`,
	).Scan(&s.Wallets, &s.VouchersIssued, &s.VouchersRedeemed,
		&s.PointsDistributed, &s.PointsRedeemed, &s.Liability, &s.PendingRequests)
	if err != nil {
		return s, fmt.Errorf("stats: %w", mapErr(err))
	}
	return s, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/points-engine/loyalty"
)

// =============================================================================
// WALLETS AND LEDGER ENTRIES
// =============================================================================

func (r *reader) GetWallet(ctx context.Context, userID loyalty.UserID) (loyalty.Wallet, error) {
	return r.getWallet(ctx, userID, "")
}

func (r *reader) getWallet(ctx context.Context, userID loyalty.UserID, lock string) (loyalty.Wallet, error) {
	var (
		w         = loyalty.Wallet{UserID: userID}
		updatedAt string
	)
	err := r.queryRow(ctx,
		`SELECT balance, seq, updated_at FROM wallets WHERE user_id = ?`+lock, userID,
	).Scan(&w.Balance, &w.Seq, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return w, nil
	}
	if err != nil {
		return w, fmt.Errorf("get wallet: %w", mapErr(err))
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return w, err
	}
	return w, nil
}

func (r *reader) ListEntries(ctx context.Context, userID loyalty.UserID, beforeSeq int64, limit int) ([]loyalty.Entry, error) {
	query := `SELECT user_id, seq, amount, category, description, created_at FROM ledger_entries WHERE user_id = ?`
	args := []any{userID}
	if beforeSeq > 0 {
		query += ` AND seq < ?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]loyalty.Entry, 0, limit)
	for rows.Next() {
		var (
			e         loyalty.Entry
			createdAt string
		)
		if err := rows.Scan(&e.UserID, &e.Seq, &e.Amount, &e.Category, &e.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *reader) ListWalletUsers(ctx context.Context, afterUser loyalty.UserID, limit int) ([]loyalty.UserID, error) {
	rows, err := r.query(ctx,
		`SELECT user_id FROM wallets WHERE user_id > ? ORDER BY user_id LIMIT ?`, afterUser, limit)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	users := make([]loyalty.UserID, 0, limit)
	for rows.Next() {
		var id loyalty.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (r *reader) SumEntries(ctx context.Context, userID loyalty.UserID) (loyalty.Points, error) {
	var sum loyalty.Points
	err := r.queryRow(ctx,
		`SELECT CAST(COALESCE(SUM(amount), 0) AS BIGINT) FROM ledger_entries WHERE user_id = ?`, userID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum entries: %w", mapErr(err))
	}
	return sum, nil
}

func (t *txStore) LockWallet(ctx context.Context, userID loyalty.UserID) (loyalty.Wallet, error) {
	return t.getWallet(ctx, userID, t.d.forUpdate(""))
}

// SaveWallet inserts the first version of a wallet or advances an existing
// one from prevSeq. A concurrent writer shows up as a unique violation on
// insert or zero rows on update; both are reported as ErrStorageConflict.
func (t *txStore) SaveWallet(ctx context.Context, w loyalty.Wallet, prevSeq int64) error {
	if prevSeq == 0 {
		_, err := t.exec(ctx,
			`INSERT INTO wallets (user_id, balance, seq, updated_at) VALUES (?, ?, ?, ?)`,
			w.UserID, w.Balance, w.Seq, formatTime(w.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert wallet: %w", err)
		}
		return nil
	}

	ok, err := t.execChanged(ctx,
		`UPDATE wallets SET balance = ?, seq = ?, updated_at = ? WHERE user_id = ? AND seq = ?`,
		w.Balance, w.Seq, formatTime(w.UpdatedAt), w.UserID, prevSeq)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	if !ok {
		return fmt.Errorf("wallet %s moved past seq %d: %w", w.UserID, prevSeq, loyalty.ErrStorageConflict)
	}
	return nil
}

func (t *txStore) AppendEntry(ctx context.Context, e loyalty.Entry) error {
	_, err := t.exec(ctx,
		`INSERT INTO ledger_entries (user_id, seq, amount, category, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Seq, e.Amount, e.Category, e.Description, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/points-engine/loyalty"
)

// =============================================================================
// VOUCHERS AND BATCHES
// =============================================================================

const voucherCols = `v.code, v.batch_id, b.name, v.points, v.state, v.redeemed_by, v.redeemed_at`

const voucherFrom = ` FROM vouchers v JOIN batches b ON b.id = v.batch_id`

func scanVoucher(s scanner) (loyalty.Voucher, error) {
	var (
		v          loyalty.Voucher
		redeemedBy sql.NullString
		redeemedAt sql.NullString
	)
	if err := s.Scan(&v.Code, &v.BatchID, &v.BatchName, &v.Points, &v.State, &redeemedBy, &redeemedAt); err != nil {
		return v, err
	}
	v.RedeemedBy = loyalty.UserID(redeemedBy.String)
	at, err := parseNullTime(redeemedAt)
	if err != nil {
		return v, err
	}
	v.RedeemedAt = at
	return v, nil
}

func (r *reader) GetVoucher(ctx context.Context, code loyalty.VoucherCode) (loyalty.Voucher, error) {
	return r.getVoucher(ctx, code, "")
}

func (r *reader) getVoucher(ctx context.Context, code loyalty.VoucherCode, lock string) (loyalty.Voucher, error) {
	row := r.queryRow(ctx, `SELECT `+voucherCols+voucherFrom+` WHERE v.code = ?`+lock, code)
	v, err := scanVoucher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return v, &loyalty.NotFoundError{Kind: "voucher", ID: string(code)}
	}
	if err != nil {
		return v, fmt.Errorf("get voucher: %w", mapErr(err))
	}
	return v, nil
}

func (r *reader) ListVouchers(ctx context.Context, batchID loyalty.BatchID) ([]loyalty.Voucher, error) {
	rows, err := r.query(ctx, `SELECT `+voucherCols+voucherFrom+` WHERE v.batch_id = ? ORDER BY v.points, v.code`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	defer rows.Close()

	vouchers := []loyalty.Voucher{}
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voucher: %w", err)
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

const batchSummaryQuery = `
	SELECT b.id, b.name, b.total_count, b.total_points, b.created_at,
	       CAST(COALESCE(SUM(CASE WHEN v.state = 'redeemed' THEN 1 ELSE 0 END), 0) AS BIGINT)
	FROM batches b
	LEFT JOIN vouchers v ON v.batch_id = b.id`

const batchGroupBy = ` GROUP BY b.id, b.name, b.total_count, b.total_points, b.created_at`

func scanBatchSummary(s scanner) (loyalty.BatchSummary, error) {
	var (
		b         loyalty.BatchSummary
		createdAt string
		redeemed  int64
	)
	if err := s.Scan(&b.ID, &b.Name, &b.TotalCount, &b.TotalPoints, &createdAt, &redeemed); err != nil {
		return b, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return b, err
	}
	b.CreatedAt = t
	b.Redeemed = int(redeemed)
	b.Available = b.TotalCount - b.Redeemed
	return b, nil
}

func (r *reader) GetBatch(ctx context.Context, id loyalty.BatchID) (loyalty.BatchSummary, error) {
	row := r.queryRow(ctx, batchSummaryQuery+` WHERE b.id = ?`+batchGroupBy, id)
	b, err := scanBatchSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return b, &loyalty.NotFoundError{Kind: "batch", ID: string(id)}
	}
	if err != nil {
		return b, fmt.Errorf("get batch: %w", mapErr(err))
	}
	return b, nil
}

func (r *reader) ListBatches(ctx context.Context) ([]loyalty.BatchSummary, error) {
	rows, err := r.query(ctx, batchSummaryQuery+batchGroupBy+` ORDER BY b.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	batches := []loyalty.BatchSummary{}
	for rows.Next() {
		b, err := scanBatchSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (t *txStore) InsertBatch(ctx context.Context, batch loyalty.Batch, vouchers []loyalty.Voucher) error {
	_, err := t.exec(ctx,
		`INSERT INTO batches (id, name, total_count, total_points, created_at) VALUES (?, ?, ?, ?, ?)`,
		batch.ID, batch.Name, batch.TotalCount, batch.TotalPoints, formatTime(batch.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	stmt, err := t.q.PrepareContext(ctx, t.d.rebind(
		`INSERT INTO vouchers (code, batch_id, points, state) VALUES (?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare voucher insert: %w", mapErr(err))
	}
	defer stmt.Close()

	for _, v := range vouchers {
		if _, err := stmt.ExecContext(ctx, v.Code, batch.ID, v.Points, loyalty.VoucherUnredeemed); err != nil {
			return fmt.Errorf("insert voucher: %w", mapErr(err))
		}
	}
	return nil
}

func (t *txStore) DeleteBatch(ctx context.Context, id loyalty.BatchID) error {
	if _, err := t.exec(ctx, `DELETE FROM vouchers WHERE batch_id = ?`, id); err != nil {
		return fmt.Errorf("delete vouchers: %w", err)
	}
	ok, err := t.execChanged(ctx, `DELETE FROM batches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	if !ok {
		return &loyalty.NotFoundError{Kind: "batch", ID: string(id)}
	}
	return nil
}

func (t *txStore) LockVoucher(ctx context.Context, code loyalty.VoucherCode) (loyalty.Voucher, error) {
	return t.getVoucher(ctx, code, t.d.forUpdate("v"))
}

func (t *txStore) MarkVoucherRedeemed(ctx context.Context, code loyalty.VoucherCode, userID loyalty.UserID, at time.Time) (bool, error) {
	ok, err := t.execChanged(ctx,
		`UPDATE vouchers SET state = ?, redeemed_by = ?, redeemed_at = ? WHERE code = ? AND state = ?`,
		loyalty.VoucherRedeemed, userID, formatTime(at), code, loyalty.VoucherUnredeemed)
	if err != nil {
		return false, fmt.Errorf("mark voucher redeemed: %w", err)
	}
	return ok, nil
}

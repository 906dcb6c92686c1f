/*
ledger.go - Wallet balances and their append-only history

PURPOSE:
  The WalletLedger is the single source of truth reconciling a user's
  balance with the entries that explain it. Credit and Debit are the only
  balance mutators in the system and they only run inside a UnitOfWork,
  next to whatever voucher or reward change caused them.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. PROJECTION: wallet.Balance == sum(entry.Amount), always
  3. NON-NEGATIVE: a debit above the balance fails, nothing is written
  4. ORDERED: entry Seq increases by exactly one per wallet

CONCURRENCY:
  The wallet row is locked before the balance is read. The write is also
  conditioned on the previous Seq, so a unit of work that lost a race
  surfaces ErrStorageConflict instead of overwriting a newer balance.

CORRECTIONS:
  A rejected redemption is undone with a compensating earn entry. The
  original spend entry stays in the history.

SEE ALSO:
  - voucher.go: Credits on redemption
  - redemption.go: Debits on request, refunds on rejection
*/
package loyalty

import (
	"context"
	"iter"
)

type WalletLedger struct {
	*core
}

// =============================================================================
// READS
// =============================================================================

// GetBalance returns the current balance, 0 for a user without a wallet.
func (l *WalletLedger) GetBalance(ctx context.Context, userID UserID) (Points, error) {
	w, err := l.Wallet(ctx, userID)
	return w.Balance, err
}

func (l *WalletLedger) Wallet(ctx context.Context, userID UserID) (Wallet, error) {
	if userID == "" {
		return Wallet{}, invalid("user_id", "required")
	}
	return l.store.GetWallet(ctx, userID)
}

// ListTransactions yields the user's entries newest first. Entries are
// fetched a page at a time, and every range over the returned sequence
// starts again from the newest entry. Iteration stops at the first error.
func (l *WalletLedger) ListTransactions(ctx context.Context, userID UserID) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if userID == "" {
			yield(Entry{}, invalid("user_id", "required"))
			return
		}

		var before int64
		for {
			page, err := l.store.ListEntries(ctx, userID, before, l.opts.PageSize)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < l.opts.PageSize {
				return
			}
			before = page[len(page)-1].Seq
		}
	}
}

// Reconciliation compares a wallet's balance with the sum of its entries.
type Reconciliation struct {
	UserID   UserID
	Balance  Points
	EntrySum Points
	Entries  int64
}

func (r Reconciliation) Consistent() bool {
	return r.Balance == r.EntrySum
}

// Verify recomputes the entry sum under the wallet lock, so no credit or
// debit can land between the two reads.
func (l *WalletLedger) Verify(ctx context.Context, userID UserID) (Reconciliation, error) {
	if userID == "" {
		return Reconciliation{}, invalid("user_id", "required")
	}

	var rec Reconciliation
	err := l.atomically(ctx, "verify_wallet", func(u *UnitOfWork) error {
		w, err := u.LockWallet(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := u.SumEntries(ctx, userID)
		if err != nil {
			return err
		}
		rec = Reconciliation{UserID: userID, Balance: w.Balance, EntrySum: sum, Entries: w.Seq}
		return nil
	})
	return rec, err
}

// Audit verifies every wallet and returns the ones whose balance does not
// match their entries, along with how many wallets were checked.
func (l *WalletLedger) Audit(ctx context.Context) ([]Reconciliation, int, error) {
	var (
		broken  []Reconciliation
		checked int
		after   UserID
	)
	for {
		users, err := l.store.ListWalletUsers(ctx, after, l.opts.PageSize)
		if err != nil {
			return nil, checked, err
		}
		for _, id := range users {
			rec, err := l.Verify(ctx, id)
			if err != nil {
				return nil, checked, err
			}
			checked++
			if !rec.Consistent() {
				l.log.Error("wallet out of balance",
					zapUser(id),
					zapPoints("balance", rec.Balance),
					zapPoints("entry_sum", rec.EntrySum))
				broken = append(broken, rec)
			}
		}
		if len(users) < l.opts.PageSize {
			return broken, checked, nil
		}
		after = users[len(users)-1]
	}
}

// =============================================================================
// MUTATIONS - only inside a UnitOfWork
// =============================================================================

// Credit appends an earn entry. The wallet is created on first credit.
func (l *WalletLedger) Credit(ctx context.Context, u *UnitOfWork, userID UserID, amount Points, description string) (Wallet, error) {
	return l.post(ctx, u, userID, amount, CategoryEarn, description)
}

// Debit appends a spend entry, or fails with InsufficientBalanceError.
func (l *WalletLedger) Debit(ctx context.Context, u *UnitOfWork, userID UserID, amount Points, description string) (Wallet, error) {
	return l.post(ctx, u, userID, amount, CategorySpend, description)
}

func (l *WalletLedger) post(ctx context.Context, u *UnitOfWork, userID UserID, amount Points, category EntryCategory, description string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, invalid("user_id", "required")
	}
	if amount <= 0 {
		return Wallet{}, invalid("amount", "must be positive, got %d", amount)
	}

	w, err := u.LockWallet(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}

	delta := amount
	if category == CategorySpend {
		if w.Balance < amount {
			return Wallet{}, &InsufficientBalanceError{
				UserID:    userID,
				Available: w.Balance,
				Requested: amount,
			}
		}
		delta = -amount
	}

	next := Wallet{
		UserID:    userID,
		Balance:   w.Balance + delta,
		Seq:       w.Seq + 1,
		UpdatedAt: u.Now,
	}
	entry := Entry{
		UserID:      userID,
		Seq:         next.Seq,
		Amount:      delta,
		Category:    category,
		Description: description,
		CreatedAt:   u.Now,
	}

	if err := u.AppendEntry(ctx, entry); err != nil {
		return Wallet{}, err
	}
	if err := u.SaveWallet(ctx, next, w.Seq); err != nil {
		return Wallet{}, err
	}

	l.log.Debug("ledger entry appended",
		zapUser(userID),
		zapPoints("amount", delta),
		zapPoints("balance", next.Balance))
	return next, nil
}

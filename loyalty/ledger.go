/*
ledger.go - Cashback ledger accessor (derived balances)

PURPOSE:
  Turns a member's immutable entry stream into the two numbers the rest
  of the system cares about:

    usable  = earn entries with UsableFrom <= asOf
              + spend/adjust entries (already negative)
    pending = earn entries with UsableFrom >  asOf

  Balances are never stored; they are recomputed from the stream on every
  read, so the ledger stays the single source of truth and any balance
  can be audited by replaying entries.

ACTIVATION BOUNDARY:
  An earn entry dated exactly asOf's day is USABLE, not pending. The
  comparison is UsableFrom <= asOf for usable and the strict complement
  for pending; the two can never overlap or leave a gap.

CACHE:
  A per-member read cache keeps the last loaded entry slice and is
  dropped on every append. Purely a read optimization - correctness never
  depends on it, and a cold cache just re-reads the store.
*/
package loyalty

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CashbackLedger reads and appends cashback ledger entries for members.
type CashbackLedger struct {
	store Store
	cal   *Calendar

	mu    sync.RWMutex
	cache map[MemberID][]LedgerEntry
}

// NewCashbackLedger creates a ledger accessor over the given store.
func NewCashbackLedger(store Store, cal *Calendar) *CashbackLedger {
	return &CashbackLedger{
		store: store,
		cal:   cal,
		cache: make(map[MemberID][]LedgerEntry),
	}
}

// =============================================================================
// DERIVED BALANCES
// =============================================================================

// UsableBalance returns the cashback the member can spend as of the given
// instant, floored at zero for display.
func (l *CashbackLedger) UsableBalance(ctx context.Context, id MemberID, asOf time.Time) (Money, error) {
	usable, _, err := l.balances(ctx, id, asOf)
	if err != nil {
		return ZeroMoney(), err
	}
	if usable.Sign() < 0 {
		return ZeroMoney(), nil
	}
	return usable, nil
}

// PendingBalance returns cashback earned but not yet activated as of the
// given instant.
func (l *CashbackLedger) PendingBalance(ctx context.Context, id MemberID, asOf time.Time) (Money, error) {
	_, pending, err := l.balances(ctx, id, asOf)
	if err != nil {
		return ZeroMoney(), err
	}
	return pending, nil
}

// Snapshot returns both balances at once.
func (l *CashbackLedger) Snapshot(ctx context.Context, id MemberID, asOf time.Time) (BalanceSnapshot, error) {
	usable, pending, err := l.balances(ctx, id, asOf)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	if usable.Sign() < 0 {
		usable = ZeroMoney()
	}
	return BalanceSnapshot{MemberID: id, AsOf: asOf, Usable: usable, Pending: pending}, nil
}

// usableRaw returns the true usable balance without the display floor.
// The orchestrator validates spends against this value so a drifted
// (negative) ledger blocks further spending instead of hiding behind the
// zero floor.
func (l *CashbackLedger) usableRaw(ctx context.Context, id MemberID, asOf time.Time) (Money, error) {
	usable, _, err := l.balances(ctx, id, asOf)
	return usable, err
}

// balances replays the member's entry stream once and splits it into
// usable and pending per the activation boundary.
func (l *CashbackLedger) balances(ctx context.Context, id MemberID, asOf time.Time) (usable, pending Money, err error) {
	entries, err := l.load(ctx, id)
	if err != nil {
		return ZeroMoney(), ZeroMoney(), err
	}

	usable, pending = ZeroMoney(), ZeroMoney()
	for _, e := range entries {
		switch e.Type {
		case EntryEarn:
			if e.UsableFrom.After(asOf) {
				pending = pending.Add(e.Amount)
			} else {
				usable = usable.Add(e.Amount)
			}
		case EntrySpend, EntryAdjust:
			// Stored negative; adding subtracts.
			usable = usable.Add(e.Amount)
		}
	}
	return usable, pending, nil
}

// =============================================================================
// APPENDS
// =============================================================================

// earnEntry builds an earn entry activating on the first day of the
// month after earnedAt.
func (l *CashbackLedger) earnEntry(id MemberID, purchaseID PurchaseID, amount Money, earnedAt time.Time) LedgerEntry {
	return LedgerEntry{
		ID:         EntryID(uuid.NewString()),
		MemberID:   id,
		PurchaseID: purchaseID,
		Type:       EntryEarn,
		Amount:     amount,
		UsableFrom: l.cal.FirstDayOfNextMonth(earnedAt),
		CreatedAt:  earnedAt,
	}
}

// spendEntry builds a spend entry (stored negative).
func (l *CashbackLedger) spendEntry(id MemberID, purchaseID PurchaseID, amount Money, at time.Time) LedgerEntry {
	return LedgerEntry{
		ID:         EntryID(uuid.NewString()),
		MemberID:   id,
		PurchaseID: purchaseID,
		Type:       EntrySpend,
		Amount:     amount.Neg(),
		CreatedAt:  at,
	}
}

// PostEarn appends an earn entry activating on the first day of the month
// after earnedAt. No-op for non-positive amounts.
func (l *CashbackLedger) PostEarn(ctx context.Context, id MemberID, purchaseID PurchaseID, amount Money, earnedAt time.Time) error {
	if amount.Sign() <= 0 {
		return nil
	}
	if err := l.store.AppendEntry(ctx, l.earnEntry(id, purchaseID, amount, earnedAt)); err != nil {
		return storeFailure(err)
	}
	l.invalidate(id)
	return nil
}

// PostSpend appends a spend entry (stored negative). No-op for
// non-positive amounts.
func (l *CashbackLedger) PostSpend(ctx context.Context, id MemberID, purchaseID PurchaseID, amount Money, at time.Time) error {
	if amount.Sign() <= 0 {
		return nil
	}
	if err := l.store.AppendEntry(ctx, l.spendEntry(id, purchaseID, amount, at)); err != nil {
		return storeFailure(err)
	}
	l.invalidate(id)
	return nil
}

// Entries returns the member's full ledger history, chronologically.
func (l *CashbackLedger) Entries(ctx context.Context, id MemberID) ([]LedgerEntry, error) {
	return l.load(ctx, id)
}

// =============================================================================
// READ CACHE
// =============================================================================

func (l *CashbackLedger) load(ctx context.Context, id MemberID) ([]LedgerEntry, error) {
	l.mu.RLock()
	cached, ok := l.cache[id]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	entries, err := l.store.EntriesByMember(ctx, id)
	if err != nil {
		return nil, storeFailure(err)
	}

	l.mu.Lock()
	l.cache[id] = entries
	l.mu.Unlock()
	return entries, nil
}

func (l *CashbackLedger) invalidate(id MemberID) {
	l.mu.Lock()
	delete(l.cache, id)
	l.mu.Unlock()
}

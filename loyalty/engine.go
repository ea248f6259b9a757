/*
engine.go - Transaction orchestrator

PURPOSE:
  Composes the calendar, cashback rule, ledger accessor, and renewal
  engine into the operations callers actually invoke: post a purchase,
  pay or undo a membership fee, read balances. This is the only file that
  sequences reads and writes across subsystems.

PURCHASE FLOW (PostPurchase):
  1. Look up the member; validate amounts before anything is written.
  2. Cashback-assisted purchases require an ACTIVE membership and a
     usable balance covering the spend. The availability check runs
     against the balance PRIOR to this purchase, so a purchase can never
     fund its own spend with the cashback it is about to earn.
  3. If the member is active and pays cash, the rule engine runs against
     the member's same-day bucket (cumulative cash and earned so far
     today) to produce the newly earned cashback.
  4. The purchase and its earn/spend entries persist as ONE logical unit:
     inside a store transaction when the store supports one, otherwise
     with compensating deletes if a later write fails. A purchase never
     survives without its ledger entries.

PER-MEMBER SERIALIZATION:
  Both the daily cap and the renewal base are computed from reads that go
  stale the moment another write lands. Every compound operation holds a
  mutex keyed by member ID for its full read-compute-write cycle.
  Operations on different members proceed in parallel.
*/
package loyalty

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine exposes the loyalty core to its callers.
type Engine struct {
	store      Store
	cal        *Calendar
	cashback   CashbackPolicy
	membership *MembershipEngine
	ledger     *CashbackLedger
	locks      memberLocks
}

// NewEngine wires the core over a store. Zero-valued policies fall back
// to the production defaults.
func NewEngine(store Store, cal *Calendar, cashback CashbackPolicy, membership MembershipPolicy) *Engine {
	if cal == nil {
		cal = NewCalendar(nil)
	}
	if cashback.StepSize.Sign() == 0 {
		cashback = DefaultCashbackPolicy()
	}
	if membership.DurationDays == 0 {
		membership = DefaultMembershipPolicy()
	}
	return &Engine{
		store:      store,
		cal:        cal,
		cashback:   cashback,
		membership: NewMembershipEngine(store, cal, membership),
		ledger:     NewCashbackLedger(store, cal),
	}
}

// Calendar returns the engine's calendar (for callers needing "now").
func (e *Engine) Calendar() *Calendar { return e.cal }

// Ledger returns the cashback ledger accessor.
func (e *Engine) Ledger() *CashbackLedger { return e.ledger }

// =============================================================================
// MEMBER REGISTRATION
// =============================================================================

// RegisterMember creates a member with no membership window. The member
// is inactive until the first fee payment.
func (e *Engine) RegisterMember(ctx context.Context, name, phone string) (*Member, error) {
	m := Member{
		ID:        MemberID(uuid.NewString()),
		Name:      name,
		Phone:     phone,
		CreatedAt: e.cal.Now(),
	}
	if err := e.store.SaveMember(ctx, m); err != nil {
		return nil, storeFailure(err)
	}
	return &m, nil
}

// GetMember returns a member by ID.
func (e *Engine) GetMember(ctx context.Context, id MemberID) (*Member, error) {
	m, err := e.store.GetMember(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return nil, err
		}
		return nil, storeFailure(err)
	}
	return m, nil
}

// ListMembers returns all members ordered by creation time.
func (e *Engine) ListMembers(ctx context.Context) ([]Member, error) {
	members, err := e.store.ListMembers(ctx)
	if err != nil {
		return nil, storeFailure(err)
	}
	return members, nil
}

// ArchiveMember marks a member archived. Ledger history stays intact;
// members referenced by history are never physically removed.
func (e *Engine) ArchiveMember(ctx context.Context, id MemberID) error {
	unlock := e.locks.lock(id)
	defer unlock()

	m, err := e.GetMember(ctx, id)
	if err != nil {
		return err
	}
	m.Archived = true
	if err := e.store.SaveMember(ctx, *m); err != nil {
		return storeFailure(err)
	}
	return nil
}

// =============================================================================
// PURCHASES
// =============================================================================

// PostPurchase processes one sale for a member. cashbackToUse of zero
// means cash-only. Returns the persisted purchase including its
// cash/cashback split and the cashback it earned.
func (e *Engine) PostPurchase(ctx context.Context, id MemberID, total, cashbackToUse Money, at time.Time) (*Purchase, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	member, err := e.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}

	if total.Sign() <= 0 || cashbackToUse.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	active := e.membership.IsActive(member, at)

	if cashbackToUse.Sign() > 0 {
		// A lapsed membership blocks spending even with legacy balance.
		if !active {
			return nil, ErrMembershipInactive
		}
		if cashbackToUse.GreaterThan(total) {
			return nil, ErrInvalidAmount
		}
		// Validate against the balance prior to this purchase's own earn.
		available, err := e.ledger.usableRaw(ctx, id, at)
		if err != nil {
			return nil, err
		}
		if cashbackToUse.GreaterThan(available) {
			shown := available
			if shown.Sign() < 0 {
				shown = ZeroMoney()
			}
			return nil, &InsufficientCashbackError{MemberID: id, Available: shown, Requested: cashbackToUse}
		}
	}

	paidCash := total.Sub(cashbackToUse)

	earned := ZeroMoney()
	if active && paidCash.Sign() > 0 {
		priorCash, priorEarned, err := e.dayTotals(ctx, id, at)
		if err != nil {
			return nil, err
		}
		earned = e.cashback.ComputeEarned(priorCash, priorEarned, paidCash)
	}

	purchase := Purchase{
		ID:             PurchaseID(uuid.NewString()),
		MemberID:       id,
		At:             at,
		DayKey:         e.cal.DayKey(at),
		Total:          total,
		PaidCash:       paidCash,
		PaidCashback:   cashbackToUse,
		CashbackEarned: earned,
	}

	var entries []LedgerEntry
	if earned.Sign() > 0 {
		entries = append(entries, e.ledger.earnEntry(id, purchase.ID, earned, at))
	}
	if cashbackToUse.Sign() > 0 {
		entries = append(entries, e.ledger.spendEntry(id, purchase.ID, cashbackToUse, at))
	}

	// The purchase and its entries are one logical write: a persisted
	// purchase whose spend was never debited would corrupt the balance.
	if tx, ok := e.store.(TxStore); ok {
		err := tx.WithTx(ctx, func(s Store) error {
			if err := s.AppendPurchase(ctx, purchase); err != nil {
				return err
			}
			for _, entry := range entries {
				if err := s.AppendEntry(ctx, entry); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, storeFailure(err)
		}
	} else {
		if err := e.store.AppendPurchase(ctx, purchase); err != nil {
			return nil, storeFailure(err)
		}
		for i, entry := range entries {
			if err := e.store.AppendEntry(ctx, entry); err != nil {
				// Compensate: remove the writes that already landed.
				for _, landed := range entries[:i] {
					_ = e.store.DeleteEntry(ctx, landed.ID)
				}
				_ = e.store.DeletePurchase(ctx, purchase.ID)
				return nil, storeFailure(err)
			}
		}
	}
	e.ledger.invalidate(id)

	return &purchase, nil
}

// dayTotals sums the member's cash paid and cashback earned for the civil
// day of the given instant, from the purchase stream.
func (e *Engine) dayTotals(ctx context.Context, id MemberID, at time.Time) (cash, earned Money, err error) {
	purchases, err := e.store.PurchasesByMemberDay(ctx, id, e.cal.DayKey(at))
	if err != nil {
		return ZeroMoney(), ZeroMoney(), storeFailure(err)
	}
	cash, earned = ZeroMoney(), ZeroMoney()
	for _, p := range purchases {
		cash = cash.Add(p.PaidCash)
		earned = earned.Add(p.CashbackEarned)
	}
	return cash, earned, nil
}

// Purchases returns the member's purchase history, chronologically.
func (e *Engine) Purchases(ctx context.Context, id MemberID) ([]Purchase, error) {
	purchases, err := e.store.PurchasesByMember(ctx, id)
	if err != nil {
		return nil, storeFailure(err)
	}
	return purchases, nil
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

// Pay records a membership fee payment for the member.
func (e *Engine) Pay(ctx context.Context, id MemberID, amount Money, paidAt time.Time) (*MembershipPayment, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	member, err := e.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.membership.Pay(ctx, member, amount, paidAt)
}

// UndoLastPayment reverses the member's most recent fee payment.
func (e *Engine) UndoLastPayment(ctx context.Context, id MemberID) (*MembershipPayment, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	member, err := e.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.membership.UndoLastPayment(ctx, member)
}

// Payments returns the member's renewal history, most recent first.
func (e *Engine) Payments(ctx context.Context, id MemberID, limit int) ([]MembershipPayment, error) {
	return e.membership.Payments(ctx, id, limit)
}

// IsActive reports whether the member's window covers now.
func (e *Engine) IsActive(ctx context.Context, id MemberID) (bool, error) {
	member, err := e.GetMember(ctx, id)
	if err != nil {
		return false, err
	}
	return e.membership.IsActive(member, e.cal.Now()), nil
}

// =============================================================================
// BALANCES
// =============================================================================

// UsableBalance returns the member's spendable cashback as of the instant.
func (e *Engine) UsableBalance(ctx context.Context, id MemberID, asOf time.Time) (Money, error) {
	if _, err := e.GetMember(ctx, id); err != nil {
		return ZeroMoney(), err
	}
	return e.ledger.UsableBalance(ctx, id, asOf)
}

// PendingBalance returns the member's not-yet-activated cashback.
func (e *Engine) PendingBalance(ctx context.Context, id MemberID, asOf time.Time) (Money, error) {
	if _, err := e.GetMember(ctx, id); err != nil {
		return ZeroMoney(), err
	}
	return e.ledger.PendingBalance(ctx, id, asOf)
}

// Balance returns both balances at once.
func (e *Engine) Balance(ctx context.Context, id MemberID, asOf time.Time) (BalanceSnapshot, error) {
	if _, err := e.GetMember(ctx, id); err != nil {
		return BalanceSnapshot{}, err
	}
	return e.ledger.Snapshot(ctx, id, asOf)
}

// =============================================================================
// PER-MEMBER LOCK TABLE
// =============================================================================

// memberLocks serializes compound operations per member. The table grows
// with the member set; entries are a bare mutex each.
type memberLocks struct {
	mu    sync.Mutex
	locks map[MemberID]*sync.Mutex
}

func (t *memberLocks) lock(id MemberID) (unlock func()) {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[MemberID]*sync.Mutex)
	}
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

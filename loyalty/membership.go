/*
membership.go - Membership renewal engine (pay / undo / active status)

PURPOSE:
  A member is Active exactly while now <= end-of-day(MembershipEndAt).
  Paying the fee extends the window 30 days from the LATER of the payment
  instant and the current end - renewing early never costs days. The most
  recent payment can be undone, restoring the window end to precisely its
  pre-payment value.

ATOMICITY:
  Pay and undo each touch two records: the payment stream and the
  member's window end. When the store supports transactions (TxStore)
  both writes share one; otherwise the second write failing triggers a
  compensating write that removes/restores the first. Either way the
  caller sees ErrStoreUnavailable and a consistent store.

UNDO DEPTH:
  Undo rolls back exactly one payment. The engine remembers per member
  that the last renewal action was an undo; a second consecutive undo
  fails with ErrNoPaymentToUndo even when older payments remain. Only a
  new payment re-arms undo. It never auto-chains into older history.
*/
package loyalty

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MembershipPolicy holds the renewal constants.
type MembershipPolicy struct {
	// Fee is the standard renewal amount callers charge. The engine records
	// whatever positive amount was actually paid.
	Fee Money

	// DurationDays is how far one payment extends the window.
	DurationDays int
}

// DefaultMembershipPolicy returns the production constants:
// 35,000 fee, 30-day window.
func DefaultMembershipPolicy() MembershipPolicy {
	return MembershipPolicy{
		Fee:          MoneyFromInt(35000),
		DurationDays: 30,
	}
}

// MembershipEngine applies renewal rules over the store.
type MembershipEngine struct {
	store  Store
	cal    *Calendar
	policy MembershipPolicy

	// undone marks members whose most recent renewal action was an undo.
	// Guards the one-level undo limit; cleared by the next payment.
	mu     sync.Mutex
	undone map[MemberID]struct{}
}

// NewMembershipEngine creates a renewal engine.
func NewMembershipEngine(store Store, cal *Calendar, policy MembershipPolicy) *MembershipEngine {
	return &MembershipEngine{
		store:  store,
		cal:    cal,
		policy: policy,
		undone: make(map[MemberID]struct{}),
	}
}

func (m *MembershipEngine) markUndone(id MemberID) {
	m.mu.Lock()
	m.undone[id] = struct{}{}
	m.mu.Unlock()
}

func (m *MembershipEngine) clearUndone(id MemberID) {
	m.mu.Lock()
	delete(m.undone, id)
	m.mu.Unlock()
}

func (m *MembershipEngine) justUndone(id MemberID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.undone[id]
	return ok
}

// IsActive reports whether the member's window covers the given instant.
// The window end is inclusive through end of its civil day.
func (m *MembershipEngine) IsActive(member *Member, now time.Time) bool {
	if member == nil || member.MembershipEndAt == nil {
		return false
	}
	return !m.cal.EndOfDay(*member.MembershipEndAt).Before(now)
}

// Pay records one renewal: extends the window DurationDays from the later
// of paidAt and the current end, persists the payment with the
// pre-payment end, and updates the member. Returns the payment.
func (m *MembershipEngine) Pay(ctx context.Context, member *Member, amount Money, paidAt time.Time) (*MembershipPayment, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	base := paidAt
	if m.IsActive(member, paidAt) {
		base = *member.MembershipEndAt
	}
	newEnd := m.cal.AddDays(base, m.policy.DurationDays)

	payment := MembershipPayment{
		ID:            PaymentID(uuid.NewString()),
		MemberID:      member.ID,
		Amount:        amount,
		PreviousEndAt: member.MembershipEndAt,
		NewEndAt:      newEnd,
		PaidAt:        paidAt,
	}

	if tx, ok := m.store.(TxStore); ok {
		err := tx.WithTx(ctx, func(s Store) error {
			if err := s.AppendPayment(ctx, payment); err != nil {
				return err
			}
			return s.UpdateMembershipEnd(ctx, member.ID, &newEnd)
		})
		if err != nil {
			return nil, storeFailure(err)
		}
	} else {
		if err := m.store.AppendPayment(ctx, payment); err != nil {
			return nil, storeFailure(err)
		}
		if err := m.store.UpdateMembershipEnd(ctx, member.ID, &newEnd); err != nil {
			// Compensate: remove the payment so history and window agree.
			_ = m.store.DeletePayment(ctx, payment.ID)
			return nil, storeFailure(err)
		}
	}

	member.MembershipEndAt = &newEnd
	m.clearUndone(member.ID)
	return &payment, nil
}

// UndoLastPayment deletes the member's most recent payment and restores
// the window end recorded before it. Fails with ErrNoPaymentToUndo on an
// empty history or when the member's last renewal action was already an
// undo (one level only - older payments are never rolled back).
func (m *MembershipEngine) UndoLastPayment(ctx context.Context, member *Member) (*MembershipPayment, error) {
	if m.justUndone(member.ID) {
		return nil, ErrNoPaymentToUndo
	}
	payments, err := m.store.PaymentsByMember(ctx, member.ID, 1)
	if err != nil {
		return nil, storeFailure(err)
	}
	if len(payments) == 0 {
		return nil, ErrNoPaymentToUndo
	}
	last := payments[0]

	if tx, ok := m.store.(TxStore); ok {
		err := tx.WithTx(ctx, func(s Store) error {
			if err := s.DeletePayment(ctx, last.ID); err != nil {
				return err
			}
			return s.UpdateMembershipEnd(ctx, member.ID, last.PreviousEndAt)
		})
		if err != nil {
			return nil, storeFailure(err)
		}
	} else {
		if err := m.store.DeletePayment(ctx, last.ID); err != nil {
			return nil, storeFailure(err)
		}
		if err := m.store.UpdateMembershipEnd(ctx, member.ID, last.PreviousEndAt); err != nil {
			// Compensate: put the payment back.
			_ = m.store.AppendPayment(ctx, last)
			return nil, storeFailure(err)
		}
	}

	member.MembershipEndAt = last.PreviousEndAt
	m.markUndone(member.ID)
	return &last, nil
}

// Payments returns the member's renewal history, most recent first.
func (m *MembershipEngine) Payments(ctx context.Context, id MemberID, limit int) ([]MembershipPayment, error) {
	payments, err := m.store.PaymentsByMember(ctx, id, limit)
	if err != nil {
		return nil, storeFailure(err)
	}
	return payments, nil
}

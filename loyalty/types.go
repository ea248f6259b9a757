/*
Package loyalty implements the ledger and membership core of a paid
loyalty program.

PURPOSE:
  Members pay a recurring fee to stay active for a rolling 30-day window.
  While active, cash purchases earn delayed, capped cashback which can
  later offset future purchases. This package contains the rules:
  - how much cashback a cash payment earns (cashback.go)
  - which earned cashback is spendable vs still pending (ledger.go)
  - extending and rolling back the membership window (membership.go)
  - composing one purchase end to end (engine.go)

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal currency amount (single currency, no floats)
  - Member: identity plus the membership window end date
  - MembershipPayment: immutable renewal record, undo-able once
  - LedgerEntry: immutable cashback ledger line (earn/spend/adjust)
  - Purchase: one processed sale with its cash/cashback split

DESIGN PRINCIPLES:
  1. Derived balances: usable and pending cashback are always recomputed
     from the entry stream. No stored counter can drift.
  2. Immutability: entries and purchases are never updated. The single
     permitted deletion is the most recent MembershipPayment, by undo.
  3. Precision: decimal.Decimal everywhere money flows.
  4. Explicit time: every computation takes the instant it operates at.

SEE ALSO:
  - store.go: persistence contract these records flow through
  - errors.go: the error kinds operations fail with
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Single-currency decimal amount
// =============================================================================

// Money is a currency amount. The program is single-currency, so no unit
// tag is carried; decimal arithmetic applies directly.
type Money = decimal.Decimal

// MoneyFromInt builds a Money from whole currency units.
func MoneyFromInt(n int64) Money { return decimal.NewFromInt(n) }

// ZeroMoney is the additive identity.
func ZeroMoney() Money { return decimal.Zero }

// MustParseMoney parses a decimal string, panicking on failure. For
// constants and seed data only; parse request input with
// decimal.NewFromString and handle the error.
func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("invalid money literal: " + s)
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID string
type PaymentID string
type EntryID string
type PurchaseID string

// =============================================================================
// MEMBER
// =============================================================================

// Member is a loyalty program participant.
//
// MembershipEndAt is the single source of truth for active status:
// nil or in the past means inactive. There is no stored status flag,
// so the flag and the date can never disagree.
type Member struct {
	ID              MemberID
	Name            string
	Phone           string
	MembershipEndAt *time.Time
	CreatedAt       time.Time
	Archived        bool
}

// =============================================================================
// MEMBERSHIP PAYMENT - One renewal event
// =============================================================================

// MembershipPayment records one membership renewal. It carries the
// member's window end before the payment so the payment can be undone
// exactly. Only the most recent payment per member may be deleted, and
// only by UndoLastPayment.
type MembershipPayment struct {
	ID            PaymentID
	MemberID      MemberID
	Amount        Money
	PreviousEndAt *time.Time
	NewEndAt      time.Time
	PaidAt        time.Time
}

// =============================================================================
// CASHBACK LEDGER ENTRY
// =============================================================================

type EntryType string

const (
	EntryEarn   EntryType = "earn"   // cashback earned on a cash purchase (positive)
	EntrySpend  EntryType = "spend"  // cashback applied to a purchase (negative)
	EntryAdjust EntryType = "adjust" // manual correction (negative)
)

// LedgerEntry is one immutable line in a member's cashback ledger.
//
// Sign convention: earn entries are positive, spend and adjust entries
// are stored negative, so summing a member's stream yields the balance.
// Earn entries carry UsableFrom - the first day of the month after the
// earning purchase - before which the amount is pending, not spendable.
type LedgerEntry struct {
	ID         EntryID
	MemberID   MemberID
	PurchaseID PurchaseID // optional originating purchase
	Type       EntryType
	Amount     Money
	UsableFrom time.Time // earn entries only
	CreatedAt  time.Time
}

// =============================================================================
// PURCHASE - One processed sale
// =============================================================================

// Purchase is one sale processed by the engine: the total, how it was
// split between cash and cashback, and how much cashback it earned.
// DayKey buckets same-day cash for the daily cap rule.
type Purchase struct {
	ID             PurchaseID
	MemberID       MemberID
	At             time.Time
	DayKey         string
	Total          Money
	PaidCash       Money
	PaidCashback   Money
	CashbackEarned Money
}

// =============================================================================
// BALANCE SNAPSHOT - Derived, never stored
// =============================================================================

// BalanceSnapshot is the derived cashback position of a member at an
// instant: what they can spend now and what is still waiting to activate.
type BalanceSnapshot struct {
	MemberID MemberID
	AsOf     time.Time
	Usable   Money
	Pending  Money
}

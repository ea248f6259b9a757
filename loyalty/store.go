/*
store.go - Persistence contract for the loyalty ledger

PURPOSE:
  Defines the interface between the engine and the database. The engine
  is specified against this abstraction; SQLite and in-memory
  implementations live under store/.

MUTATION RULES:
  - LedgerEntry and Purchase streams are APPEND-ONLY to business logic.
    No update method exists for them; corrections are made with adjust
    entries. DeleteEntry and DeletePurchase exist solely so a failed
    compound write can be rolled back on stores without transactions -
    they are never called once a purchase has fully posted.
  - Members are updated only through UpdateMembershipEnd (the renewal
    engine) and SaveMember (registration/archival). Members referenced by
    ledger history are archived, never removed.
  - DeletePayment exists solely so undo can remove the most recent
    MembershipPayment.

ATOMICITY:
  Stores that can run multiple writes in one database transaction
  implement TxStore. The engine uses WithTx when available and falls
  back to compensating writes otherwise, so a payment record and the
  member's window end never diverge, and a purchase never persists
  without its earn/spend entries.

IMPLEMENTATIONS:
  - store/sqlite: production persistence, WAL mode
  - store/memory: tests and development
*/
package loyalty

import (
	"context"
	"time"
)

// Store is the abstract ledger store the engine runs against.
//
// Every call carries a context; implementations surface timeouts and
// conflicts as errors rather than hang. Query results are returned in
// the documented order so the engine never re-sorts.
type Store interface {
	// GetMember returns the member or ErrMemberNotFound.
	GetMember(ctx context.Context, id MemberID) (*Member, error)

	// SaveMember inserts or replaces a member record.
	SaveMember(ctx context.Context, m Member) error

	// ListMembers returns all members ordered by creation time.
	ListMembers(ctx context.Context) ([]Member, error)

	// UpdateMembershipEnd sets the member's window end. A nil end reverts
	// the member to never-paid state (used by undo of a first payment).
	UpdateMembershipEnd(ctx context.Context, id MemberID, end *time.Time) error

	// AppendPayment persists one membership renewal record.
	AppendPayment(ctx context.Context, p MembershipPayment) error

	// DeletePayment removes a payment by ID. Used only by undo.
	DeletePayment(ctx context.Context, id PaymentID) error

	// PaymentsByMember returns the member's payments most-recent-first
	// (by PaidAt), at most limit rows. limit <= 0 means no bound.
	PaymentsByMember(ctx context.Context, id MemberID, limit int) ([]MembershipPayment, error)

	// AppendEntry appends one cashback ledger line. Append-only.
	AppendEntry(ctx context.Context, e LedgerEntry) error

	// DeleteEntry removes an entry by ID. Compensating rollback only.
	DeleteEntry(ctx context.Context, id EntryID) error

	// EntriesByMember returns the member's ledger lines chronologically.
	EntriesByMember(ctx context.Context, id MemberID) ([]LedgerEntry, error)

	// AppendPurchase persists one processed purchase. Append-only.
	AppendPurchase(ctx context.Context, p Purchase) error

	// DeletePurchase removes a purchase by ID. Compensating rollback only.
	DeletePurchase(ctx context.Context, id PurchaseID) error

	// PurchasesByMemberDay returns the member's purchases within one
	// day-key bucket, chronologically.
	PurchasesByMemberDay(ctx context.Context, id MemberID, dayKey string) ([]Purchase, error)

	// PurchasesByMember returns the member's purchases chronologically.
	PurchasesByMember(ctx context.Context, id MemberID) ([]Purchase, error)
}

// TxStore extends Store with transaction support.
//
// WithTx executes fn against a transactional view; if fn returns an
// error every write inside it is rolled back.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

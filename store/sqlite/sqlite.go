/*
Package sqlite provides the SQLite-backed Store implementation.

PURPOSE:
  Production persistence for members, membership payments, cashback
  ledger entries, and purchases. The same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

MUTATION CONTRACT:
  - ledger_entries and purchases are append-only to business logic: no
    UPDATE exists for them, and their DELETE-by-primary-key statements
    serve only compensating rollback of a failed compound write.
  - members are updated only via SaveMember and UpdateMembershipEnd.
  - membership_payments supports a single DELETE by primary key, used
    exclusively by the undo operation.

TRANSACTIONS:
  WithTx runs the callback against a view bound to one database
  transaction, so a payment append and the member window update - or a
  purchase and its ledger entries - commit or roll back together.

WAL MODE:
  The database is opened with WAL journaling: readers don't block, a
  single writer at a time, better crash recovery.

MONEY ENCODING:
  Amounts are stored as TEXT via decimal.String() and parsed back with
  decimal.NewFromString, preserving exactness.

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil { log.Fatal(err) }
  defer store.Close()
  engine := loyalty.NewEngine(store, cal, cashbackPolicy, membershipPolicy)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/meridian/loyalty-engine/loyalty"
)

// Store implements loyalty.TxStore using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer keeps SQLite happy under concurrent API calls.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		membership_end_at TEXT,
		created_at TEXT NOT NULL,
		archived INTEGER NOT NULL DEFAULT 0
	);

	-- Renewal history. DELETE path serves the undo operation.
	CREATE TABLE IF NOT EXISTS membership_payments (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL REFERENCES members(id),
		amount TEXT NOT NULL,
		previous_end_at TEXT,
		new_end_at TEXT NOT NULL,
		paid_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_member_paid
		ON membership_payments(member_id, paid_at DESC);

	-- Append-only cashback ledger.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL REFERENCES members(id),
		purchase_id TEXT,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		usable_from TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_member_created
		ON ledger_entries(member_id, created_at);

	-- Append-only purchase log. day_key buckets the daily cap rule.
	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL REFERENCES members(id),
		at TEXT NOT NULL,
		day_key TEXT NOT NULL,
		total TEXT NOT NULL,
		paid_cash TEXT NOT NULL,
		paid_cashback TEXT NOT NULL,
		cashback_earned TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_purchases_member_day
		ON purchases(member_id, day_key);
	`
	_, err := s.db.Exec(schema)
	return err
}

// queryer abstracts *sql.DB and *sql.Tx so the same statement helpers
// serve both direct calls and WithTx views.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TIME / MONEY ENCODING
// =============================================================================

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func decodeTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := decodeTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeMoney(s string) (loyalty.Money, error) { return decimal.NewFromString(s) }

// =============================================================================
// MEMBERS
// =============================================================================

func getMember(ctx context.Context, q queryer, id loyalty.MemberID) (*loyalty.Member, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, name, phone, membership_end_at, created_at, archived
		 FROM members WHERE id = ?`, string(id))

	var m loyalty.Member
	var endAt sql.NullString
	var createdAt, memberID string
	if err := row.Scan(&memberID, &m.Name, &m.Phone, &endAt, &createdAt, &m.Archived); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loyalty.ErrMemberNotFound
		}
		return nil, err
	}
	m.ID = loyalty.MemberID(memberID)

	var err error
	if m.MembershipEndAt, err = decodeTimePtr(endAt); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMember(ctx context.Context, id loyalty.MemberID) (*loyalty.Member, error) {
	return getMember(ctx, s.db, id)
}

func saveMember(ctx context.Context, q queryer, m loyalty.Member) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO members (id, name, phone, membership_end_at, created_at, archived)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   phone = excluded.phone,
		   membership_end_at = excluded.membership_end_at,
		   archived = excluded.archived`,
		string(m.ID), m.Name, m.Phone, encodeTimePtr(m.MembershipEndAt),
		encodeTime(m.CreatedAt), m.Archived)
	return err
}

func (s *Store) SaveMember(ctx context.Context, m loyalty.Member) error {
	return saveMember(ctx, s.db, m)
}

func listMembers(ctx context.Context, q queryer) ([]loyalty.Member, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, phone, membership_end_at, created_at, archived
		 FROM members ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []loyalty.Member
	for rows.Next() {
		var m loyalty.Member
		var endAt sql.NullString
		var createdAt, memberID string
		if err := rows.Scan(&memberID, &m.Name, &m.Phone, &endAt, &createdAt, &m.Archived); err != nil {
			return nil, err
		}
		m.ID = loyalty.MemberID(memberID)
		if m.MembershipEndAt, err = decodeTimePtr(endAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) ListMembers(ctx context.Context) ([]loyalty.Member, error) {
	return listMembers(ctx, s.db)
}

func updateMembershipEnd(ctx context.Context, q queryer, id loyalty.MemberID, end *time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE members SET membership_end_at = ? WHERE id = ?`,
		encodeTimePtr(end), string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loyalty.ErrMemberNotFound
	}
	return nil
}

func (s *Store) UpdateMembershipEnd(ctx context.Context, id loyalty.MemberID, end *time.Time) error {
	return updateMembershipEnd(ctx, s.db, id, end)
}

// =============================================================================
// MEMBERSHIP PAYMENTS
// =============================================================================

func appendPayment(ctx context.Context, q queryer, p loyalty.MembershipPayment) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO membership_payments (id, member_id, amount, previous_end_at, new_end_at, paid_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(p.ID), string(p.MemberID), p.Amount.String(),
		encodeTimePtr(p.PreviousEndAt), encodeTime(p.NewEndAt), encodeTime(p.PaidAt))
	return err
}

func (s *Store) AppendPayment(ctx context.Context, p loyalty.MembershipPayment) error {
	return appendPayment(ctx, s.db, p)
}

func deletePayment(ctx context.Context, q queryer, id loyalty.PaymentID) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM membership_payments WHERE id = ?`, string(id))
	return err
}

func (s *Store) DeletePayment(ctx context.Context, id loyalty.PaymentID) error {
	return deletePayment(ctx, s.db, id)
}

func paymentsByMember(ctx context.Context, q queryer, id loyalty.MemberID, limit int) ([]loyalty.MembershipPayment, error) {
	query := `SELECT id, member_id, amount, previous_end_at, new_end_at, paid_at
	          FROM membership_payments WHERE member_id = ? ORDER BY paid_at DESC`
	args := []any{string(id)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []loyalty.MembershipPayment
	for rows.Next() {
		var p loyalty.MembershipPayment
		var paymentID, memberID, amount, newEnd, paidAt string
		var prevEnd sql.NullString
		if err := rows.Scan(&paymentID, &memberID, &amount, &prevEnd, &newEnd, &paidAt); err != nil {
			return nil, err
		}
		p.ID = loyalty.PaymentID(paymentID)
		p.MemberID = loyalty.MemberID(memberID)
		if p.Amount, err = decodeMoney(amount); err != nil {
			return nil, err
		}
		if p.PreviousEndAt, err = decodeTimePtr(prevEnd); err != nil {
			return nil, err
		}
		if p.NewEndAt, err = decodeTime(newEnd); err != nil {
			return nil, err
		}
		if p.PaidAt, err = decodeTime(paidAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) PaymentsByMember(ctx context.Context, id loyalty.MemberID, limit int) ([]loyalty.MembershipPayment, error) {
	return paymentsByMember(ctx, s.db, id, limit)
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func appendEntry(ctx context.Context, q queryer, e loyalty.LedgerEntry) error {
	var usableFrom any
	if !e.UsableFrom.IsZero() {
		usableFrom = encodeTime(e.UsableFrom)
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, member_id, purchase_id, entry_type, amount, usable_from, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.MemberID), string(e.PurchaseID), string(e.Type),
		e.Amount.String(), usableFrom, encodeTime(e.CreatedAt))
	return err
}

func (s *Store) AppendEntry(ctx context.Context, e loyalty.LedgerEntry) error {
	return appendEntry(ctx, s.db, e)
}

func deleteEntry(ctx context.Context, q queryer, id loyalty.EntryID) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM ledger_entries WHERE id = ?`, string(id))
	return err
}

func (s *Store) DeleteEntry(ctx context.Context, id loyalty.EntryID) error {
	return deleteEntry(ctx, s.db, id)
}

func entriesByMember(ctx context.Context, q queryer, id loyalty.MemberID) ([]loyalty.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, member_id, purchase_id, entry_type, amount, usable_from, created_at
		 FROM ledger_entries WHERE member_id = ? ORDER BY created_at, id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []loyalty.LedgerEntry
	for rows.Next() {
		var e loyalty.LedgerEntry
		var entryID, memberID, purchaseID, entryType, amount, createdAt string
		var usableFrom sql.NullString
		if err := rows.Scan(&entryID, &memberID, &purchaseID, &entryType, &amount, &usableFrom, &createdAt); err != nil {
			return nil, err
		}
		e.ID = loyalty.EntryID(entryID)
		e.MemberID = loyalty.MemberID(memberID)
		e.PurchaseID = loyalty.PurchaseID(purchaseID)
		e.Type = loyalty.EntryType(entryType)
		if e.Amount, err = decodeMoney(amount); err != nil {
			return nil, err
		}
		if usableFrom.Valid {
			if e.UsableFrom, err = decodeTime(usableFrom.String); err != nil {
				return nil, err
			}
		}
		if e.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) EntriesByMember(ctx context.Context, id loyalty.MemberID) ([]loyalty.LedgerEntry, error) {
	return entriesByMember(ctx, s.db, id)
}

// =============================================================================
// PURCHASES
// =============================================================================

func appendPurchase(ctx context.Context, q queryer, p loyalty.Purchase) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO purchases (id, member_id, at, day_key, total, paid_cash, paid_cashback, cashback_earned)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), string(p.MemberID), encodeTime(p.At), p.DayKey,
		p.Total.String(), p.PaidCash.String(), p.PaidCashback.String(), p.CashbackEarned.String())
	return err
}

func (s *Store) AppendPurchase(ctx context.Context, p loyalty.Purchase) error {
	return appendPurchase(ctx, s.db, p)
}

func deletePurchase(ctx context.Context, q queryer, id loyalty.PurchaseID) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM purchases WHERE id = ?`, string(id))
	return err
}

func (s *Store) DeletePurchase(ctx context.Context, id loyalty.PurchaseID) error {
	return deletePurchase(ctx, s.db, id)
}

func scanPurchases(rows *sql.Rows) ([]loyalty.Purchase, error) {
	var purchases []loyalty.Purchase
	for rows.Next() {
		var p loyalty.Purchase
		var purchaseID, memberID, at, total, cash, cashback, earned string
		if err := rows.Scan(&purchaseID, &memberID, &at, &p.DayKey, &total, &cash, &cashback, &earned); err != nil {
			return nil, err
		}
		p.ID = loyalty.PurchaseID(purchaseID)
		p.MemberID = loyalty.MemberID(memberID)
		var err error
		if p.At, err = decodeTime(at); err != nil {
			return nil, err
		}
		if p.Total, err = decodeMoney(total); err != nil {
			return nil, err
		}
		if p.PaidCash, err = decodeMoney(cash); err != nil {
			return nil, err
		}
		if p.PaidCashback, err = decodeMoney(cashback); err != nil {
			return nil, err
		}
		if p.CashbackEarned, err = decodeMoney(earned); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func purchasesByMemberDay(ctx context.Context, q queryer, id loyalty.MemberID, dayKey string) ([]loyalty.Purchase, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, member_id, at, day_key, total, paid_cash, paid_cashback, cashback_earned
		 FROM purchases WHERE member_id = ? AND day_key = ? ORDER BY at, id`,
		string(id), dayKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPurchases(rows)
}

func (s *Store) PurchasesByMemberDay(ctx context.Context, id loyalty.MemberID, dayKey string) ([]loyalty.Purchase, error) {
	return purchasesByMemberDay(ctx, s.db, id, dayKey)
}

func purchasesByMember(ctx context.Context, q queryer, id loyalty.MemberID) ([]loyalty.Purchase, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, member_id, at, day_key, total, paid_cash, paid_cashback, cashback_earned
		 FROM purchases WHERE member_id = ? ORDER BY at, id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPurchases(rows)
}

func (s *Store) PurchasesByMember(ctx context.Context, id loyalty.MemberID) ([]loyalty.Purchase, error) {
	return purchasesByMember(ctx, s.db, id)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a view bound to one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(loyalty.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&txStore{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// txStore is the Store view inside WithTx.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) GetMember(ctx context.Context, id loyalty.MemberID) (*loyalty.Member, error) {
	return getMember(ctx, t.tx, id)
}
func (t *txStore) SaveMember(ctx context.Context, m loyalty.Member) error {
	return saveMember(ctx, t.tx, m)
}
func (t *txStore) ListMembers(ctx context.Context) ([]loyalty.Member, error) {
	return listMembers(ctx, t.tx)
}
func (t *txStore) UpdateMembershipEnd(ctx context.Context, id loyalty.MemberID, end *time.Time) error {
	return updateMembershipEnd(ctx, t.tx, id, end)
}
func (t *txStore) AppendPayment(ctx context.Context, p loyalty.MembershipPayment) error {
	return appendPayment(ctx, t.tx, p)
}
func (t *txStore) DeletePayment(ctx context.Context, id loyalty.PaymentID) error {
	return deletePayment(ctx, t.tx, id)
}
func (t *txStore) PaymentsByMember(ctx context.Context, id loyalty.MemberID, limit int) ([]loyalty.MembershipPayment, error) {
	return paymentsByMember(ctx, t.tx, id, limit)
}
func (t *txStore) AppendEntry(ctx context.Context, e loyalty.LedgerEntry) error {
	return appendEntry(ctx, t.tx, e)
}
func (t *txStore) DeleteEntry(ctx context.Context, id loyalty.EntryID) error {
	return deleteEntry(ctx, t.tx, id)
}
func (t *txStore) EntriesByMember(ctx context.Context, id loyalty.MemberID) ([]loyalty.LedgerEntry, error) {
	return entriesByMember(ctx, t.tx, id)
}
func (t *txStore) AppendPurchase(ctx context.Context, p loyalty.Purchase) error {
	return appendPurchase(ctx, t.tx, p)
}
func (t *txStore) DeletePurchase(ctx context.Context, id loyalty.PurchaseID) error {
	return deletePurchase(ctx, t.tx, id)
}
func (t *txStore) PurchasesByMemberDay(ctx context.Context, id loyalty.MemberID, dayKey string) ([]loyalty.Purchase, error) {
	return purchasesByMemberDay(ctx, t.tx, id, dayKey)
}
func (t *txStore) PurchasesByMember(ctx context.Context, id loyalty.MemberID) ([]loyalty.Purchase, error) {
	return purchasesByMember(ctx, t.tx, id)
}

var _ loyalty.TxStore = (*Store)(nil)

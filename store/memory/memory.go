// Package memory provides an in-memory Store implementation for tests
// and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meridian/loyalty-engine/loyalty"
)

// Store keeps all records in maps guarded by one RWMutex. Entry and
// purchase slices are kept in insertion order, which is chronological
// because the engine appends as events happen.
type Store struct {
	mu        sync.RWMutex
	members   map[loyalty.MemberID]loyalty.Member
	memberSeq []loyalty.MemberID
	payments  map[loyalty.MemberID][]loyalty.MembershipPayment
	entries   map[loyalty.MemberID][]loyalty.LedgerEntry
	purchases map[loyalty.MemberID][]loyalty.Purchase
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		members:   make(map[loyalty.MemberID]loyalty.Member),
		payments:  make(map[loyalty.MemberID][]loyalty.MembershipPayment),
		entries:   make(map[loyalty.MemberID][]loyalty.LedgerEntry),
		purchases: make(map[loyalty.MemberID][]loyalty.Purchase),
	}
}

// =============================================================================
// MEMBERS
// =============================================================================

func (s *Store) GetMember(_ context.Context, id loyalty.MemberID) (*loyalty.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, loyalty.ErrMemberNotFound
	}
	out := m
	return &out, nil
}

func (s *Store) SaveMember(_ context.Context, m loyalty.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.ID]; !ok {
		s.memberSeq = append(s.memberSeq, m.ID)
	}
	s.members[m.ID] = m
	return nil
}

func (s *Store) ListMembers(_ context.Context) ([]loyalty.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loyalty.Member, 0, len(s.memberSeq))
	for _, id := range s.memberSeq {
		out = append(out, s.members[id])
	}
	return out, nil
}

func (s *Store) UpdateMembershipEnd(_ context.Context, id loyalty.MemberID, end *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return loyalty.ErrMemberNotFound
	}
	m.MembershipEndAt = end
	s.members[id] = m
	return nil
}

// =============================================================================
// MEMBERSHIP PAYMENTS
// =============================================================================

func (s *Store) AppendPayment(_ context.Context, p loyalty.MembershipPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.MemberID] = append(s.payments[p.MemberID], p)
	return nil
}

func (s *Store) DeletePayment(_ context.Context, id loyalty.PaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for memberID, list := range s.payments {
		for i, p := range list {
			if p.ID == id {
				s.payments[memberID] = append(list[:i:i], list[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("payment %s not found", id)
}

func (s *Store) PaymentsByMember(_ context.Context, id loyalty.MemberID, limit int) ([]loyalty.MembershipPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := append([]loyalty.MembershipPayment(nil), s.payments[id]...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].PaidAt.After(list[j].PaidAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func (s *Store) AppendEntry(_ context.Context, e loyalty.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.MemberID] = append(s.entries[e.MemberID], e)
	return nil
}

func (s *Store) DeleteEntry(_ context.Context, id loyalty.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for memberID, list := range s.entries {
		for i, e := range list {
			if e.ID == id {
				s.entries[memberID] = append(list[:i:i], list[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("entry %s not found", id)
}

func (s *Store) EntriesByMember(_ context.Context, id loyalty.MemberID) ([]loyalty.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]loyalty.LedgerEntry(nil), s.entries[id]...), nil
}

// =============================================================================
// PURCHASES
// =============================================================================

func (s *Store) AppendPurchase(_ context.Context, p loyalty.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[p.MemberID] = append(s.purchases[p.MemberID], p)
	return nil
}

func (s *Store) DeletePurchase(_ context.Context, id loyalty.PurchaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for memberID, list := range s.purchases {
		for i, p := range list {
			if p.ID == id {
				s.purchases[memberID] = append(list[:i:i], list[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("purchase %s not found", id)
}

func (s *Store) PurchasesByMemberDay(_ context.Context, id loyalty.MemberID, dayKey string) ([]loyalty.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []loyalty.Purchase
	for _, p := range s.purchases[id] {
		if p.DayKey == dayKey {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) PurchasesByMember(_ context.Context, id loyalty.MemberID) ([]loyalty.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]loyalty.Purchase(nil), s.purchases[id]...), nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with snapshot/rollback transactions.
type TxStore struct {
	*Store
}

// NewTx creates a transactional in-memory store.
func NewTx() *TxStore {
	return &TxStore{Store: New()}
}

// WithTx runs fn against the store; on error the pre-call state is
// restored. Simulated with a full snapshot, which is fine at test scale.
func (t *TxStore) WithTx(_ context.Context, fn func(loyalty.Store) error) error {
	snap := t.snapshot()
	if err := fn(&txView{parent: t.Store}); err != nil {
		t.restore(snap)
		return err
	}
	return nil
}

type storeSnapshot struct {
	members   map[loyalty.MemberID]loyalty.Member
	memberSeq []loyalty.MemberID
	payments  map[loyalty.MemberID][]loyalty.MembershipPayment
	entries   map[loyalty.MemberID][]loyalty.LedgerEntry
	purchases map[loyalty.MemberID][]loyalty.Purchase
}

func (t *TxStore) snapshot() storeSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := storeSnapshot{
		members:   make(map[loyalty.MemberID]loyalty.Member, len(t.members)),
		memberSeq: append([]loyalty.MemberID(nil), t.memberSeq...),
		payments:  make(map[loyalty.MemberID][]loyalty.MembershipPayment, len(t.payments)),
		entries:   make(map[loyalty.MemberID][]loyalty.LedgerEntry, len(t.entries)),
		purchases: make(map[loyalty.MemberID][]loyalty.Purchase, len(t.purchases)),
	}
	for k, v := range t.members {
		snap.members[k] = v
	}
	for k, v := range t.payments {
		snap.payments[k] = append([]loyalty.MembershipPayment(nil), v...)
	}
	for k, v := range t.entries {
		snap.entries[k] = append([]loyalty.LedgerEntry(nil), v...)
	}
	for k, v := range t.purchases {
		snap.purchases[k] = append([]loyalty.Purchase(nil), v...)
	}
	return snap
}

func (t *TxStore) restore(snap storeSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members = snap.members
	t.memberSeq = snap.memberSeq
	t.payments = snap.payments
	t.entries = snap.entries
	t.purchases = snap.purchases
}

// txView forwards to the parent store; rollback is handled by WithTx.
type txView struct {
	parent *Store
}

func (v *txView) GetMember(ctx context.Context, id loyalty.MemberID) (*loyalty.Member, error) {
	return v.parent.GetMember(ctx, id)
}
func (v *txView) SaveMember(ctx context.Context, m loyalty.Member) error {
	return v.parent.SaveMember(ctx, m)
}
func (v *txView) ListMembers(ctx context.Context) ([]loyalty.Member, error) {
	return v.parent.ListMembers(ctx)
}
func (v *txView) UpdateMembershipEnd(ctx context.Context, id loyalty.MemberID, end *time.Time) error {
	return v.parent.UpdateMembershipEnd(ctx, id, end)
}
func (v *txView) AppendPayment(ctx context.Context, p loyalty.MembershipPayment) error {
	return v.parent.AppendPayment(ctx, p)
}
func (v *txView) DeletePayment(ctx context.Context, id loyalty.PaymentID) error {
	return v.parent.DeletePayment(ctx, id)
}
func (v *txView) PaymentsByMember(ctx context.Context, id loyalty.MemberID, limit int) ([]loyalty.MembershipPayment, error) {
	return v.parent.PaymentsByMember(ctx, id, limit)
}
func (v *txView) AppendEntry(ctx context.Context, e loyalty.LedgerEntry) error {
	return v.parent.AppendEntry(ctx, e)
}
func (v *txView) DeleteEntry(ctx context.Context, id loyalty.EntryID) error {
	return v.parent.DeleteEntry(ctx, id)
}
func (v *txView) EntriesByMember(ctx context.Context, id loyalty.MemberID) ([]loyalty.LedgerEntry, error) {
	return v.parent.EntriesByMember(ctx, id)
}
func (v *txView) AppendPurchase(ctx context.Context, p loyalty.Purchase) error {
	return v.parent.AppendPurchase(ctx, p)
}
func (v *txView) DeletePurchase(ctx context.Context, id loyalty.PurchaseID) error {
	return v.parent.DeletePurchase(ctx, id)
}
func (v *txView) PurchasesByMemberDay(ctx context.Context, id loyalty.MemberID, dayKey string) ([]loyalty.Purchase, error) {
	return v.parent.PurchasesByMemberDay(ctx, id, dayKey)
}
func (v *txView) PurchasesByMember(ctx context.Context, id loyalty.MemberID) ([]loyalty.Purchase, error) {
	return v.parent.PurchasesByMember(ctx, id)
}

var (
	_ loyalty.Store   = (*Store)(nil)
	_ loyalty.TxStore = (*TxStore)(nil)
)

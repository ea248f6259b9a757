/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the wire contract
  from the domain types. Monetary amounts travel as decimal strings so
  clients never see float artifacts.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients
*/
package api

import (
	"time"

	"github.com/meridian/loyalty-engine/loyalty"
)

// MemberDTO represents a member in API responses.
type MemberDTO struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Phone           string  `json:"phone,omitempty"`
	Active          bool    `json:"active"`
	MembershipEndAt *string `json:"membership_end_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
	Archived        bool    `json:"archived,omitempty"`
}

// RegisterMemberRequest is the request to register a member.
type RegisterMemberRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// BalanceDTO is the member's cashback position.
type BalanceDTO struct {
	MemberID string `json:"member_id"`
	AsOf     string `json:"as_of"`
	Usable   string `json:"usable"`
	Pending  string `json:"pending"`
}

// PostPurchaseRequest is the request to process a purchase.
// CashbackToUse of zero (or omitted) means cash-only.
type PostPurchaseRequest struct {
	Total         string `json:"total"`
	CashbackToUse string `json:"cashback_to_use,omitempty"`
	At            string `json:"at,omitempty"` // RFC3339; defaults to now
}

// PurchaseDTO represents a processed purchase.
type PurchaseDTO struct {
	ID             string `json:"id"`
	MemberID       string `json:"member_id"`
	At             string `json:"at"`
	DayKey         string `json:"day_key"`
	Total          string `json:"total"`
	PaidCash       string `json:"paid_cash"`
	PaidCashback   string `json:"paid_cashback"`
	CashbackEarned string `json:"cashback_earned"`
}

// PayMembershipRequest is the request to record a fee payment.
type PayMembershipRequest struct {
	Amount string `json:"amount"`
	PaidAt string `json:"paid_at,omitempty"` // RFC3339; defaults to now
}

// MembershipPaymentDTO represents one renewal record.
type MembershipPaymentDTO struct {
	ID            string  `json:"id"`
	MemberID      string  `json:"member_id"`
	Amount        string  `json:"amount"`
	PreviousEndAt *string `json:"previous_end_at,omitempty"`
	NewEndAt      string  `json:"new_end_at"`
	PaidAt        string  `json:"paid_at"`
}

// LedgerEntryDTO represents one cashback ledger line.
type LedgerEntryDTO struct {
	ID         string `json:"id"`
	PurchaseID string `json:"purchase_id,omitempty"`
	Type       string `json:"type"`
	Amount     string `json:"amount"`
	UsableFrom string `json:"usable_from,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toMemberDTO(m loyalty.Member, active bool) MemberDTO {
	dto := MemberDTO{
		ID:        string(m.ID),
		Name:      m.Name,
		Phone:     m.Phone,
		Active:    active,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
		Archived:  m.Archived,
	}
	if m.MembershipEndAt != nil {
		s := m.MembershipEndAt.Format(time.RFC3339)
		dto.MembershipEndAt = &s
	}
	return dto
}

func toPurchaseDTO(p loyalty.Purchase) PurchaseDTO {
	return PurchaseDTO{
		ID:             string(p.ID),
		MemberID:       string(p.MemberID),
		At:             p.At.Format(time.RFC3339),
		DayKey:         p.DayKey,
		Total:          p.Total.String(),
		PaidCash:       p.PaidCash.String(),
		PaidCashback:   p.PaidCashback.String(),
		CashbackEarned: p.CashbackEarned.String(),
	}
}

func toPaymentDTO(p loyalty.MembershipPayment) MembershipPaymentDTO {
	dto := MembershipPaymentDTO{
		ID:       string(p.ID),
		MemberID: string(p.MemberID),
		Amount:   p.Amount.String(),
		NewEndAt: p.NewEndAt.Format(time.RFC3339),
		PaidAt:   p.PaidAt.Format(time.RFC3339),
	}
	if p.PreviousEndAt != nil {
		s := p.PreviousEndAt.Format(time.RFC3339)
		dto.PreviousEndAt = &s
	}
	return dto
}

func toEntryDTO(e loyalty.LedgerEntry) LedgerEntryDTO {
	dto := LedgerEntryDTO{
		ID:         string(e.ID),
		PurchaseID: string(e.PurchaseID),
		Type:       string(e.Type),
		Amount:     e.Amount.String(),
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
	if !e.UsableFrom.IsZero() {
		dto.UsableFrom = e.UsableFrom.Format(time.RFC3339)
	}
	return dto
}

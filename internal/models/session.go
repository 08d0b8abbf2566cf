package models

import (
	"fmt"
	"time"
)

// SessionStatus enumerates parking session states.
type SessionStatus string

// Session statuses. A session moves from active to completed exactly once.
const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

// PaymentStatus enumerates payment states.
type PaymentStatus string

// Payment statuses.
const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Payment is the billing sub-record of a session.
type Payment struct {
	Status      PaymentStatus `json:"status"`
	AmountCents int64         `json:"amount_cents"`
	Currency    string        `json:"currency,omitempty"`
	PaymentURL  string        `json:"payment_url,omitempty"`
	Reference   string        `json:"reference,omitempty"`
}

// Session represents one parking occupancy record as returned by the backend.
type Session struct {
	ID            string        `json:"id"`
	LotID         string        `json:"lot_id"`
	LotName       string        `json:"lot_name,omitempty"`
	Plate         string        `json:"plate"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	Status        SessionStatus `json:"status"`
	AmountCents   *int64        `json:"amount_cents,omitempty"`
	Currency      string        `json:"currency"`
	Payment       Payment       `json:"payment"`
	PaymentStatus string        `json:"payment_status,omitempty"`
	ReceiptPDFURL string        `json:"receipt_pdf_url,omitempty"`
}

// Active reports whether the session is still accruing cost.
func (s *Session) Active() bool {
	return s != nil && s.Status == SessionStatusActive
}

// Completed reports whether the session has ended.
func (s *Session) Completed() bool {
	return s != nil && s.Status == SessionStatusCompleted
}

// Paid reports whether the backend confirmed payment. Older backends only fill payment_status.
func (s *Session) Paid() bool {
	if s == nil {
		return false
	}
	return s.Payment.Status == PaymentStatusPaid || s.PaymentStatus == string(PaymentStatusPaid)
}

// PaymentFailed reports whether the last payment attempt failed.
func (s *Session) PaymentFailed() bool {
	if s == nil {
		return false
	}
	return s.Payment.Status == PaymentStatusFailed || s.PaymentStatus == string(PaymentStatusFailed)
}

// BilledCents returns the amount recorded on the session, falling back to the payment amount.
func (s *Session) BilledCents() int64 {
	if s == nil {
		return 0
	}
	if s.AmountCents != nil {
		return *s.AmountCents
	}
	return s.Payment.AmountCents
}

// DisplayLot returns the lot name when known, otherwise its id.
func (s *Session) DisplayLot() string {
	if s.LotName != "" {
		return s.LotName
	}
	return s.LotID
}

// FormatCents renders an integer cents amount as "12.34 RWF".
func FormatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	amount := fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
	if currency == "" {
		return amount
	}
	return amount + " " + currency
}

// Package loan holds the installment ledger model shared by the core engines,
// the gateway and the backend API.
package loan

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PageSize is the number of entries grouped on one ledger page.
const PageSize = 10

// PageFor returns the 1-based page holding the given serial number.
func PageFor(serial int) int {
	if serial < 1 {
		return 1
	}
	return (serial + PageSize - 1) / PageSize
}

// PageCount returns the number of pages needed for n entries.
func PageCount(n int) int {
	if n <= 0 {
		return 1
	}
	return PageFor(n)
}

// ============================================================================
// BOOK
// ============================================================================

// BookStatus represents the lifecycle of a book.
type BookStatus string

const (
	BookActive BookStatus = "active"
	BookClosed BookStatus = "closed"
)

// IsValid checks if the status is known.
func (s BookStatus) IsValid() bool {
	switch s {
	case BookActive, BookClosed:
		return true
	default:
		return false
	}
}

// Book is a single installment loan with a fixed principal and day count.
type Book struct {
	ID           uuid.UUID       `json:"id"`
	OwnerID      string          `json:"ownerId"`
	Name         string          `json:"name"`
	LoanAmount   decimal.Decimal `json:"loanAmount"`
	StartDate    Date            `json:"startDate"`
	NumberOfDays int             `json:"numberOfDays"`
	Status       BookStatus      `json:"status"`
	Members      []string        `json:"members,omitempty"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// IsOwner reports whether userID owns the book.
func (b Book) IsOwner(userID string) bool {
	return userID != "" && b.OwnerID == userID
}

// IsParty reports whether userID owns the book or has it shared with them.
func (b Book) IsParty(userID string) bool {
	if userID == "" {
		return false
	}
	if b.OwnerID == userID {
		return true
	}
	for _, m := range b.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// IsClosed reports whether the book no longer accepts ledger mutations.
func (b Book) IsClosed() bool {
	return b.Status == BookClosed
}

// ============================================================================
// SIGNATURE STATUS
// ============================================================================

// SignatureStatus is the closed set of counter-signature states of an entry.
type SignatureStatus uint8

const (
	SignatureNone SignatureStatus = iota
	SignatureRequested
	SignatureApproved
	SignatureRejected
)

// String returns the wire name of the status.
func (s SignatureStatus) String() string {
	switch s {
	case SignatureNone:
		return "none"
	case SignatureRequested:
		return "requested"
	case SignatureApproved:
		return "approved"
	case SignatureRejected:
		return "rejected"
	}
	return fmt.Sprintf("SignatureStatus(%d)", uint8(s))
}

// ParseSignatureStatus maps a wire name to a status. Unknown names are an error.
func ParseSignatureStatus(raw string) (SignatureStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return SignatureNone, nil
	case "requested":
		return SignatureRequested, nil
	case "approved":
		return SignatureApproved, nil
	case "rejected":
		return SignatureRejected, nil
	}
	return SignatureNone, fmt.Errorf("loan: unknown signature status %q", raw)
}

// MarshalText implements encoding.TextMarshaler.
func (s SignatureStatus) MarshalText() ([]byte, error) {
	switch s {
	case SignatureNone, SignatureRequested, SignatureApproved, SignatureRejected:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("loan: invalid signature status %d", uint8(s))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SignatureStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseSignatureStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ============================================================================
// ENTRY
// ============================================================================

// Entry is one day's ledger line.
type Entry struct {
	ID              uuid.UUID           `json:"id"`
	BookID          uuid.UUID           `json:"bookId"`
	SerialNumber    int                 `json:"serialNumber"`
	PageNumber      int                 `json:"pageNumber"`
	Date            Date                `json:"date"`
	Amount          decimal.NullDecimal `json:"amount"`
	Remaining       decimal.NullDecimal `json:"remaining"`
	SignatureStatus SignatureStatus     `json:"signatureStatus"`
	RequestedBy     string              `json:"requestedBy,omitempty"`
	SignedBy        string              `json:"signedBy,omitempty"`
	SignedAt        *time.Time          `json:"signedAt,omitempty"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// Persisted reports whether the entry has been assigned an id by a saved batch.
func (e Entry) Persisted() bool {
	return e.ID != uuid.Nil
}

// Filled reports whether the entry carries an amount.
func (e Entry) Filled() bool {
	return e.Amount.Valid
}

// HasData reports whether any ledger field has been set.
func (e Entry) HasData() bool {
	return !e.Date.IsZero() || e.Amount.Valid || e.Remaining.Valid
}

// ClearSignature drops every signature field and demotes the entry to none.
func (e *Entry) ClearSignature() {
	e.SignatureStatus = SignatureNone
	e.RequestedBy = ""
	e.SignedBy = ""
	e.SignedAt = nil
}

// Amount wraps a decimal as a present amount.
func Amount(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// ParseAmount parses user input as a decimal. Missing or non-numeric input is zero.
func ParseAmount(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

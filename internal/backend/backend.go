// Package backend is the client side of the loanbook API: the collaborator
// that owns persistent books and entries.
package backend

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/loan"
)

// Backend is every operation the core needs from the persistent store. Each
// call acts for the given session.
type Backend interface {
	ListBooks(ctx context.Context, sess auth.Session) ([]loan.Book, error)
	GetBook(ctx context.Context, sess auth.Session, id uuid.UUID) (loan.Book, error)
	CreateBook(ctx context.Context, sess auth.Session, in NewBook) (loan.Book, error)
	UpdateBook(ctx context.Context, sess auth.Session, id uuid.UUID, in BookUpdate) (loan.Book, error)
	SetBookStatus(ctx context.Context, sess auth.Session, id uuid.UUID, status loan.BookStatus) (loan.Book, error)
	DeleteBook(ctx context.Context, sess auth.Session, id uuid.UUID) error

	ListEntries(ctx context.Context, sess auth.Session, bookID uuid.UUID) ([]loan.Entry, error)
	SaveEntries(ctx context.Context, sess auth.Session, bookID uuid.UUID, entries []loan.Entry) ([]loan.Entry, error)

	RequestSignature(ctx context.Context, sess auth.Session, entryID uuid.UUID) (loan.Entry, error)
	ApproveSignature(ctx context.Context, sess auth.Session, entryID uuid.UUID) (loan.Entry, error)
	RejectSignature(ctx context.Context, sess auth.Session, entryID uuid.UUID) (loan.Entry, error)

	Share(ctx context.Context, sess auth.Session, bookID uuid.UUID, userID string) error
	Unshare(ctx context.Context, sess auth.Session, bookID uuid.UUID, userID string) error
	ListShares(ctx context.Context, sess auth.Session, bookID uuid.UUID) ([]string, error)
}

// NewBook is the input for creating a book.
type NewBook struct {
	Name         string          `json:"name" validate:"required,max=120"`
	LoanAmount   decimal.Decimal `json:"loanAmount"`
	StartDate    loan.Date       `json:"startDate"`
	NumberOfDays int             `json:"numberOfDays" validate:"required,min=1,max=3650"`
}

// Validate checks the fields the struct tags cannot express.
func (n NewBook) Validate() error {
	if n.LoanAmount.IsNegative() || n.LoanAmount.IsZero() {
		return &loan.ValidationError{Field: "loanAmount", Reason: "must be positive"}
	}
	if n.StartDate.IsZero() {
		return &loan.ValidationError{Field: "startDate", Reason: "required"}
	}
	return nil
}

// BookUpdate replaces a book's name and principal. A principal change
// recomputes the remaining of every recorded entry.
type BookUpdate struct {
	Name       string          `json:"name" validate:"required,max=120"`
	LoanAmount decimal.Decimal `json:"loanAmount"`
}

// Validate checks the fields the struct tags cannot express.
func (u BookUpdate) Validate() error {
	if !u.LoanAmount.IsPositive() {
		return &loan.ValidationError{Field: "loanAmount", Reason: "must be positive"}
	}
	return nil
}

// SaveEntriesRequest is the body of the atomic bulk upsert.
type SaveEntriesRequest struct {
	BookID  uuid.UUID    `json:"bookId" validate:"required"`
	Entries []loan.Entry `json:"entries" validate:"required,min=1,dive"`
}

// ShareRequest names the user a book is shared with.
type ShareRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
}

// SharesResponse lists the members of a book.
type SharesResponse struct {
	Members []string `json:"members"`
}

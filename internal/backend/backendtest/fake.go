// Package backendtest provides an in-memory Backend for tests.
package backendtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/backend"
	"github.com/odyssey-erp/loanbook/internal/ledger"
	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/signature"
)

// Fake is an in-memory backend enforcing the same access and signature rules
// as the API.
type Fake struct {
	mu      sync.Mutex
	books   map[uuid.UUID]loan.Book
	entries map[uuid.UUID][]loan.Entry
	calls   map[string]int

	// Now stamps updates; defaults to time.Now.
	Now func() time.Time
	// Err, when set, fails every call.
	Err error
	// SaveErr, when set, fails SaveEntries without applying anything.
	SaveErr error
}

var _ backend.Backend = (*Fake)(nil)

// New builds an empty fake.
func New() *Fake {
	return &Fake{
		books:   make(map[uuid.UUID]loan.Book),
		entries: make(map[uuid.UUID][]loan.Entry),
		calls:   make(map[string]int),
		Now:     time.Now,
	}
}

// Seed stores a book and its entries as-is.
func (f *Fake) Seed(book loan.Book, entries []loan.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if book.Status == "" {
		book.Status = loan.BookActive
	}
	f.books[book.ID] = book
	f.entries[book.ID] = cloneEntries(entries)
	f.refreshSummary(book.ID)
}

// Snapshot returns the stored entries of a book.
func (f *Fake) Snapshot(bookID uuid.UUID) []loan.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneEntries(f.entries[bookID])
}

// Calls reports how often method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) enter(method string) error {
	f.calls[method]++
	return f.Err
}

func (f *Fake) ListBooks(_ context.Context, sess auth.Session) ([]loan.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListBooks"); err != nil {
		return nil, err
	}
	var out []loan.Book
	for _, b := range f.books {
		if b.IsParty(sess.UserID) {
			out = append(out, cloneBook(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *Fake) GetBook(_ context.Context, sess auth.Session, id uuid.UUID) (loan.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetBook"); err != nil {
		return loan.Book{}, err
	}
	b, err := f.party(sess, id)
	if err != nil {
		return loan.Book{}, err
	}
	return cloneBook(b), nil
}

func (f *Fake) CreateBook(_ context.Context, sess auth.Session, in backend.NewBook) (loan.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateBook"); err != nil {
		return loan.Book{}, err
	}
	if err := in.Validate(); err != nil {
		return loan.Book{}, err
	}
	now := f.Now().UTC()
	b := loan.Book{
		ID:           uuid.New(),
		OwnerID:      sess.UserID,
		Name:         in.Name,
		LoanAmount:   in.LoanAmount,
		StartDate:    in.StartDate,
		NumberOfDays: in.NumberOfDays,
		Status:       loan.BookActive,
		Balance:      in.LoanAmount,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.books[b.ID] = b
	return cloneBook(b), nil
}

func (f *Fake) UpdateBook(_ context.Context, sess auth.Session, id uuid.UUID, in backend.BookUpdate) (loan.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateBook"); err != nil {
		return loan.Book{}, err
	}
	b, err := f.owned(sess, id)
	if err != nil {
		return loan.Book{}, err
	}
	if b.IsClosed() {
		return loan.Book{}, &loan.StateError{Reason: "book is closed"}
	}
	if err := in.Validate(); err != nil {
		return loan.Book{}, err
	}
	now := f.Now().UTC()
	b.Name = in.Name
	b.UpdatedAt = now
	if !b.LoanAmount.Equal(in.LoanAmount) {
		b.LoanAmount = in.LoanAmount
		entries := f.entries[id]
		for _, c := range ledger.Rebalance(b, entries, now) {
			for i := range entries {
				if entries[i].SerialNumber == c.SerialNumber {
					entries[i] = c
				}
			}
		}
	}
	f.books[id] = b
	f.refreshSummary(id)
	return cloneBook(f.books[id]), nil
}

func (f *Fake) SetBookStatus(_ context.Context, sess auth.Session, id uuid.UUID, status loan.BookStatus) (loan.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SetBookStatus"); err != nil {
		return loan.Book{}, err
	}
	b, err := f.owned(sess, id)
	if err != nil {
		return loan.Book{}, err
	}
	if !status.IsValid() {
		return loan.Book{}, &loan.ValidationError{Field: "status", Reason: "unknown"}
	}
	b.Status = status
	b.UpdatedAt = f.Now().UTC()
	f.books[id] = b
	return cloneBook(b), nil
}

func (f *Fake) DeleteBook(_ context.Context, sess auth.Session, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteBook"); err != nil {
		return err
	}
	if _, err := f.owned(sess, id); err != nil {
		return err
	}
	delete(f.books, id)
	delete(f.entries, id)
	return nil
}

func (f *Fake) ListEntries(_ context.Context, sess auth.Session, bookID uuid.UUID) ([]loan.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListEntries"); err != nil {
		return nil, err
	}
	if _, err := f.party(sess, bookID); err != nil {
		return nil, err
	}
	return cloneEntries(f.entries[bookID]), nil
}

func (f *Fake) SaveEntries(_ context.Context, sess auth.Session, bookID uuid.UUID, entries []loan.Entry) ([]loan.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SaveEntries"); err != nil {
		return nil, err
	}
	if f.SaveErr != nil {
		return nil, f.SaveErr
	}
	book, err := f.party(sess, bookID)
	if err != nil {
		return nil, err
	}
	if book.IsClosed() {
		return nil, &loan.StateError{Reason: "book is closed"}
	}

	stored := f.entries[bookID]
	bySerial := make(map[int]int, len(stored))
	for i, e := range stored {
		bySerial[e.SerialNumber] = i
	}
	for _, e := range entries {
		if e.SerialNumber < 1 || e.SerialNumber > book.NumberOfDays {
			return nil, &loan.ValidationError{Field: "serialNumber", Reason: fmt.Sprintf("%d out of range", e.SerialNumber)}
		}
		var prev *loan.Entry
		if i, ok := bySerial[e.SerialNumber]; ok {
			prev = &stored[i]
		}
		if err := signature.CheckEdit(prev, e); err != nil {
			return nil, err
		}
	}

	now := f.Now().UTC()
	next := cloneEntries(stored)
	saved := make([]loan.Entry, 0, len(entries))
	for _, e := range entries {
		e.BookID = bookID
		e.PageNumber = loan.PageFor(e.SerialNumber)
		e.UpdatedAt = now
		if i, ok := bySerial[e.SerialNumber]; ok {
			e.ID = next[i].ID
			next[i] = e
		} else {
			if e.ID == uuid.Nil {
				e.ID = uuid.New()
			}
			bySerial[e.SerialNumber] = len(next)
			next = append(next, e)
		}
		saved = append(saved, e)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].SerialNumber < next[j].SerialNumber })
	f.entries[bookID] = next
	book.UpdatedAt = now
	f.books[bookID] = book
	f.refreshSummary(bookID)
	return cloneEntries(saved), nil
}

func (f *Fake) RequestSignature(_ context.Context, sess auth.Session, entryID uuid.UUID) (loan.Entry, error) {
	return f.transition("RequestSignature", sess, entryID, signature.ActionRequest)
}

func (f *Fake) ApproveSignature(_ context.Context, sess auth.Session, entryID uuid.UUID) (loan.Entry, error) {
	return f.transition("ApproveSignature", sess, entryID, signature.ActionApprove)
}

func (f *Fake) RejectSignature(_ context.Context, sess auth.Session, entryID uuid.UUID) (loan.Entry, error) {
	return f.transition("RejectSignature", sess, entryID, signature.ActionReject)
}

func (f *Fake) transition(method string, sess auth.Session, entryID uuid.UUID, action signature.Action) (loan.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(method); err != nil {
		return loan.Entry{}, err
	}
	for bookID, entries := range f.entries {
		for i := range entries {
			if entries[i].ID != entryID {
				continue
			}
			book := f.books[bookID]
			if err := signature.Authorize(book, sess.UserID); err != nil {
				return loan.Entry{}, err
			}
			e := entries[i]
			now := f.Now().UTC()
			if err := signature.Apply(&e, action, sess.UserID, now); err != nil {
				return loan.Entry{}, err
			}
			e.UpdatedAt = now
			entries[i] = e
			book.UpdatedAt = now
			f.books[bookID] = book
			return e, nil
		}
	}
	return loan.Entry{}, fmt.Errorf("entry %s: %w", entryID, loan.ErrNotFound)
}

func (f *Fake) Share(_ context.Context, sess auth.Session, bookID uuid.UUID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Share"); err != nil {
		return err
	}
	b, err := f.owned(sess, bookID)
	if err != nil {
		return err
	}
	if userID == sess.UserID {
		return &loan.ValidationError{Field: "userId", Reason: "cannot share a book with yourself"}
	}
	for _, m := range b.Members {
		if m == userID {
			return &loan.StateError{Reason: "book already shared with " + userID}
		}
	}
	b.Members = append(append([]string(nil), b.Members...), userID)
	f.books[bookID] = b
	return nil
}

func (f *Fake) Unshare(_ context.Context, sess auth.Session, bookID uuid.UUID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Unshare"); err != nil {
		return err
	}
	b, err := f.owned(sess, bookID)
	if err != nil {
		return err
	}
	members := b.Members[:0:0]
	for _, m := range b.Members {
		if m != userID {
			members = append(members, m)
		}
	}
	b.Members = members
	f.books[bookID] = b
	return nil
}

func (f *Fake) ListShares(_ context.Context, sess auth.Session, bookID uuid.UUID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListShares"); err != nil {
		return nil, err
	}
	b, err := f.party(sess, bookID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), b.Members...), nil
}

func (f *Fake) party(sess auth.Session, id uuid.UUID) (loan.Book, error) {
	b, ok := f.books[id]
	if !ok {
		return loan.Book{}, fmt.Errorf("book %s: %w", id, loan.ErrNotFound)
	}
	if !b.IsParty(sess.UserID) {
		return loan.Book{}, &loan.AuthorizationError{Actor: sess.UserID, Reason: "no access to book"}
	}
	return b, nil
}

func (f *Fake) owned(sess auth.Session, id uuid.UUID) (loan.Book, error) {
	b, err := f.party(sess, id)
	if err != nil {
		return loan.Book{}, err
	}
	if !b.IsOwner(sess.UserID) {
		return loan.Book{}, &loan.AuthorizationError{Actor: sess.UserID, Reason: "only the owner can do this"}
	}
	return b, nil
}

func (f *Fake) refreshSummary(bookID uuid.UUID) {
	b := f.books[bookID]
	paid := decimal.Zero
	for _, e := range f.entries[bookID] {
		if e.Filled() {
			paid = paid.Add(e.Amount.Decimal)
		}
	}
	b.Balance = b.LoanAmount.Sub(paid)
	f.books[bookID] = b
}

func cloneBook(b loan.Book) loan.Book {
	b.Members = append([]string(nil), b.Members...)
	return b
}

func cloneEntries(in []loan.Entry) []loan.Entry {
	if in == nil {
		return nil
	}
	out := make([]loan.Entry, len(in))
	copy(out, in)
	return out
}

// Package entrystore exposes a book's entries as serial-addressed pages read
// through the offline coordinator.
package entrystore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/backend"
	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/offline"
)

// Store reads books and entries for a session.
type Store struct {
	coord   *offline.Coordinator
	backend backend.Backend
}

// New constructs a Store.
func New(coord *offline.Coordinator, b backend.Backend) *Store {
	return &Store{coord: coord, backend: b}
}

// Books returns the session's books, from cache when offline or fresh.
func (s *Store) Books(ctx context.Context, sess auth.Session, refresh bool) ([]loan.Book, error) {
	return offline.Read(ctx, s.coord, offline.BookListKey, func(ctx context.Context) ([]loan.Book, error) {
		return s.backend.ListBooks(ctx, sess)
	}, offline.WithRefresh(refresh))
}

// Book finds one book in the cached book list so it resolves offline too.
func (s *Store) Book(ctx context.Context, sess auth.Session, bookID uuid.UUID) (loan.Book, error) {
	books, err := s.Books(ctx, sess, false)
	if err != nil {
		return loan.Book{}, err
	}
	if b, ok := findBook(books, bookID); ok {
		return b, nil
	}
	if s.coord.Online() {
		books, err = s.Books(ctx, sess, true)
		if err != nil {
			return loan.Book{}, err
		}
		if b, ok := findBook(books, bookID); ok {
			return b, nil
		}
	}
	return loan.Book{}, fmt.Errorf("book %s: %w", bookID, loan.ErrNotFound)
}

// Entries returns the book's entries ordered by serial with page numbers set.
func (s *Store) Entries(ctx context.Context, sess auth.Session, bookID uuid.UUID, refresh bool) ([]loan.Entry, error) {
	entries, err := offline.Read(ctx, s.coord, offline.EntriesKey(bookID), func(ctx context.Context) ([]loan.Entry, error) {
		return s.backend.ListEntries(ctx, sess, bookID)
	}, offline.WithRefresh(refresh))
	if err != nil {
		return nil, err
	}
	return Normalize(entries), nil
}

// Normalize sorts by serial, keeps the latest copy of a duplicated serial and
// recomputes page numbers.
func Normalize(entries []loan.Entry) []loan.Entry {
	out := make([]loan.Entry, 0, len(entries))
	index := make(map[int]int, len(entries))
	for _, e := range entries {
		if e.SerialNumber < 1 {
			continue
		}
		e.PageNumber = loan.PageFor(e.SerialNumber)
		if i, ok := index[e.SerialNumber]; ok {
			if e.UpdatedAt.After(out[i].UpdatedAt) {
				out[i] = e
			}
			continue
		}
		index[e.SerialNumber] = len(out)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out
}

// PageView is one page of ledger slots.
type PageView struct {
	BookID         uuid.UUID    `json:"bookId"`
	Page           int          `json:"page"`
	TotalPages     int          `json:"totalPages"`
	LastActivePage int          `json:"lastActivePage"`
	Entries        []loan.Entry `json:"entries"`
}

// Page returns the PageSize slots of page. Serials with no stored entry are
// returned as unsaved placeholders.
func (s *Store) Page(ctx context.Context, sess auth.Session, book loan.Book, page int) (PageView, error) {
	entries, err := s.Entries(ctx, sess, book.ID, false)
	if err != nil {
		return PageView{}, err
	}
	return BuildPage(book, entries, page)
}

// BuildPage lays out page from already normalised entries.
func BuildPage(book loan.Book, entries []loan.Entry, page int) (PageView, error) {
	last := book.NumberOfDays
	if n := len(entries); n > 0 && entries[n-1].SerialNumber > last {
		last = entries[n-1].SerialNumber
	}
	total := loan.PageCount(last)
	if page < 1 || page > total {
		return PageView{}, &loan.ValidationError{Field: "page", Reason: fmt.Sprintf("must be between 1 and %d", total)}
	}

	bySerial := make(map[int]loan.Entry, len(entries))
	lastActive := 1
	for _, e := range entries {
		bySerial[e.SerialNumber] = e
		if e.Filled() {
			lastActive = e.PageNumber
		}
	}

	first := (page-1)*loan.PageSize + 1
	slots := make([]loan.Entry, 0, loan.PageSize)
	for serial := first; serial < first+loan.PageSize && serial <= last; serial++ {
		if e, ok := bySerial[serial]; ok {
			slots = append(slots, e)
			continue
		}
		slots = append(slots, loan.Entry{
			BookID:       book.ID,
			SerialNumber: serial,
			PageNumber:   page,
		})
	}
	return PageView{
		BookID:         book.ID,
		Page:           page,
		TotalPages:     total,
		LastActivePage: lastActive,
		Entries:        slots,
	}, nil
}

func findBook(books []loan.Book, id uuid.UUID) (loan.Book, bool) {
	for _, b := range books {
		if b.ID == id {
			return b, true
		}
	}
	return loan.Book{}, false
}

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/backend"
	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/offline"
	"github.com/odyssey-erp/loanbook/internal/shared"
)

// Engine runs ledger mutations through the offline write gate.
type Engine struct {
	coord   *offline.Coordinator
	backend backend.Backend
	locks   *shared.KeyedMutex
	logger  *slog.Logger
	newID   func() uuid.UUID
	now     func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLocks shares a lock table with other writers of the same books.
func WithLocks(locks *shared.KeyedMutex) EngineOption {
	return func(e *Engine) {
		if locks != nil {
			e.locks = locks
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDs replaces uuid.New for new entries.
func WithIDs(newID func() uuid.UUID) EngineOption {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// NewEngine builds an Engine.
func NewEngine(coord *offline.Coordinator, b backend.Backend, opts ...EngineOption) *Engine {
	e := &Engine{
		coord:   coord,
		backend: b,
		locks:   shared.NewKeyedMutex(),
		logger:  slog.Default(),
		newID:   uuid.New,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Locks exposes the per-book lock table.
func (e *Engine) Locks() *shared.KeyedMutex {
	return e.locks
}

// CreateBook creates the book and auto-fills its entries as one batch.
func (e *Engine) CreateBook(ctx context.Context, sess auth.Session, in backend.NewBook) (loan.Book, []loan.Entry, error) {
	if !sess.Valid() {
		return loan.Book{}, nil, &loan.AuthorizationError{Reason: "no session"}
	}
	if err := in.Validate(); err != nil {
		return loan.Book{}, nil, err
	}
	if in.NumberOfDays <= 0 {
		return loan.Book{}, nil, &loan.ValidationError{Field: "numberOfDays", Reason: "must be positive"}
	}

	var (
		book    loan.Book
		entries []loan.Entry
	)
	err := e.coord.Write(ctx, offline.WriteOp{
		Name:        "create book",
		Invalidates: []string{offline.BookListKey},
		Run: func(ctx context.Context) error {
			created, err := e.backend.CreateBook(ctx, sess, in)
			if err != nil {
				return err
			}
			book = created
			entries, err = e.fill(ctx, sess, created)
			if err != nil {
				if derr := e.backend.DeleteBook(ctx, sess, created.ID); derr != nil {
					e.logger.ErrorContext(ctx, "ledger: rollback of half-created book failed",
						slog.String("book_id", created.ID.String()), slog.Any("error", derr))
				}
				return err
			}
			e.coord.Invalidate(ctx, offline.EntriesKey(created.ID))
			return nil
		},
	})
	if err != nil {
		return loan.Book{}, nil, err
	}
	e.logger.InfoContext(ctx, "ledger: book created",
		slog.String("book_id", book.ID.String()), slog.Int("entries", len(entries)))
	return book, entries, nil
}

func (e *Engine) fill(ctx context.Context, sess auth.Session, book loan.Book) ([]loan.Entry, error) {
	unlock := e.locks.Lock(shared.BookLockKey(book.ID))
	defer unlock()

	existing, err := e.backend.ListEntries(ctx, sess, book.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, &loan.StateError{Reason: fmt.Sprintf("book %s already has %d entries", book.ID, len(existing))}
	}
	entries, err := AutoFill(book, e.newID)
	if err != nil {
		return nil, err
	}
	return e.backend.SaveEntries(ctx, sess, book.ID, entries)
}

// SaveResult reports the outcome of SaveEdit.
type SaveResult struct {
	Entry            loan.Entry      `json:"entry"`
	Balance          decimal.Decimal `json:"balance"`
	Changed          int             `json:"changed"`
	Backfilled       int             `json:"backfilled"`
	SignatureCleared bool            `json:"signatureCleared"`
}

// SaveEdit sets the amount and date of one entry, backfills earlier dated gaps,
// recomputes the remaining of later filled entries and persists the whole
// change set in one batch. A missing or malformed date fails before any
// network call; a non-numeric amount counts as zero.
func (e *Engine) SaveEdit(ctx context.Context, sess auth.Session, bookID uuid.UUID, serial int, amount, date string) (SaveResult, error) {
	if !sess.Valid() {
		return SaveResult{}, &loan.AuthorizationError{Reason: "no session"}
	}
	if serial < 1 {
		return SaveResult{}, &loan.ValidationError{Field: "serialNumber", Reason: "must be at least 1"}
	}
	day, err := loan.ParseDate(date)
	if err != nil {
		return SaveResult{}, err
	}
	if day.IsZero() {
		return SaveResult{}, &loan.ValidationError{Field: "date", Reason: "required"}
	}
	edit := Edit{Serial: serial, Amount: loan.ParseAmount(amount), Date: day}

	unlock := e.locks.Lock(shared.BookLockKey(bookID))
	defer unlock()

	var result SaveResult
	err = e.coord.Write(ctx, offline.WriteOp{
		Name:        "save entry",
		Invalidates: []string{offline.EntriesKey(bookID), offline.BookListKey},
		Run: func(ctx context.Context) error {
			book, err := e.backend.GetBook(ctx, sess, bookID)
			if err != nil {
				return err
			}
			if !book.IsParty(sess.UserID) {
				return &loan.AuthorizationError{Actor: sess.UserID, Reason: "not a party to this book"}
			}
			entries, err := e.backend.ListEntries(ctx, sess, bookID)
			if err != nil {
				return err
			}
			plan, err := PlanEdit(book, entries, edit, e.now().UTC())
			if err != nil {
				return err
			}
			saved, err := e.backend.SaveEntries(ctx, sess, bookID, plan.Changes)
			if err != nil {
				return err
			}
			result = SaveResult{
				Entry:            plan.Edited,
				Balance:          plan.Balance,
				Changed:          len(plan.Changes),
				Backfilled:       plan.Backfilled,
				SignatureCleared: plan.SignatureCleared,
			}
			for _, s := range saved {
				if s.SerialNumber == serial {
					result.Entry = s
				}
			}
			return nil
		},
	})
	if err != nil {
		return SaveResult{}, err
	}
	e.logger.InfoContext(ctx, "ledger: entry saved",
		slog.String("book_id", bookID.String()),
		slog.Int("serial", serial),
		slog.Int("changed", result.Changed),
		slog.Bool("signature_cleared", result.SignatureCleared))
	return result, nil
}

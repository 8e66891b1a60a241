// Package gateway is the local surface of the loanbook core. It runs every
// operation for the single configured session through the offline
// coordinator so reads keep working while the backend is unreachable.
package gateway

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/backend"
	"github.com/odyssey-erp/loanbook/internal/entrystore"
	"github.com/odyssey-erp/loanbook/internal/ledger"
	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/offline"
	"github.com/odyssey-erp/loanbook/internal/shared"
	"github.com/odyssey-erp/loanbook/internal/signature"
)

// Config wires a Service.
type Config struct {
	Session     auth.Session
	Coordinator *offline.Coordinator
	Backend     backend.Backend
	Locale      string
	Logger      *slog.Logger
	Engine      []ledger.EngineOption
}

// Service runs gateway operations for one session.
type Service struct {
	session    auth.Session
	coord      *offline.Coordinator
	backend    backend.Backend
	store      *entrystore.Store
	engine     *ledger.Engine
	signatures *signature.Service
	printer    *message.Printer
	logger     *slog.Logger
}

// NewService builds a Service. The engine and the signature service share
// one lock table so edits and signature actions on a book never interleave.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := append([]ledger.EngineOption{ledger.WithLogger(logger)}, cfg.Engine...)
	engine := ledger.NewEngine(cfg.Coordinator, cfg.Backend, opts...)
	return &Service{
		session:    cfg.Session,
		coord:      cfg.Coordinator,
		backend:    cfg.Backend,
		store:      entrystore.New(cfg.Coordinator, cfg.Backend),
		engine:     engine,
		signatures: signature.NewService(cfg.Coordinator, cfg.Backend, engine.Locks(), logger),
		printer:    NewPrinter(cfg.Locale),
		logger:     logger,
	}
}

// Status is the connectivity summary shown by the UI.
type Status struct {
	Online bool   `json:"online"`
	UserID string `json:"userId"`
}

// Status reports the last known connectivity.
func (s *Service) Status() Status {
	return Status{Online: s.coord.Online(), UserID: s.session.UserID}
}

// Books lists the session's books.
func (s *Service) Books(ctx context.Context, refresh bool) ([]loan.Book, error) {
	return s.store.Books(ctx, s.session, refresh)
}

// CreateBook creates a book and its auto-filled entries.
func (s *Service) CreateBook(ctx context.Context, in backend.NewBook) (loan.Book, []loan.Entry, error) {
	return s.engine.CreateBook(ctx, s.session, in)
}

// UpdateBook renames a book or changes its principal. The cached entries are
// dropped too since a new principal moves every remaining.
func (s *Service) UpdateBook(ctx context.Context, bookID uuid.UUID, in backend.BookUpdate) (loan.Book, error) {
	unlock := s.engine.Locks().Lock(shared.BookLockKey(bookID))
	defer unlock()

	var book loan.Book
	err := s.coord.Write(ctx, offline.WriteOp{
		Name:        "update book",
		Invalidates: []string{offline.BookListKey, offline.EntriesKey(bookID)},
		Run: func(ctx context.Context) error {
			var err error
			book, err = s.backend.UpdateBook(ctx, s.session, bookID, in)
			return err
		},
	})
	return book, err
}

// Shares lists the members of a book from the cached book list.
func (s *Service) Shares(ctx context.Context, bookID uuid.UUID) ([]string, error) {
	book, err := s.store.Book(ctx, s.session, bookID)
	if err != nil {
		return nil, err
	}
	if book.Members == nil {
		return []string{}, nil
	}
	return book.Members, nil
}

// Share grants userID access to a book.
func (s *Service) Share(ctx context.Context, bookID uuid.UUID, userID string) error {
	return s.coord.Write(ctx, offline.WriteOp{
		Name:        "share book",
		Invalidates: []string{offline.BookListKey},
		Run: func(ctx context.Context) error {
			return s.backend.Share(ctx, s.session, bookID, userID)
		},
	})
}

// Unshare revokes userID's access to a book.
func (s *Service) Unshare(ctx context.Context, bookID uuid.UUID, userID string) error {
	return s.coord.Write(ctx, offline.WriteOp{
		Name:        "unshare book",
		Invalidates: []string{offline.BookListKey},
		Run: func(ctx context.Context) error {
			return s.backend.Unshare(ctx, s.session, bookID, userID)
		},
	})
}

// SetStatus closes or reopens a book.
func (s *Service) SetStatus(ctx context.Context, bookID uuid.UUID, status loan.BookStatus) (loan.Book, error) {
	unlock := s.engine.Locks().Lock(shared.BookLockKey(bookID))
	defer unlock()

	var book loan.Book
	err := s.coord.Write(ctx, offline.WriteOp{
		Name:        "set book status",
		Invalidates: []string{offline.BookListKey},
		Run: func(ctx context.Context) error {
			var err error
			book, err = s.backend.SetBookStatus(ctx, s.session, bookID, status)
			return err
		},
	})
	return book, err
}

// DeleteBook removes a book and drops its cached entries.
func (s *Service) DeleteBook(ctx context.Context, bookID uuid.UUID) error {
	unlock := s.engine.Locks().Lock(shared.BookLockKey(bookID))
	defer unlock()

	return s.coord.Write(ctx, offline.WriteOp{
		Name:        "delete book",
		Invalidates: []string{offline.BookListKey, offline.EntriesKey(bookID)},
		Run: func(ctx context.Context) error {
			return s.backend.DeleteBook(ctx, s.session, bookID)
		},
	})
}

// Row is one ledger slot with its display values and signature control.
type Row struct {
	loan.Entry
	RemainingDisplay string           `json:"remainingDisplay,omitempty"`
	Button           signature.Button `json:"button"`
}

// PageView is one page of a book as rendered by the UI.
type PageView struct {
	BookID         uuid.UUID       `json:"bookId"`
	Name           string          `json:"name"`
	Status         loan.BookStatus `json:"status"`
	Page           int             `json:"page"`
	TotalPages     int             `json:"totalPages"`
	LastActivePage int             `json:"lastActivePage"`
	Balance        decimal.Decimal `json:"balance"`
	BalanceDisplay string          `json:"balanceDisplay"`
	Online         bool            `json:"online"`
	Rows           []Row           `json:"rows"`
}

// Page loads the book and its entries concurrently and lays out page. A page
// below 1 selects the last page holding a recorded amount.
func (s *Service) Page(ctx context.Context, bookID uuid.UUID, page int, refresh bool) (PageView, error) {
	var (
		book    loan.Book
		entries []loan.Entry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		book, err = s.store.Book(gctx, s.session, bookID)
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = s.store.Entries(gctx, s.session, bookID, refresh)
		return err
	})
	if err := g.Wait(); err != nil {
		return PageView{}, err
	}

	if page < 1 {
		first, err := entrystore.BuildPage(book, entries, 1)
		if err != nil {
			return PageView{}, err
		}
		page = first.LastActivePage
	}
	view, err := entrystore.BuildPage(book, entries, page)
	if err != nil {
		return PageView{}, err
	}

	online := s.coord.Online()
	balance := ledger.Balance(book, entries)
	out := PageView{
		BookID:         book.ID,
		Name:           book.Name,
		Status:         book.Status,
		Page:           view.Page,
		TotalPages:     view.TotalPages,
		LastActivePage: view.LastActivePage,
		Balance:        balance,
		BalanceDisplay: FormatAmount(s.printer, balance),
		Online:         online,
		Rows:           make([]Row, 0, len(view.Entries)),
	}
	for _, e := range view.Entries {
		row := Row{Entry: e, Button: signature.ButtonFor(book, e, s.session.UserID, online)}
		if e.Remaining.Valid {
			row.RemainingDisplay = FormatAmount(s.printer, e.Remaining.Decimal)
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// SaveEdit records amount and date on the entry at serial.
func (s *Service) SaveEdit(ctx context.Context, bookID uuid.UUID, serial int, amount, date string) (ledger.SaveResult, error) {
	return s.engine.SaveEdit(ctx, s.session, bookID, serial, amount, date)
}

// Sign applies a signature action to the entry at serial.
func (s *Service) Sign(ctx context.Context, bookID uuid.UUID, serial int, action signature.Action) (loan.Entry, error) {
	return s.signatures.Act(ctx, s.session, bookID, serial, action)
}

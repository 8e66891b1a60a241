package entries

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/backend"
	"github.com/odyssey-erp/loanbook/internal/events"
	"github.com/odyssey-erp/loanbook/internal/ledger"
	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/platform/httpx"
	"github.com/odyssey-erp/loanbook/internal/signature"
)

// RepositoryPort defines data access methods for entries.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Book(ctx context.Context, bookID uuid.UUID) (loan.Book, error)
	ListEntries(ctx context.Context, bookID uuid.UUID) ([]loan.Entry, error)
	Entry(ctx context.Context, entryID uuid.UUID) (loan.Entry, error)
	SignatureHistory(ctx context.Context, entryID uuid.UUID) ([]SignatureLog, error)
}

// IntegrityScheduler queues a ledger integrity check for a book.
type IntegrityScheduler interface {
	EnqueueIntegrity(ctx context.Context, bookID uuid.UUID) error
}

// Service applies entry batches and signature transitions.
type Service struct {
	repo      RepositoryPort
	publisher events.Publisher
	scheduler IntegrityScheduler
	validate  *httpx.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service instance. scheduler may be nil.
func NewService(repo RepositoryPort, publisher events.Publisher, scheduler IntegrityScheduler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		scheduler: scheduler,
		validate:  httpx.NewValidator(),
		logger:    logger,
		now:       time.Now,
	}
}

// List returns a book's entries for a party to the book.
func (s *Service) List(ctx context.Context, sess auth.Session, bookID uuid.UUID) ([]loan.Entry, error) {
	book, err := s.repo.Book(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !book.IsParty(sess.UserID) {
		return nil, &loan.AuthorizationError{Actor: sess.UserID, Reason: "not a party to this book"}
	}
	return s.repo.ListEntries(ctx, bookID)
}

// History returns the signature transitions recorded for an entry, oldest first.
func (s *Service) History(ctx context.Context, sess auth.Session, entryID uuid.UUID) ([]SignatureLog, error) {
	entry, err := s.repo.Entry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	book, err := s.repo.Book(ctx, entry.BookID)
	if err != nil {
		return nil, err
	}
	if !book.IsParty(sess.UserID) {
		return nil, &loan.AuthorizationError{Actor: sess.UserID, Reason: "not a party to this book"}
	}
	return s.repo.SignatureHistory(ctx, entryID)
}

// SaveBatch upserts every entry of req in one transaction. Any invalid entry
// rejects the whole batch. Concurrent writers resolve by last write wins.
func (s *Service) SaveBatch(ctx context.Context, sess auth.Session, req backend.SaveEntriesRequest) ([]loan.Entry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	var (
		saved   []loan.Entry
		balance string
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		book, err := tx.LockBook(ctx, req.BookID)
		if err != nil {
			return err
		}
		if err := signature.Authorize(book, sess.UserID); err != nil {
			return err
		}
		stored, err := tx.ListEntries(ctx, req.BookID)
		if err != nil {
			return err
		}
		bySerial := make(map[int]loan.Entry, len(stored))
		for _, e := range stored {
			bySerial[e.SerialNumber] = e
		}

		batch, err := s.prepare(book, bySerial, req.Entries)
		if err != nil {
			return err
		}
		saved = make([]loan.Entry, 0, len(batch))
		for _, e := range batch {
			out, err := tx.UpsertEntry(ctx, e)
			if err != nil {
				return fmt.Errorf("upsert entry %d: %w", e.SerialNumber, err)
			}
			saved = append(saved, out)
			bySerial[out.SerialNumber] = out
		}
		merged := make([]loan.Entry, 0, len(bySerial))
		for _, e := range bySerial {
			merged = append(merged, e)
		}
		balance = ledger.Balance(book, merged).String()
		return tx.TouchBook(ctx, book.ID, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	serials := make([]int, len(saved))
	for i, e := range saved {
		serials[i] = e.SerialNumber
	}
	s.publish(ctx, events.TypeEntriesSaved, req.BookID, sess.UserID, events.EntriesSaved{Serials: serials, Balance: balance})
	if s.scheduler != nil {
		if err := s.scheduler.EnqueueIntegrity(ctx, req.BookID); err != nil {
			s.logger.WarnContext(ctx, "enqueue ledger integrity", slog.String("book_id", req.BookID.String()), slog.Any("error", err))
		}
	}
	return saved, nil
}

// prepare validates the incoming batch against the stored rows and returns it
// ordered by serial with ids, pages and timestamps settled.
func (s *Service) prepare(book loan.Book, stored map[int]loan.Entry, incoming []loan.Entry) ([]loan.Entry, error) {
	now := s.now().UTC()
	seen := make(map[int]struct{}, len(incoming))
	batch := make([]loan.Entry, 0, len(incoming))
	for _, e := range incoming {
		if e.SerialNumber < 1 || e.SerialNumber > book.NumberOfDays {
			return nil, &loan.ValidationError{Field: "serialNumber", Reason: fmt.Sprintf("%d is outside 1..%d", e.SerialNumber, book.NumberOfDays)}
		}
		if _, dup := seen[e.SerialNumber]; dup {
			return nil, &loan.ValidationError{Field: "serialNumber", Reason: fmt.Sprintf("%d appears twice in the batch", e.SerialNumber)}
		}
		seen[e.SerialNumber] = struct{}{}
		if e.BookID != uuid.Nil && e.BookID != book.ID {
			return nil, &loan.ValidationError{Field: "bookId", Reason: "entry belongs to another book"}
		}
		if e.PageNumber != 0 && e.PageNumber != loan.PageFor(e.SerialNumber) {
			return nil, &loan.ValidationError{Field: "pageNumber", Reason: fmt.Sprintf("entry %d belongs on page %d", e.SerialNumber, loan.PageFor(e.SerialNumber))}
		}

		var prev *loan.Entry
		if p, ok := stored[e.SerialNumber]; ok {
			prev = &p
		}
		if err := signature.CheckEdit(prev, e); err != nil {
			return nil, err
		}

		e.BookID = book.ID
		e.PageNumber = loan.PageFor(e.SerialNumber)
		e.UpdatedAt = now
		switch {
		case prev != nil:
			e.ID = prev.ID
		case e.ID == uuid.Nil:
			e.ID = uuid.New()
		}
		batch = append(batch, e)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].SerialNumber < batch[j].SerialNumber })
	return batch, nil
}

// Transition applies a signature action to an entry and records it in the signature log.
func (s *Service) Transition(ctx context.Context, sess auth.Session, entryID uuid.UUID, action signature.Action) (loan.Entry, error) {
	if _, err := signature.ParseAction(string(action)); err != nil {
		return loan.Entry{}, err
	}
	var updated loan.Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		book, err := tx.LockBook(ctx, entry.BookID)
		if err != nil {
			return err
		}
		if err := signature.Authorize(book, sess.UserID); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := signature.Apply(&entry, action, sess.UserID, now); err != nil {
			return err
		}
		entry.UpdatedAt = now
		if err := tx.UpdateSignature(ctx, entry); err != nil {
			return err
		}
		if err := tx.RecordSignature(ctx, SignatureLog{
			EntryID: entry.ID,
			BookID:  entry.BookID,
			ActorID: sess.UserID,
			Action:  string(action),
			Status:  entry.SignatureStatus,
			At:      now,
		}); err != nil {
			return err
		}
		updated = entry
		return tx.TouchBook(ctx, book.ID, now)
	})
	if err != nil {
		return loan.Entry{}, err
	}
	s.publish(ctx, events.TypeSignatureChanged, updated.BookID, sess.UserID, events.SignatureChanged{
		EntryID: updated.ID,
		Serial:  updated.SerialNumber,
		Action:  string(action),
		Status:  updated.SignatureStatus.String(),
	})
	return updated, nil
}

func (s *Service) publish(ctx context.Context, eventType string, bookID uuid.UUID, actor string, payload any) {
	evt, err := events.New(eventType, bookID, actor, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "publish ledger event", slog.String("type", eventType), slog.Any("error", err))
	}
}

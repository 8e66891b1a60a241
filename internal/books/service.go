package books

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/backend"
	"github.com/odyssey-erp/loanbook/internal/ledger"
	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/platform/httpx"
)

// RepositoryPort defines data access methods for books.
type RepositoryPort interface {
	ListForUser(ctx context.Context, userID string) ([]loan.Book, error)
	Get(ctx context.Context, id uuid.UUID) (loan.Book, error)
	Create(ctx context.Context, book loan.Book) error
	Update(ctx context.Context, book loan.Book, rebalance func([]loan.Entry) []loan.Entry) (int, error)
	SetStatus(ctx context.Context, id uuid.UUID, status loan.BookStatus, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	AddShare(ctx context.Context, id uuid.UUID, userID string) error
	RemoveShare(ctx context.Context, id uuid.UUID, userID string) error
}

// Service handles book business rules.
type Service struct {
	repo     RepositoryPort
	validate *httpx.Validator
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, validate: httpx.NewValidator(), logger: logger, now: time.Now}
}

// List returns the books visible to the session user.
func (s *Service) List(ctx context.Context, sess auth.Session) ([]loan.Book, error) {
	books, err := s.repo.ListForUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if books == nil {
		books = []loan.Book{}
	}
	return books, nil
}

// Get loads a book the session user is a party to.
func (s *Service) Get(ctx context.Context, sess auth.Session, id uuid.UUID) (loan.Book, error) {
	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return loan.Book{}, err
	}
	if !book.IsParty(sess.UserID) {
		return loan.Book{}, &loan.AuthorizationError{Actor: sess.UserID, Reason: "not a party to this book"}
	}
	return book, nil
}

// Create stores a new active book owned by the session user. Entries are
// written separately by the client's auto-fill batch.
func (s *Service) Create(ctx context.Context, sess auth.Session, in backend.NewBook) (loan.Book, error) {
	if err := s.validate.Struct(in); err != nil {
		return loan.Book{}, err
	}
	if err := in.Validate(); err != nil {
		return loan.Book{}, err
	}
	now := s.now().UTC()
	book := loan.Book{
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
	if err := s.repo.Create(ctx, book); err != nil {
		return loan.Book{}, err
	}
	s.logger.InfoContext(ctx, "book created", slog.String("book_id", book.ID.String()), slog.String("owner", sess.UserID))
	return book, nil
}

// Update renames a book or changes its principal. Owner only, active books
// only. A new principal rewrites the remaining of every recorded entry in the
// same transaction.
func (s *Service) Update(ctx context.Context, sess auth.Session, id uuid.UUID, in backend.BookUpdate) (loan.Book, error) {
	if err := s.validate.Struct(in); err != nil {
		return loan.Book{}, err
	}
	if err := in.Validate(); err != nil {
		return loan.Book{}, err
	}
	book, err := s.owned(ctx, sess, id)
	if err != nil {
		return loan.Book{}, err
	}
	if book.IsClosed() {
		return loan.Book{}, &loan.StateError{Reason: "book " + id.String() + " is closed"}
	}

	now := s.now().UTC()
	var rebalance func([]loan.Entry) []loan.Entry
	if !book.LoanAmount.Equal(in.LoanAmount) {
		rebalance = func(entries []loan.Entry) []loan.Entry {
			return ledger.Rebalance(book, entries, now)
		}
	}
	book.Name = in.Name
	book.LoanAmount = in.LoanAmount
	book.UpdatedAt = now
	n, err := s.repo.Update(ctx, book, rebalance)
	if err != nil {
		return loan.Book{}, err
	}
	s.logger.InfoContext(ctx, "book updated", slog.String("book_id", id.String()), slog.Int("rebalanced", n))
	return s.repo.Get(ctx, id)
}

// SetStatus closes or reopens a book. Owner only.
func (s *Service) SetStatus(ctx context.Context, sess auth.Session, id uuid.UUID, status loan.BookStatus) (loan.Book, error) {
	if !status.IsValid() {
		return loan.Book{}, &loan.ValidationError{Field: "status", Reason: "unknown book status"}
	}
	if _, err := s.owned(ctx, sess, id); err != nil {
		return loan.Book{}, err
	}
	if err := s.repo.SetStatus(ctx, id, status, s.now().UTC()); err != nil {
		return loan.Book{}, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes a book and everything under it. Owner only.
func (s *Service) Delete(ctx context.Context, sess auth.Session, id uuid.UUID) error {
	if _, err := s.owned(ctx, sess, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "book deleted", slog.String("book_id", id.String()))
	return nil
}

// Share grants userID access. Owner only; sharing with yourself is refused.
func (s *Service) Share(ctx context.Context, sess auth.Session, id uuid.UUID, req backend.ShareRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	if req.UserID == sess.UserID {
		return &loan.ValidationError{Field: "userId", Reason: "cannot share a book with yourself"}
	}
	if _, err := s.owned(ctx, sess, id); err != nil {
		return err
	}
	if err := s.repo.AddShare(ctx, id, req.UserID); err != nil {
		if errors.Is(err, ErrDuplicateShare) {
			return &loan.StateError{Reason: "book is already shared with " + req.UserID}
		}
		return err
	}
	return nil
}

// Unshare revokes access. The owner may remove anyone; a member may remove themselves.
func (s *Service) Unshare(ctx context.Context, sess auth.Session, id uuid.UUID, userID string) error {
	book, err := s.Get(ctx, sess, id)
	if err != nil {
		return err
	}
	if !book.IsOwner(sess.UserID) && userID != sess.UserID {
		return &loan.AuthorizationError{Actor: sess.UserID, Reason: "only the owner can remove other members"}
	}
	return s.repo.RemoveShare(ctx, id, userID)
}

// Members lists the users the book is shared with.
func (s *Service) Members(ctx context.Context, sess auth.Session, id uuid.UUID) ([]string, error) {
	book, err := s.Get(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	if book.Members == nil {
		return []string{}, nil
	}
	return book.Members, nil
}

func (s *Service) owned(ctx context.Context, sess auth.Session, id uuid.UUID) (loan.Book, error) {
	book, err := s.Get(ctx, sess, id)
	if err != nil {
		return loan.Book{}, err
	}
	if !book.IsOwner(sess.UserID) {
		return loan.Book{}, &loan.AuthorizationError{Actor: sess.UserID, Reason: "only the owner can do this"}
	}
	return book, nil
}

package signature

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/backend"
	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/offline"
	"github.com/odyssey-erp/loanbook/internal/shared"
)

// Service runs signature transitions through the offline write gate.
type Service struct {
	coord   *offline.Coordinator
	backend backend.Backend
	locks   *shared.KeyedMutex
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service. Pass the ledger engine's lock table so
// edits and signature actions on one book are serialised.
func NewService(coord *offline.Coordinator, b backend.Backend, locks *shared.KeyedMutex, logger *slog.Logger) *Service {
	if locks == nil {
		locks = shared.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{coord: coord, backend: b, locks: locks, logger: logger, now: time.Now}
}

// Request asks the other party to countersign the entry at serial.
func (s *Service) Request(ctx context.Context, sess auth.Session, bookID uuid.UUID, serial int) (loan.Entry, error) {
	return s.Act(ctx, sess, bookID, serial, ActionRequest)
}

// Approve countersigns the pending request at serial.
func (s *Service) Approve(ctx context.Context, sess auth.Session, bookID uuid.UUID, serial int) (loan.Entry, error) {
	return s.Act(ctx, sess, bookID, serial, ActionApprove)
}

// Reject declines the pending request at serial.
func (s *Service) Reject(ctx context.Context, sess auth.Session, bookID uuid.UUID, serial int) (loan.Entry, error) {
	return s.Act(ctx, sess, bookID, serial, ActionReject)
}

// Act validates the transition against fresh backend state, performs it and
// invalidates the book's cached entries and the book list.
func (s *Service) Act(ctx context.Context, sess auth.Session, bookID uuid.UUID, serial int, action Action) (loan.Entry, error) {
	if !sess.Valid() {
		return loan.Entry{}, &loan.AuthorizationError{Reason: "no session"}
	}
	if _, err := ParseAction(string(action)); err != nil {
		return loan.Entry{}, err
	}

	unlock := s.locks.Lock(shared.BookLockKey(bookID))
	defer unlock()

	var updated loan.Entry
	err := s.coord.Write(ctx, offline.WriteOp{
		Name:        string(action) + " signature",
		Invalidates: []string{offline.EntriesKey(bookID), offline.BookListKey},
		Run: func(ctx context.Context) error {
			book, err := s.backend.GetBook(ctx, sess, bookID)
			if err != nil {
				return err
			}
			if err := Authorize(book, sess.UserID); err != nil {
				return err
			}
			entries, err := s.backend.ListEntries(ctx, sess, bookID)
			if err != nil {
				return err
			}
			entry, ok := findSerial(entries, serial)
			if !ok {
				return &loan.StateError{Reason: fmt.Sprintf("entry %d has not been saved", serial)}
			}
			probe := entry
			if err := Apply(&probe, action, sess.UserID, s.now()); err != nil {
				return err
			}
			switch action {
			case ActionRequest:
				updated, err = s.backend.RequestSignature(ctx, sess, entry.ID)
			case ActionApprove:
				updated, err = s.backend.ApproveSignature(ctx, sess, entry.ID)
			case ActionReject:
				updated, err = s.backend.RejectSignature(ctx, sess, entry.ID)
			}
			return err
		},
	})
	if err != nil {
		return loan.Entry{}, err
	}
	s.logger.InfoContext(ctx, "signature: transition applied",
		slog.String("book_id", bookID.String()),
		slog.Int("serial", serial),
		slog.String("action", string(action)),
		slog.String("status", updated.SignatureStatus.String()))
	return updated, nil
}

func findSerial(entries []loan.Entry, serial int) (loan.Entry, bool) {
	for _, e := range entries {
		if e.SerialNumber == serial {
			return e, true
		}
	}
	return loan.Entry{}, false
}

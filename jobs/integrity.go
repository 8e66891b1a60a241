package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/loanbook/internal/jobs"
	"github.com/odyssey-erp/loanbook/internal/ledger"
	"github.com/odyssey-erp/loanbook/internal/loan"
)

// LedgerSource loads the rows an integrity audit needs.
type LedgerSource interface {
	Book(ctx context.Context, bookID uuid.UUID) (loan.Book, error)
	ListEntries(ctx context.Context, bookID uuid.UUID) ([]loan.Entry, error)
}

// ActiveBooks lists the books the nightly sweep covers.
type ActiveBooks interface {
	ListActive(ctx context.Context) ([]uuid.UUID, error)
}

// Enqueuer submits integrity tasks.
type Enqueuer interface {
	EnqueueIntegrity(ctx context.Context, bookID uuid.UUID) error
}

// IntegrityJob audits running balances against the principal.
type IntegrityJob struct {
	Source  LedgerSource
	Books   ActiveBooks
	Queue   Enqueuer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityJob initialises the integrity handlers.
func NewIntegrityJob(source LedgerSource, books ActiveBooks, queue Enqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	return &IntegrityJob{Source: source, Books: books, Queue: queue, Logger: logger, Metrics: metrics}
}

// Handlers returns the task registrations served by the worker.
func (j *IntegrityJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLedgerIntegrity, Handler: j.Handle},
		{Type: TaskLedgerSweep, Handler: j.HandleSweep},
	}
}

// Handle audits the book named in the payload.
func (j *IntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.BookID == uuid.Nil {
		return asynq.SkipRetry
	}
	_, err := j.Audit(ctx, payload.BookID)
	if errors.Is(err, loan.ErrNotFound) {
		// Deleted after the task was queued.
		return nil
	}
	return err
}

// Audit runs ledger.Audit for one book, logging and counting each finding.
func (j *IntegrityJob) Audit(ctx context.Context, bookID uuid.UUID) (_ []ledger.Discrepancy, resultErr error) {
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	start := time.Now()
	logger := j.logger().With(slog.String("book_id", bookID.String()))

	book, err := j.Source.Book(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("ledger integrity: load book: %w", err)
	}
	entries, err := j.Source.ListEntries(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("ledger integrity: load entries: %w", err)
	}

	found := ledger.Audit(book, entries)
	counts := make(map[ledger.DiscrepancyKind]int)
	for _, d := range found {
		counts[d.Kind]++
		logger.Warn("ledger discrepancy",
			slog.String("kind", string(d.Kind)),
			slog.Int("serial", d.Serial),
			slog.String("expected", d.Expected.Decimal.String()),
			slog.String("actual", d.Actual.Decimal.String()))
	}
	for kind, n := range counts {
		j.Metrics.AddDiscrepancies(string(kind), n)
	}
	logger.Info("ledger integrity checked",
		slog.Int("entries", len(entries)),
		slog.Int("discrepancies", len(found)),
		slog.Duration("duration", time.Since(start)))
	return found, nil
}

// HandleSweep enqueues an integrity task per active book.
func (j *IntegrityJob) HandleSweep(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Books == nil || j.Queue == nil {
		return errors.New("ledger sweep: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	ids, err := j.Books.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("ledger sweep: list books: %w", err)
	}
	var errs []error
	for _, id := range ids {
		if err := j.Queue.EnqueueIntegrity(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("book %s: %w", id, err))
		}
	}
	j.logger().Info("ledger sweep queued", slog.Int("books", len(ids)), slog.Int("failed", len(errs)))
	return errors.Join(errs...)
}

func (j *IntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

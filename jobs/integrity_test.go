package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/loanbook/internal/jobs"
	"github.com/odyssey-erp/loanbook/internal/ledger"
	"github.com/odyssey-erp/loanbook/internal/loan"
)

type stubSource struct {
	books   map[uuid.UUID]loan.Book
	entries map[uuid.UUID][]loan.Entry
	err     error
}

func (s stubSource) Book(_ context.Context, id uuid.UUID) (loan.Book, error) {
	if s.err != nil {
		return loan.Book{}, s.err
	}
	b, ok := s.books[id]
	if !ok {
		return loan.Book{}, fmt.Errorf("book: %w", loan.ErrNotFound)
	}
	return b, nil
}

func (s stubSource) ListEntries(_ context.Context, id uuid.UUID) ([]loan.Entry, error) {
	return s.entries[id], nil
}

type stubQueue struct {
	queued []uuid.UUID
	failOn uuid.UUID
}

func (q *stubQueue) EnqueueIntegrity(_ context.Context, id uuid.UUID) error {
	if id == q.failOn {
		return errors.New("redis down")
	}
	q.queued = append(q.queued, id)
	return nil
}

type stubBooks []uuid.UUID

func (b stubBooks) ListActive(context.Context) ([]uuid.UUID, error) { return b, nil }

func ledgerFixture() (loan.Book, []loan.Entry) {
	book := loan.Book{ID: uuid.New(), LoanAmount: decimal.NewFromInt(1000), StartDate: loan.NewDate(2025, 1, 1), NumberOfDays: 3}
	entries := []loan.Entry{
		{ID: uuid.New(), BookID: book.ID, SerialNumber: 1, PageNumber: 1, Date: book.StartDate,
			Amount: loan.Amount(decimal.NewFromInt(100)), Remaining: loan.Amount(decimal.NewFromInt(900))},
		{ID: uuid.New(), BookID: book.ID, SerialNumber: 2, PageNumber: 1, Date: book.StartDate.AddDays(1),
			Amount: loan.Amount(decimal.NewFromInt(100)), Remaining: loan.Amount(decimal.NewFromInt(850))},
		{ID: uuid.New(), BookID: book.ID, SerialNumber: 3, PageNumber: 1, Date: book.StartDate.AddDays(2)},
	}
	return book, entries
}

func TestIntegrityJobReportsDiscrepancies(t *testing.T) {
	book, entries := ledgerFixture()
	reg := prometheus.NewRegistry()
	job := NewIntegrityJob(stubSource{
		books:   map[uuid.UUID]loan.Book{book.ID: book},
		entries: map[uuid.UUID][]loan.Entry{book.ID: entries},
	}, nil, nil, nil, jobmetrics.NewMetrics(reg))

	found, err := job.Audit(context.Background(), book.ID)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ledger.DiscrepancyBalance, found[0].Kind)
	assert.Equal(t, 2, found[0].Serial)

	families, err := reg.Gather()
	require.NoError(t, err)
	var seen bool
	for _, fam := range families {
		if fam.GetName() == "loanbook_ledger_discrepancies_total" {
			seen = true
			assert.Equal(t, 1.0, fam.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, seen)
}

func TestIntegrityHandlePayloads(t *testing.T) {
	book, entries := ledgerFixture()
	job := NewIntegrityJob(stubSource{
		books:   map[uuid.UUID]loan.Book{book.ID: book},
		entries: map[uuid.UUID][]loan.Entry{book.ID: entries},
	}, nil, nil, nil, nil)

	task, err := NewLedgerIntegrityTask(book.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskLedgerIntegrity, task.Type())
	assert.NoError(t, job.Handle(context.Background(), task))

	missing, err := NewLedgerIntegrityTask(uuid.New())
	require.NoError(t, err)
	assert.NoError(t, job.Handle(context.Background(), missing), "deleted books are skipped")

	bad := asynq.NewTask(TaskLedgerIntegrity, []byte("{"))
	assert.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)

	failing := NewIntegrityJob(stubSource{err: errors.New("db down")}, nil, nil, nil, nil)
	assert.Error(t, failing.Handle(context.Background(), task))
}

func TestSweepQueuesEveryActiveBook(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	queue := &stubQueue{failOn: b}
	job := NewIntegrityJob(nil, stubBooks{a, b, c}, queue, nil, nil)

	err := job.HandleSweep(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), b.String())
	assert.Equal(t, []uuid.UUID{a, c}, queue.queued)

	handlers := job.Handlers()
	require.Len(t, handlers, 2)
	assert.Equal(t, TaskLedgerSweep, handlers[1].Type)
}

func TestDefaultCronAndPayload(t *testing.T) {
	cron, err := DefaultCron()
	require.NoError(t, err)
	require.Len(t, cron, 1)
	assert.Equal(t, SweepCron, cron[0].Spec)
	assert.Equal(t, TaskLedgerSweep, cron[0].Task.Type())

	id := uuid.New()
	task, err := NewLedgerIntegrityTask(id)
	require.NoError(t, err)
	var payload LedgerIntegrityPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, id, payload.BookID)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestJobsHealthHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Failed: 1}}, nil).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats QueueStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 4, stats.Pending)
	assert.Equal(t, 1, stats.Failed)

	down := chi.NewRouter()
	down.Route("/jobs", NewHandler(stubInspector{err: errors.New("no redis")}, nil).MountRoutes)
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

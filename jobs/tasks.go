package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity audits one book's running balances.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskLedgerSweep fans out an integrity task for every active book.
	TaskLedgerSweep = "ledger:integrity_sweep"

	// SweepCron runs the nightly sweep.
	SweepCron = "0 2 * * *"
	// integrityDedupe coalesces bursts of saves on one book into one audit.
	integrityDedupe = time.Minute
)

// LedgerIntegrityPayload names the book to audit.
type LedgerIntegrityPayload struct {
	BookID uuid.UUID `json:"book_id"`
}

// LedgerSweepPayload carries scheduling metadata.
type LedgerSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLedgerIntegrityTask constructs an Asynq task for one book.
func NewLedgerIntegrityTask(bookID uuid.UUID) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{BookID: bookID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewLedgerSweepTask constructs the fan-out task.
func NewLedgerSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerSweep, body, asynq.Queue(QueueDefault)), nil
}

// DefaultCron returns the nightly sweep registration.
func DefaultCron() ([]CronRegistration, error) {
	task, err := NewLedgerSweepTask(time.Time{})
	if err != nil {
		return nil, err
	}
	return []CronRegistration{{Spec: SweepCron, Task: task}}, nil
}

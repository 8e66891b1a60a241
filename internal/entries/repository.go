// Package entries serves the ledger entry and signature endpoints of the loanbook API.
package entries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/platform/db"
)

// SignatureLog is one recorded signature transition.
type SignatureLog struct {
	ID      int64                `json:"id"`
	EntryID uuid.UUID            `json:"entryId"`
	BookID  uuid.UUID            `json:"bookId"`
	ActorID string               `json:"actorId"`
	Action  string               `json:"action"`
	Status  loan.SignatureStatus `json:"status"`
	At      time.Time            `json:"at"`
}

// Repository persists entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockBook(ctx context.Context, bookID uuid.UUID) (loan.Book, error)
	ListEntries(ctx context.Context, bookID uuid.UUID) ([]loan.Entry, error)
	GetEntryForUpdate(ctx context.Context, entryID uuid.UUID) (loan.Entry, error)
	UpsertEntry(ctx context.Context, e loan.Entry) (loan.Entry, error)
	UpdateSignature(ctx context.Context, e loan.Entry) error
	TouchBook(ctx context.Context, bookID uuid.UUID, at time.Time) error
	RecordSignature(ctx context.Context, log SignatureLog) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ListEntries returns a book's entries ordered by serial number.
func (r *Repository) ListEntries(ctx context.Context, bookID uuid.UUID) ([]loan.Entry, error) {
	return listEntries(ctx, r.pool, bookID, "")
}

// Book loads a book's ledger header and members. Balance is not computed.
func (r *Repository) Book(ctx context.Context, bookID uuid.UUID) (loan.Book, error) {
	return loadBook(ctx, r.pool, bookID, "")
}

// Entry loads one entry without locking it.
func (r *Repository) Entry(ctx context.Context, entryID uuid.UUID) (loan.Entry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, selectEntry+` WHERE id = $1`, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return loan.Entry{}, fmt.Errorf("entry %s: %w", entryID, loan.ErrNotFound)
	}
	return e, err
}

// SignatureHistory returns the recorded transitions of an entry, oldest first.
func (r *Repository) SignatureHistory(ctx context.Context, entryID uuid.UUID) ([]SignatureLog, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, entry_id, book_id, actor_id, action, status, at
FROM signature_log WHERE entry_id = $1 ORDER BY at ASC, id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	logs := []SignatureLog{}
	for rows.Next() {
		var (
			l      SignatureLog
			status string
		)
		if err := rows.Scan(&l.ID, &l.EntryID, &l.BookID, &l.ActorID, &l.Action, &status, &l.At); err != nil {
			return nil, err
		}
		if l.Status, err = loan.ParseSignatureStatus(status); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *txRepo) LockBook(ctx context.Context, bookID uuid.UUID) (loan.Book, error) {
	return loadBook(ctx, r.tx, bookID, " FOR UPDATE OF b")
}

func (r *txRepo) ListEntries(ctx context.Context, bookID uuid.UUID) ([]loan.Entry, error) {
	return listEntries(ctx, r.tx, bookID, " FOR UPDATE")
}

func (r *txRepo) GetEntryForUpdate(ctx context.Context, entryID uuid.UUID) (loan.Entry, error) {
	e, err := scanEntry(r.tx.QueryRow(ctx, selectEntry+` WHERE id = $1 FOR UPDATE`, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return loan.Entry{}, fmt.Errorf("entry %s: %w", entryID, loan.ErrNotFound)
	}
	return e, err
}

// UpsertEntry writes e keyed by (book_id, serial_number). An existing row keeps its id.
func (r *txRepo) UpsertEntry(ctx context.Context, e loan.Entry) (loan.Entry, error) {
	return scanEntry(r.tx.QueryRow(ctx, `INSERT INTO entries
    (id, book_id, serial_number, page_number, entry_date, amount, remaining,
     signature_status, requested_by, signed_by, signed_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (book_id, serial_number) DO UPDATE SET
    page_number = EXCLUDED.page_number,
    entry_date = EXCLUDED.entry_date,
    amount = EXCLUDED.amount,
    remaining = EXCLUDED.remaining,
    signature_status = EXCLUDED.signature_status,
    requested_by = EXCLUDED.requested_by,
    signed_by = EXCLUDED.signed_by,
    signed_at = EXCLUDED.signed_at,
    updated_at = EXCLUDED.updated_at
RETURNING `+entryColumns,
		e.ID, e.BookID, e.SerialNumber, e.PageNumber, e.Date, e.Amount, e.Remaining,
		e.SignatureStatus.String(), nullText(e.RequestedBy), nullText(e.SignedBy), e.SignedAt, e.UpdatedAt))
}

func (r *txRepo) UpdateSignature(ctx context.Context, e loan.Entry) error {
	_, err := r.tx.Exec(ctx, `UPDATE entries
SET signature_status = $2, requested_by = $3, signed_by = $4, signed_at = $5, updated_at = $6
WHERE id = $1`, e.ID, e.SignatureStatus.String(), nullText(e.RequestedBy), nullText(e.SignedBy), e.SignedAt, e.UpdatedAt)
	return err
}

func (r *txRepo) TouchBook(ctx context.Context, bookID uuid.UUID, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE books SET updated_at = $2 WHERE id = $1`, bookID, at)
	return err
}

func (r *txRepo) RecordSignature(ctx context.Context, log SignatureLog) error {
	if log.EntryID == uuid.Nil || log.ActorID == "" || log.Action == "" {
		return errors.New("entries: incomplete signature log")
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO signature_log (entry_id, book_id, actor_id, action, status, at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		log.EntryID, log.BookID, log.ActorID, log.Action, log.Status.String(), nullTime(log.At))
	return err
}

// ============================================================================
// SCANNING
// ============================================================================

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const entryColumns = `id, book_id, serial_number, page_number, entry_date, amount, remaining,
    signature_status, COALESCE(requested_by, ''), COALESCE(signed_by, ''), signed_at, updated_at`

const selectEntry = `SELECT ` + entryColumns + ` FROM entries`

func listEntries(ctx context.Context, q querier, bookID uuid.UUID, suffix string) ([]loan.Entry, error) {
	rows, err := q.Query(ctx, selectEntry+` WHERE book_id = $1 ORDER BY serial_number`+suffix, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []loan.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (loan.Entry, error) {
	var (
		e      loan.Entry
		status string
	)
	err := row.Scan(&e.ID, &e.BookID, &e.SerialNumber, &e.PageNumber, &e.Date, &e.Amount, &e.Remaining,
		&status, &e.RequestedBy, &e.SignedBy, &e.SignedAt, &e.UpdatedAt)
	if err != nil {
		return loan.Entry{}, err
	}
	if e.SignatureStatus, err = loan.ParseSignatureStatus(status); err != nil {
		return loan.Entry{}, err
	}
	return e, nil
}

func loadBook(ctx context.Context, q querier, bookID uuid.UUID, lock string) (loan.Book, error) {
	var (
		book   loan.Book
		status string
	)
	err := q.QueryRow(ctx, `SELECT b.id, b.owner_id, b.name, b.loan_amount, b.start_date, b.number_of_days, b.status,
       b.created_at, b.updated_at,
       COALESCE((SELECT array_agg(s.user_id ORDER BY s.user_id) FROM book_shares s WHERE s.book_id = b.id), '{}')
FROM books b WHERE b.id = $1`+lock, bookID).
		Scan(&book.ID, &book.OwnerID, &book.Name, &book.LoanAmount, &book.StartDate, &book.NumberOfDays, &status,
			&book.CreatedAt, &book.UpdatedAt, &book.Members)
	if errors.Is(err, pgx.ErrNoRows) {
		return loan.Book{}, fmt.Errorf("book %s: %w", bookID, loan.ErrNotFound)
	}
	if err != nil {
		return loan.Book{}, err
	}
	book.Status = loan.BookStatus(status)
	return book, nil
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

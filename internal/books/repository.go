// Package books serves the book, membership and sharing side of the loanbook API.
package books

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/platform/db"
)

// ErrDuplicateShare indicates the user already has access to the book.
var ErrDuplicateShare = errors.New("books: already shared with user")

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectBook = `SELECT b.id, b.owner_id, b.name, b.loan_amount, b.start_date, b.number_of_days, b.status,
       b.created_at, b.updated_at,
       b.loan_amount - COALESCE((SELECT SUM(e.amount) FROM entries e WHERE e.book_id = b.id AND e.amount IS NOT NULL), 0),
       COALESCE((SELECT array_agg(s.user_id ORDER BY s.user_id) FROM book_shares s WHERE s.book_id = b.id), '{}')
FROM books b`

// ListForUser returns books owned by or shared with userID, most recently updated first.
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]loan.Book, error) {
	rows, err := r.pool.Query(ctx, selectBook+`
WHERE b.owner_id = $1 OR EXISTS (SELECT 1 FROM book_shares s WHERE s.book_id = b.id AND s.user_id = $1)
ORDER BY b.updated_at DESC, b.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var books []loan.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return books, nil
}

// Get loads one book with its members and balance.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (loan.Book, error) {
	book, err := scanBook(r.pool.QueryRow(ctx, selectBook+` WHERE b.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return loan.Book{}, fmt.Errorf("book %s: %w", id, loan.ErrNotFound)
	}
	return book, err
}

// Create inserts a new book.
func (r *Repository) Create(ctx context.Context, book loan.Book) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO books (id, owner_id, name, loan_amount, start_date, number_of_days, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		book.ID, book.OwnerID, book.Name, book.LoanAmount, book.StartDate, book.NumberOfDays, string(book.Status), book.CreatedAt)
	return err
}

// Update writes the book's name and principal. When rebalance is set it is
// handed every entry of the book, locked, and the remaining values it returns
// are written back in the same transaction. It reports how many were written.
func (r *Repository) Update(ctx context.Context, book loan.Book, rebalance func([]loan.Entry) []loan.Entry) (int, error) {
	written := 0
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE books SET name = $2, loan_amount = $3, updated_at = $4 WHERE id = $1`,
			book.ID, book.Name, book.LoanAmount, book.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("book %s: %w", book.ID, loan.ErrNotFound)
		}
		if rebalance == nil {
			return nil
		}
		entries, err := ledgerAmounts(ctx, tx, book.ID)
		if err != nil {
			return err
		}
		for _, e := range rebalance(entries) {
			if _, err := tx.Exec(ctx, `UPDATE entries SET remaining = $2, updated_at = $3 WHERE id = $1`,
				e.ID, e.Remaining, e.UpdatedAt); err != nil {
				return fmt.Errorf("rebalance entry %d: %w", e.SerialNumber, err)
			}
			written++
		}
		return nil
	})
	return written, err
}

func ledgerAmounts(ctx context.Context, tx pgx.Tx, bookID uuid.UUID) ([]loan.Entry, error) {
	rows, err := tx.Query(ctx, `SELECT id, serial_number, amount, remaining FROM entries
WHERE book_id = $1 ORDER BY serial_number FOR UPDATE`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []loan.Entry
	for rows.Next() {
		e := loan.Entry{BookID: bookID}
		if err := rows.Scan(&e.ID, &e.SerialNumber, &e.Amount, &e.Remaining); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetStatus updates the lifecycle status.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status loan.BookStatus, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE books SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("book %s: %w", id, loan.ErrNotFound)
	}
	return nil
}

// Delete removes a book; entries, shares and the signature log cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("book %s: %w", id, loan.ErrNotFound)
	}
	return nil
}

// AddShare grants userID access.
func (r *Repository) AddShare(ctx context.Context, id uuid.UUID, userID string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO book_shares (book_id, user_id) VALUES ($1, $2)`, id, userID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateShare
	}
	return err
}

// RemoveShare revokes userID's access.
func (r *Repository) RemoveShare(ctx context.Context, id uuid.UUID, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM book_shares WHERE book_id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("share %s/%s: %w", id, userID, loan.ErrNotFound)
	}
	return nil
}

// ListActive returns the ids of every active book. Used by the nightly integrity sweep.
func (r *Repository) ListActive(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM books WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanBook(row pgx.Row) (loan.Book, error) {
	var (
		book   loan.Book
		status string
	)
	err := row.Scan(&book.ID, &book.OwnerID, &book.Name, &book.LoanAmount, &book.StartDate, &book.NumberOfDays, &status,
		&book.CreatedAt, &book.UpdatedAt, &book.Balance, &book.Members)
	if err != nil {
		return loan.Book{}, err
	}
	book.Status = loan.BookStatus(status)
	return book, nil
}

// Package ledger computes and persists the running balance of a book's entries.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/signature"
)

// Edit is a requested change to one entry.
type Edit struct {
	Serial int
	Amount decimal.Decimal
	Date   loan.Date
}

// Plan is the complete set of entries an edit changes.
type Plan struct {
	// Changes holds every modified entry in serial order, the edited one included.
	Changes          []loan.Entry
	Edited           loan.Entry
	Balance          decimal.Decimal
	Backfilled       int
	Recomputed       int
	SignatureCleared bool
}

// AutoFill produces the initial ledger for a new book: one entry per day with
// consecutive dates and empty amounts.
func AutoFill(book loan.Book, newID func() uuid.UUID) ([]loan.Entry, error) {
	if book.NumberOfDays <= 0 {
		return nil, &loan.ValidationError{Field: "numberOfDays", Reason: "must be positive"}
	}
	if book.StartDate.IsZero() {
		return nil, &loan.ValidationError{Field: "startDate", Reason: "required"}
	}
	if newID == nil {
		newID = uuid.New
	}
	entries := make([]loan.Entry, 0, book.NumberOfDays)
	for day := 0; day < book.NumberOfDays; day++ {
		serial := day + 1
		entries = append(entries, loan.Entry{
			ID:              newID(),
			BookID:          book.ID,
			SerialNumber:    serial,
			PageNumber:      loan.PageFor(serial),
			Date:            book.StartDate.AddDays(day),
			SignatureStatus: loan.SignatureNone,
		})
	}
	return entries, nil
}

// Backfill coerces every dated entry below beforeSerial with an empty amount to
// zero and recomputes its remaining. It returns only the entries it changed.
func Backfill(book loan.Book, entries []loan.Entry, beforeSerial int) []loan.Entry {
	sorted := sortedCopy(entries)
	running := decimal.Zero
	var changed []loan.Entry
	for i := range sorted {
		e := &sorted[i]
		if e.SerialNumber >= beforeSerial {
			break
		}
		if !e.Filled() {
			if e.Date.IsZero() {
				continue
			}
			backfillEntry(e, book.LoanAmount.Sub(running))
			changed = append(changed, *e)
			continue
		}
		running = running.Add(e.Amount.Decimal)
	}
	return changed
}

// PlanEdit computes the full change set for an edit without touching storage:
// backfill below the edited serial, the edited entry itself and the remaining
// of every filled entry above it. Empty entries above the edit stay untouched.
func PlanEdit(book loan.Book, entries []loan.Entry, edit Edit, now time.Time) (Plan, error) {
	if book.IsClosed() {
		return Plan{}, &loan.StateError{Reason: fmt.Sprintf("book %s is closed", book.ID)}
	}
	if edit.Date.IsZero() {
		return Plan{}, &loan.ValidationError{Field: "date", Reason: "required"}
	}
	sorted := sortedCopy(entries)
	idx := -1
	for i := range sorted {
		if sorted[i].SerialNumber == edit.Serial {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Plan{}, fmt.Errorf("entry %d of book %s: %w", edit.Serial, book.ID, loan.ErrNotFound)
	}

	plan := Plan{Changes: Backfill(book, sorted[:idx], edit.Serial)}
	for i := range plan.Changes {
		plan.Changes[i].UpdatedAt = now
	}
	plan.Backfilled = len(plan.Changes)

	running := decimal.Zero
	for _, e := range sorted[:idx] {
		if e.Filled() {
			running = running.Add(e.Amount.Decimal)
		}
	}

	e := &sorted[idx]
	wasApproved := e.SignatureStatus == loan.SignatureApproved
	e.Date = edit.Date
	e.Amount = loan.Amount(edit.Amount)
	running = running.Add(edit.Amount)
	e.Remaining = loan.Amount(book.LoanAmount.Sub(running))
	e.PageNumber = loan.PageFor(e.SerialNumber)
	if wasApproved {
		signature.ClearOnEdit(e)
		plan.SignatureCleared = true
	}
	e.UpdatedAt = now
	plan.Edited = *e
	plan.Changes = append(plan.Changes, *e)

	later, running := rebalance(book, sorted[idx+1:], running, now)
	plan.Recomputed = len(later)
	plan.Changes = append(plan.Changes, later...)
	plan.Balance = book.LoanAmount.Sub(running)
	return plan, nil
}

// Rebalance recomputes the remaining of every filled entry against the book's
// current principal, as needed after the loan amount changes. It returns only
// the entries whose remaining moved. Signature status is left as it is.
func Rebalance(book loan.Book, entries []loan.Entry, now time.Time) []loan.Entry {
	changed, _ := rebalance(book, sortedCopy(entries), decimal.Zero, now)
	return changed
}

// rebalance walks sorted entries carrying paid forward and rewrites stale
// remaining values in place.
func rebalance(book loan.Book, sorted []loan.Entry, paid decimal.Decimal, now time.Time) ([]loan.Entry, decimal.Decimal) {
	var changed []loan.Entry
	for i := range sorted {
		e := &sorted[i]
		if !e.Filled() {
			continue
		}
		paid = paid.Add(e.Amount.Decimal)
		want := book.LoanAmount.Sub(paid)
		if e.Remaining.Valid && e.Remaining.Decimal.Equal(want) {
			continue
		}
		e.Remaining = loan.Amount(want)
		e.UpdatedAt = now
		changed = append(changed, *e)
	}
	return changed, paid
}

// Balance returns the principal minus every recorded amount.
func Balance(book loan.Book, entries []loan.Entry) decimal.Decimal {
	paid := decimal.Zero
	for _, e := range entries {
		if e.Filled() {
			paid = paid.Add(e.Amount.Decimal)
		}
	}
	return book.LoanAmount.Sub(paid)
}

// DiscrepancyKind classifies ledger integrity problems.
type DiscrepancyKind string

const (
	DiscrepancyBalance DiscrepancyKind = "balance"
	DiscrepancyGap     DiscrepancyKind = "gap"
	DiscrepancySerial  DiscrepancyKind = "serial"
	DiscrepancyPage    DiscrepancyKind = "page"
)

// Discrepancy is one integrity violation found by Audit.
type Discrepancy struct {
	Kind     DiscrepancyKind     `json:"kind"`
	Serial   int                 `json:"serial"`
	Expected decimal.NullDecimal `json:"expected"`
	Actual   decimal.NullDecimal `json:"actual"`
}

// Audit checks the stored entries against the ledger invariants.
func Audit(book loan.Book, entries []loan.Entry) []Discrepancy {
	sorted := sortedCopy(entries)
	var out []Discrepancy

	for i, e := range sorted {
		if e.SerialNumber != i+1 {
			out = append(out, Discrepancy{Kind: DiscrepancySerial, Serial: e.SerialNumber})
			break
		}
	}
	if book.NumberOfDays > 0 && len(sorted) != book.NumberOfDays {
		out = append(out, Discrepancy{Kind: DiscrepancySerial, Serial: len(sorted)})
	}

	lastFilled := 0
	for _, e := range sorted {
		if e.Filled() {
			lastFilled = e.SerialNumber
		}
	}

	running := decimal.Zero
	for _, e := range sorted {
		if e.PageNumber != loan.PageFor(e.SerialNumber) {
			out = append(out, Discrepancy{Kind: DiscrepancyPage, Serial: e.SerialNumber})
		}
		if !e.Filled() {
			if !e.Date.IsZero() && e.SerialNumber < lastFilled {
				out = append(out, Discrepancy{Kind: DiscrepancyGap, Serial: e.SerialNumber})
			}
			continue
		}
		running = running.Add(e.Amount.Decimal)
		want := book.LoanAmount.Sub(running)
		if !e.Remaining.Valid || !e.Remaining.Decimal.Equal(want) {
			out = append(out, Discrepancy{
				Kind:     DiscrepancyBalance,
				Serial:   e.SerialNumber,
				Expected: loan.Amount(want),
				Actual:   e.Remaining,
			})
		}
	}
	return out
}

func backfillEntry(e *loan.Entry, remaining decimal.Decimal) {
	if e.SignatureStatus == loan.SignatureApproved {
		signature.ClearOnEdit(e)
	}
	e.Amount = loan.Amount(decimal.Zero)
	e.Remaining = loan.Amount(remaining)
}

func sortedCopy(entries []loan.Entry) []loan.Entry {
	out := make([]loan.Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SerialNumber < out[j].SerialNumber
	})
	return out
}

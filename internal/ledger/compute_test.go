package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/loanbook/internal/loan"
)

var editTime = time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)

func newBook(amount int64, days int) loan.Book {
	return loan.Book{
		ID:           uuid.New(),
		OwnerID:      "lender",
		Members:      []string{"borrower"},
		LoanAmount:   decimal.NewFromInt(amount),
		StartDate:    loan.NewDate(2025, 1, 1),
		NumberOfDays: days,
		Status:       loan.BookActive,
	}
}

func filledLedger(t *testing.T, book loan.Book) []loan.Entry {
	t.Helper()
	entries, err := AutoFill(book, uuid.New)
	require.NoError(t, err)
	return entries
}

func amountOf(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func apply(entries []loan.Entry, changes []loan.Entry) []loan.Entry {
	out := append([]loan.Entry(nil), entries...)
	for _, c := range changes {
		for i := range out {
			if out[i].SerialNumber == c.SerialNumber {
				out[i] = c
			}
		}
	}
	return out
}

func TestAutoFillProducesConsecutiveDays(t *testing.T) {
	book := newBook(1000, 3)
	entries := filledLedger(t, book)

	require.Len(t, entries, 3)
	want := []string{"2025-01-01", "2025-01-02", "2025-01-03"}
	for i, e := range entries {
		assert.Equal(t, i+1, e.SerialNumber)
		assert.Equal(t, 1, e.PageNumber)
		assert.Equal(t, want[i], e.Date.String())
		assert.False(t, e.Amount.Valid)
		assert.False(t, e.Remaining.Valid)
		assert.Equal(t, loan.SignatureNone, e.SignatureStatus)
		assert.True(t, e.Persisted())
		assert.Equal(t, book.ID, e.BookID)
	}
}

func TestAutoFillPagesAndMonthRollover(t *testing.T) {
	book := newBook(5000, 45)
	book.StartDate = loan.NewDate(2024, 2, 20)
	entries := filledLedger(t, book)

	require.Len(t, entries, 45)
	assert.Equal(t, 2, entries[10].PageNumber)
	assert.Equal(t, 5, entries[44].PageNumber)
	assert.Equal(t, "2024-02-29", entries[9].Date.String())
	assert.Equal(t, "2024-03-01", entries[10].Date.String())
}

func TestAutoFillRejectsBadInput(t *testing.T) {
	book := newBook(1000, 0)
	_, err := AutoFill(book, nil)
	assert.ErrorIs(t, err, loan.ErrValidation)

	book = newBook(1000, 3)
	book.StartDate = loan.Date{}
	_, err = AutoFill(book, nil)
	assert.ErrorIs(t, err, loan.ErrValidation)
}

func TestPlanEditFirstEntry(t *testing.T) {
	book := newBook(1000, 3)
	entries := filledLedger(t, book)

	plan, err := PlanEdit(book, entries, Edit{Serial: 1, Amount: amountOf(100), Date: loan.NewDate(2025, 1, 1)}, editTime)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	assert.True(t, plan.Edited.Remaining.Decimal.Equal(amountOf(900)))
	assert.True(t, plan.Balance.Equal(amountOf(900)))
	assert.Zero(t, plan.Backfilled)

	after := apply(entries, plan.Changes)
	assert.False(t, after[1].Amount.Valid)
	assert.False(t, after[2].Amount.Valid)
}

func TestPlanEditBackfillsSkippedEntries(t *testing.T) {
	book := newBook(1000, 3)
	entries := filledLedger(t, book)

	plan, err := PlanEdit(book, entries, Edit{Serial: 1, Amount: amountOf(100), Date: loan.NewDate(2025, 1, 1)}, editTime)
	require.NoError(t, err)
	entries = apply(entries, plan.Changes)

	plan, err = PlanEdit(book, entries, Edit{Serial: 3, Amount: amountOf(200), Date: loan.NewDate(2025, 1, 3)}, editTime)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Backfilled)
	require.Len(t, plan.Changes, 2)

	entries = apply(entries, plan.Changes)
	assert.True(t, entries[1].Amount.Decimal.IsZero())
	assert.True(t, entries[1].Remaining.Decimal.Equal(amountOf(900)))
	assert.True(t, entries[2].Remaining.Decimal.Equal(amountOf(700)))
	assert.True(t, plan.Balance.Equal(amountOf(700)))
	assert.Empty(t, Audit(book, entries))
}

func TestPlanEditRecomputesOnlyFilledLaterEntries(t *testing.T) {
	book := newBook(1000, 5)
	entries := filledLedger(t, book)
	for _, e := range []Edit{
		{Serial: 1, Amount: amountOf(100), Date: loan.NewDate(2025, 1, 1)},
		{Serial: 2, Amount: amountOf(100), Date: loan.NewDate(2025, 1, 2)},
		{Serial: 3, Amount: amountOf(100), Date: loan.NewDate(2025, 1, 3)},
	} {
		plan, err := PlanEdit(book, entries, e, editTime)
		require.NoError(t, err)
		entries = apply(entries, plan.Changes)
	}

	plan, err := PlanEdit(book, entries, Edit{Serial: 1, Amount: amountOf(250), Date: loan.NewDate(2025, 1, 1)}, editTime)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Recomputed)
	entries = apply(entries, plan.Changes)

	assert.True(t, entries[1].Remaining.Decimal.Equal(amountOf(650)))
	assert.True(t, entries[2].Remaining.Decimal.Equal(amountOf(550)))
	assert.False(t, entries[3].Amount.Valid)
	assert.False(t, entries[4].Remaining.Valid)
}

func TestPlanEditKeepsLaterApprovalWhileRecomputing(t *testing.T) {
	book := newBook(1000, 3)
	entries := filledLedger(t, book)
	signed := editTime.Add(-time.Hour)
	for i, amount := range []int64{100, 100, 100} {
		entries[i].Amount = loan.Amount(amountOf(amount))
		entries[i].Remaining = loan.Amount(amountOf(1000 - 100*int64(i+1)))
	}
	entries[2].SignatureStatus = loan.SignatureApproved
	entries[2].RequestedBy = "lender"
	entries[2].SignedBy = "borrower"
	entries[2].SignedAt = &signed

	plan, err := PlanEdit(book, entries, Edit{Serial: 1, Amount: amountOf(0), Date: loan.NewDate(2025, 1, 1)}, editTime)
	require.NoError(t, err)
	assert.False(t, plan.SignatureCleared)
	entries = apply(entries, plan.Changes)

	third := entries[2]
	assert.True(t, third.Remaining.Decimal.Equal(amountOf(800)))
	assert.Equal(t, loan.SignatureApproved, third.SignatureStatus)
	assert.Equal(t, "borrower", third.SignedBy)
	require.NotNil(t, third.SignedAt)
	assert.True(t, third.SignedAt.Equal(signed))
}

func TestPlanEditClearsApprovedSignature(t *testing.T) {
	book := newBook(1000, 3)
	entries := filledLedger(t, book)
	signed := editTime.Add(-time.Hour)
	entries[0].Amount = loan.Amount(amountOf(100))
	entries[0].Remaining = loan.Amount(amountOf(900))
	entries[0].SignatureStatus = loan.SignatureApproved
	entries[0].RequestedBy = "lender"
	entries[0].SignedBy = "borrower"
	entries[0].SignedAt = &signed

	plan, err := PlanEdit(book, entries, Edit{Serial: 1, Amount: amountOf(150), Date: loan.NewDate(2025, 1, 1)}, editTime)
	require.NoError(t, err)
	assert.True(t, plan.SignatureCleared)
	assert.Equal(t, loan.SignatureNone, plan.Edited.SignatureStatus)
	assert.Empty(t, plan.Edited.RequestedBy)
	assert.Empty(t, plan.Edited.SignedBy)
	assert.Nil(t, plan.Edited.SignedAt)
}

func TestPlanEditKeepsPendingRequest(t *testing.T) {
	book := newBook(1000, 3)
	entries := filledLedger(t, book)
	entries[0].SignatureStatus = loan.SignatureRequested
	entries[0].RequestedBy = "lender"

	plan, err := PlanEdit(book, entries, Edit{Serial: 1, Amount: amountOf(10), Date: loan.NewDate(2025, 1, 1)}, editTime)
	require.NoError(t, err)
	assert.False(t, plan.SignatureCleared)
	assert.Equal(t, loan.SignatureRequested, plan.Edited.SignatureStatus)
}

func TestPlanEditErrors(t *testing.T) {
	book := newBook(1000, 3)
	entries := filledLedger(t, book)

	_, err := PlanEdit(book, entries, Edit{Serial: 1, Amount: amountOf(10)}, editTime)
	assert.ErrorIs(t, err, loan.ErrValidation)

	_, err = PlanEdit(book, entries[:2], Edit{Serial: 3, Amount: amountOf(10), Date: loan.NewDate(2025, 1, 3)}, editTime)
	assert.ErrorIs(t, err, loan.ErrNotFound)

	book.Status = loan.BookClosed
	_, err = PlanEdit(book, entries, Edit{Serial: 1, Amount: amountOf(10), Date: loan.NewDate(2025, 1, 1)}, editTime)
	assert.ErrorIs(t, err, loan.ErrState)
}

func TestPlanEditLeavesUndatedGapsAlone(t *testing.T) {
	book := newBook(1000, 3)
	entries := filledLedger(t, book)
	entries[1].Date = loan.Date{}

	plan, err := PlanEdit(book, entries, Edit{Serial: 3, Amount: amountOf(50), Date: loan.NewDate(2025, 1, 3)}, editTime)
	require.NoError(t, err)
	entries = apply(entries, plan.Changes)
	assert.True(t, entries[0].Amount.Decimal.IsZero())
	assert.False(t, entries[1].Amount.Valid)
	assert.True(t, entries[2].Remaining.Decimal.Equal(amountOf(950)))
}

func TestBackfill(t *testing.T) {
	book := newBook(1000, 4)
	entries := filledLedger(t, book)
	entries[0].Amount = loan.Amount(amountOf(100))
	entries[0].Remaining = loan.Amount(amountOf(900))

	changed := Backfill(book, entries, 4)
	require.Len(t, changed, 2)
	assert.Equal(t, 2, changed[0].SerialNumber)
	assert.True(t, changed[0].Remaining.Decimal.Equal(amountOf(900)))
	assert.Equal(t, 3, changed[1].SerialNumber)
}

func TestRebalanceAfterPrincipalChange(t *testing.T) {
	book := newBook(1000, 4)
	entries := filledLedger(t, book)
	entries[0].Amount = loan.Amount(amountOf(100))
	entries[0].Remaining = loan.Amount(amountOf(900))
	entries[1].Amount = loan.Amount(amountOf(0))
	entries[1].Remaining = loan.Amount(amountOf(900))
	entries[2].Amount = loan.Amount(amountOf(200))
	entries[2].Remaining = loan.Amount(amountOf(700))
	entries[2].SignatureStatus = loan.SignatureApproved

	book.LoanAmount = amountOf(1500)
	changed := Rebalance(book, entries, editTime)
	require.Len(t, changed, 3)
	assert.True(t, changed[0].Remaining.Decimal.Equal(amountOf(1400)))
	assert.True(t, changed[2].Remaining.Decimal.Equal(amountOf(1200)))
	assert.Equal(t, loan.SignatureApproved, changed[2].SignatureStatus)
	assert.Equal(t, editTime, changed[0].UpdatedAt)

	entries = apply(entries, changed)
	assert.False(t, entries[3].Remaining.Valid)
	assert.Empty(t, Audit(book, entries))
	assert.Empty(t, Rebalance(book, entries, editTime))
}

func TestBalanceAndAudit(t *testing.T) {
	book := newBook(1000, 3)
	entries := filledLedger(t, book)
	entries[0].Amount = loan.Amount(amountOf(100))
	entries[0].Remaining = loan.Amount(amountOf(800))
	entries[2].Amount = loan.Amount(amountOf(50))
	entries[2].Remaining = loan.Amount(amountOf(850))

	assert.True(t, Balance(book, entries).Equal(amountOf(850)))

	found := Audit(book, entries)
	kinds := map[DiscrepancyKind]int{}
	for _, d := range found {
		kinds[d.Kind]++
	}
	assert.Equal(t, 1, kinds[DiscrepancyBalance])
	assert.Equal(t, 1, kinds[DiscrepancyGap])
}

func TestAuditSerialGaps(t *testing.T) {
	book := newBook(1000, 3)
	entries := filledLedger(t, book)
	found := Audit(book, []loan.Entry{entries[0], entries[2]})
	require.NotEmpty(t, found)
	assert.Equal(t, DiscrepancySerial, found[0].Kind)
}

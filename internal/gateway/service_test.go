package gateway

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/backend"
	"github.com/odyssey-erp/loanbook/internal/backend/backendtest"
	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/netmon/netmontest"
	"github.com/odyssey-erp/loanbook/internal/offline"
	"github.com/odyssey-erp/loanbook/internal/signature"
)

var lender = auth.Session{UserID: "lender", Token: "t-lender"}

type fixture struct {
	fake    *backendtest.Fake
	net     *netmontest.Switch
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := backendtest.New()
	net := netmontest.New(true)
	coord := offline.NewCoordinator(offline.NewMemoryCache(), net)
	return &fixture{
		fake: fake,
		net:  net,
		service: NewService(Config{
			Session:     lender,
			Coordinator: coord,
			Backend:     fake,
			Locale:      "en",
		}),
	}
}

func (f *fixture) createBook(t *testing.T, days int) loan.Book {
	t.Helper()
	book, entries, err := f.service.CreateBook(context.Background(), backend.NewBook{
		Name:         "Market stall",
		LoanAmount:   decimal.NewFromInt(1000),
		StartDate:    loan.NewDate(2025, 1, 1),
		NumberOfDays: days,
	})
	require.NoError(t, err)
	require.Len(t, entries, days)
	require.NoError(t, f.fake.Share(context.Background(), lender, book.ID, "borrower"))
	return book
}

func TestPageViewShowsBalanceAndButtons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.createBook(t, 12)

	_, err := f.service.SaveEdit(ctx, book.ID, 1, "100", "2025-01-01")
	require.NoError(t, err)

	view, err := f.service.Page(ctx, book.ID, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Page)
	assert.Equal(t, 2, view.TotalPages)
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, "900.00", view.BalanceDisplay)
	require.Len(t, view.Rows, loan.PageSize)

	first := view.Rows[0]
	assert.Equal(t, 1, first.SerialNumber)
	assert.Equal(t, "900.00", first.RemainingDisplay)
	assert.Equal(t, signature.LabelRequest, first.Button.Label)
	assert.True(t, first.Button.Enabled)
	assert.Empty(t, view.Rows[1].RemainingDisplay)

	second, err := f.service.Page(ctx, book.ID, 2, false)
	require.NoError(t, err)
	require.Len(t, second.Rows, 2)
	assert.Equal(t, 11, second.Rows[0].SerialNumber)

	_, err = f.service.Page(ctx, book.ID, 3, false)
	assert.ErrorIs(t, err, loan.ErrValidation)
}

func TestPageViewOfflineServesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.createBook(t, 3)

	_, err := f.service.SaveEdit(ctx, book.ID, 1, "250", "2025-01-01")
	require.NoError(t, err)
	_, err = f.service.Page(ctx, book.ID, 1, false)
	require.NoError(t, err)

	f.net.Set(false)
	view, err := f.service.Page(ctx, book.ID, 1, false)
	require.NoError(t, err)
	assert.False(t, view.Online)
	assert.Equal(t, "750.00", view.BalanceDisplay)
	assert.False(t, view.Rows[0].Button.Enabled)
	assert.Equal(t, signature.GuardOffline, view.Rows[0].Button.Guard)
	assert.False(t, f.service.Status().Online)
}

func TestLifecycleWritesRefusedOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.createBook(t, 3)

	closed, err := f.service.SetStatus(ctx, book.ID, loan.BookClosed)
	require.NoError(t, err)
	assert.Equal(t, loan.BookClosed, closed.Status)

	books, err := f.service.Books(ctx, false)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, loan.BookClosed, books[0].Status)

	f.net.Set(false)
	_, err = f.service.SetStatus(ctx, book.ID, loan.BookActive)
	assert.ErrorIs(t, err, loan.ErrOfflineWrite)
	assert.ErrorIs(t, f.service.DeleteBook(ctx, book.ID), loan.ErrOfflineWrite)

	f.net.Set(true)
	require.NoError(t, f.service.DeleteBook(ctx, book.ID))
	books, err = f.service.Books(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestUpdateBookRefreshesCachedLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.createBook(t, 3)
	_, err := f.service.SaveEdit(ctx, book.ID, 1, "100", "2025-01-01")
	require.NoError(t, err)
	view, err := f.service.Page(ctx, book.ID, 1, false)
	require.NoError(t, err)
	assert.Equal(t, "900.00", view.Rows[0].RemainingDisplay)

	updated, err := f.service.UpdateBook(ctx, book.ID, backend.BookUpdate{Name: "Bakery", LoanAmount: decimal.NewFromInt(1500)})
	require.NoError(t, err)
	assert.Equal(t, "Bakery", updated.Name)

	view, err = f.service.Page(ctx, book.ID, 1, false)
	require.NoError(t, err)
	assert.Equal(t, "Bakery", view.Name)
	assert.Equal(t, "1,400.00", view.BalanceDisplay)
	assert.Equal(t, "1,400.00", view.Rows[0].RemainingDisplay)

	f.net.Set(false)
	_, err = f.service.UpdateBook(ctx, book.ID, backend.BookUpdate{Name: "Offline", LoanAmount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, loan.ErrOfflineWrite)
}

func TestSharesGoThroughCoordinator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.createBook(t, 3)

	members, err := f.service.Shares(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"borrower"}, members)

	require.NoError(t, f.service.Share(ctx, book.ID, "guarantor"))
	members, err = f.service.Shares(ctx, book.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"borrower", "guarantor"}, members)

	require.NoError(t, f.service.Unshare(ctx, book.ID, "borrower"))
	members, err = f.service.Shares(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"guarantor"}, members)

	f.net.Set(false)
	assert.ErrorIs(t, f.service.Share(ctx, book.ID, "someone"), loan.ErrOfflineWrite)
	assert.ErrorIs(t, f.service.Unshare(ctx, book.ID, "guarantor"), loan.ErrOfflineWrite)
	members, err = f.service.Shares(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"guarantor"}, members)
}

func TestSignRoutesThroughWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.createBook(t, 3)
	_, err := f.service.SaveEdit(ctx, book.ID, 1, "100", "2025-01-01")
	require.NoError(t, err)

	e, err := f.service.Sign(ctx, book.ID, 1, signature.ActionRequest)
	require.NoError(t, err)
	assert.Equal(t, loan.SignatureRequested, e.SignatureStatus)

	_, err = f.service.Sign(ctx, book.ID, 1, signature.ActionApprove)
	assert.ErrorIs(t, err, loan.ErrAuthorization)

	view, err := f.service.Page(ctx, book.ID, 1, false)
	require.NoError(t, err)
	assert.Equal(t, signature.LabelPending, view.Rows[0].Button.Label)
}

func TestFormatAmountFollowsLocale(t *testing.T) {
	amount := decimal.RequireFromString("1234.5")
	assert.Equal(t, "1,234.50", FormatAmount(NewPrinter("en"), amount))
	assert.Equal(t, "1.234,50", FormatAmount(NewPrinter("de"), amount))
	assert.Equal(t, "1,234.50", FormatAmount(NewPrinter("not a locale!"), amount))
}

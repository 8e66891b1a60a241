package signature_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/backend/backendtest"
	"github.com/odyssey-erp/loanbook/internal/entrystore"
	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/netmon/netmontest"
	"github.com/odyssey-erp/loanbook/internal/offline"
	"github.com/odyssey-erp/loanbook/internal/signature"
)

var (
	owner    = auth.Session{UserID: "owner"}
	borrower = auth.Session{UserID: "borrower"}
)

func seed(t *testing.T, fake *backendtest.Fake) loan.Book {
	t.Helper()
	book := loan.Book{
		ID:           uuid.New(),
		OwnerID:      owner.UserID,
		Members:      []string{borrower.UserID},
		LoanAmount:   decimal.NewFromInt(1000),
		StartDate:    loan.NewDate(2025, 1, 1),
		NumberOfDays: 2,
		Status:       loan.BookActive,
		UpdatedAt:    time.Now(),
	}
	fake.Seed(book, []loan.Entry{
		{ID: uuid.New(), BookID: book.ID, SerialNumber: 1, PageNumber: 1, Date: book.StartDate,
			Amount: loan.Amount(decimal.NewFromInt(100)), Remaining: loan.Amount(decimal.NewFromInt(900))},
	})
	return book
}

func TestServiceRequestApprove(t *testing.T) {
	fake := backendtest.New()
	book := seed(t, fake)
	net := netmontest.New(true)
	coord := offline.NewCoordinator(nil, net)
	store := entrystore.New(coord, fake)
	svc := signature.NewService(coord, fake, nil, nil)
	ctx := context.Background()

	before, err := store.Entries(ctx, owner, book.ID, false)
	require.NoError(t, err)
	require.Equal(t, loan.SignatureNone, before[0].SignatureStatus)

	e, err := svc.Request(ctx, owner, book.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, loan.SignatureRequested, e.SignatureStatus)
	assert.Equal(t, "owner", e.RequestedBy)

	_, err = svc.Approve(ctx, owner, book.ID, 1)
	assert.ErrorIs(t, err, loan.ErrAuthorization)
	assert.Equal(t, 0, fake.Calls("ApproveSignature"))

	e, err = svc.Approve(ctx, borrower, book.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, loan.SignatureApproved, e.SignatureStatus)
	assert.Equal(t, "borrower", e.SignedBy)

	after, err := store.Entries(ctx, owner, book.ID, false)
	require.NoError(t, err)
	assert.Equal(t, loan.SignatureApproved, after[0].SignatureStatus)
}

func TestServiceRefusesUnsavedAndOffline(t *testing.T) {
	fake := backendtest.New()
	book := seed(t, fake)
	net := netmontest.New(true)
	coord := offline.NewCoordinator(nil, net)
	svc := signature.NewService(coord, fake, nil, nil)
	ctx := context.Background()

	_, err := svc.Request(ctx, owner, book.ID, 2)
	assert.ErrorIs(t, err, loan.ErrState)

	net.Set(false)
	_, err = svc.Request(ctx, owner, book.ID, 1)
	assert.ErrorIs(t, err, loan.ErrOfflineWrite)
	assert.Equal(t, 0, fake.Calls("RequestSignature"))
}

func TestServiceRefusesStranger(t *testing.T) {
	fake := backendtest.New()
	book := seed(t, fake)
	svc := signature.NewService(offline.NewCoordinator(nil, netmontest.New(true)), fake, nil, nil)

	_, err := svc.Request(context.Background(), auth.Session{UserID: "stranger"}, book.ID, 1)
	assert.ErrorIs(t, err, loan.ErrAuthorization)
}

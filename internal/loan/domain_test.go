package loan

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageFor(t *testing.T) {
	cases := map[int]int{1: 1, 9: 1, 10: 1, 11: 2, 20: 2, 21: 3, 100: 10, 101: 11}
	for serial, page := range cases {
		assert.Equal(t, page, PageFor(serial), "serial %d", serial)
	}
	assert.Equal(t, 1, PageCount(0))
	assert.Equal(t, 3, PageCount(25))
}

func TestParseSignatureStatusRejectsUnknown(t *testing.T) {
	s, err := ParseSignatureStatus("approved")
	require.NoError(t, err)
	assert.Equal(t, SignatureApproved, s)

	_, err = ParseSignatureStatus("signed_by_request")
	assert.Error(t, err)

	var decoded struct {
		Status SignatureStatus `json:"status"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"status":"bogus"}`), &decoded))
	require.NoError(t, json.Unmarshal([]byte(`{"status":"rejected"}`), &decoded))
	assert.Equal(t, SignatureRejected, decoded.Status)
}

func TestEntryJSONRoundTripKeepsEmptyFields(t *testing.T) {
	e := Entry{
		SerialNumber:    3,
		PageNumber:      1,
		Date:            NewDate(2025, time.January, 3),
		Amount:          Amount(decimal.RequireFromString("200")),
		SignatureStatus: SignatureRequested,
		RequestedBy:     "owner",
	}
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"date":"2025-01-03"`)
	assert.Contains(t, string(raw), `"remaining":null`)
	assert.Contains(t, string(raw), `"signatureStatus":"requested"`)

	var back Entry
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.Date.Equal(e.Date))
	assert.True(t, back.Amount.Valid)
	assert.False(t, back.Remaining.Valid)
	assert.Equal(t, SignatureRequested, back.SignatureStatus)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", d.AddDays(1).String())

	empty, err := ParseDate("  ")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	_, err = ParseDate("28/02/2025")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestParseAmountTreatsGarbageAsZero(t *testing.T) {
	assert.True(t, ParseAmount("abc").IsZero())
	assert.True(t, ParseAmount("").IsZero())
	assert.Equal(t, "12.5", ParseAmount(" 12.50 ").String())
}

func TestBookParties(t *testing.T) {
	b := Book{OwnerID: "lender", Members: []string{"borrower"}}
	assert.True(t, b.IsParty("lender"))
	assert.True(t, b.IsParty("borrower"))
	assert.False(t, b.IsParty("stranger"))
	assert.False(t, b.IsParty(""))
	assert.True(t, b.IsOwner("lender"))
	assert.False(t, b.IsOwner("borrower"))
}

func TestErrorTaxonomyMatchesSentinels(t *testing.T) {
	assert.True(t, errors.Is(&OfflineWriteError{Op: "save"}, ErrOfflineWrite))
	assert.True(t, errors.Is(&AuthorizationError{Actor: "u"}, ErrAuthorization))
	assert.True(t, errors.Is(&StateError{Reason: "x"}, ErrState))
	cause := errors.New("dial tcp: refused")
	terr := &TransportError{Op: "list", Err: cause}
	assert.True(t, errors.Is(terr, ErrTransport))
	assert.True(t, errors.Is(terr, cause))
}

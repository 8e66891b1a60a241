package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/loanbook/internal/loan"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&loan.OfflineWriteError{Op: "save"}, http.StatusServiceUnavailable},
		{&loan.ValidationError{Field: "date", Reason: "required"}, http.StatusBadRequest},
		{&loan.AuthorizationError{Actor: "u", Reason: "self"}, http.StatusForbidden},
		{&loan.StateError{Reason: "closed"}, http.StatusConflict},
		{fmt.Errorf("get book: %w", loan.ErrNotFound), http.StatusNotFound},
		{&loan.TransportError{Op: "list", Err: errors.New("eof")}, http.StatusBadGateway},
		{ErrDuplicate, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("pg: connection reset"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Empty(t, body.Detail)

	rr = httptest.NewRecorder()
	RespondError(rr, &loan.StateError{Reason: "book is closed"})
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, http.StatusConflict, body.Status)
	assert.Contains(t, body.Detail, "book is closed")
}

func TestValidatorReportsJSONField(t *testing.T) {
	type payload struct {
		UserID string `json:"userId" validate:"required,max=4"`
	}
	v := NewValidator()

	err := v.Struct(payload{})
	var vErr *loan.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "userId", vErr.Field)
	assert.Equal(t, "required", vErr.Reason)

	err = v.Struct(payload{UserID: "toolong"})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "must be at most 4", vErr.Reason)

	assert.NoError(t, v.Struct(payload{UserID: "ok"}))
}

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, f.service).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateEditAndView(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := do(t, router, http.MethodPost, "/books",
		`{"name":"Stall","loanAmount":"1000","startDate":"2025-01-01","numberOfDays":3}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Book struct {
			ID string `json:"id"`
		} `json:"book"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = do(t, router, http.MethodPut, "/books/"+created.Book.ID+"/entries/1", `{"amount":"100","date":"2025-01-01"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/books/"+created.Book.ID+"/entries?page=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view PageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "900.00", view.BalanceDisplay)
	assert.Len(t, view.Rows, 3)

	rec = do(t, router, http.MethodGet, "/status", "")
	assert.JSONEq(t, `{"online":true,"userId":"lender"}`, rec.Body.String())
}

func TestHandlerUpdateAndShares(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	book := f.createBook(t, 3)
	base := "/books/" + book.ID.String()

	rec := do(t, router, http.MethodPut, base, `{"name":"Kiosk","loanAmount":"800"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"name":"Kiosk"`)

	rec = do(t, router, http.MethodPut, base, `{"name":"Kiosk","loanAmount":"0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/shares", `{"userId":"guarantor"}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, base+"/shares", `{"userId":"lender"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodDelete, base+"/shares/borrower", "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, base+"/shares", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"members":["guarantor"]}`, rec.Body.String())
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	book := f.createBook(t, 3)
	base := "/books/" + book.ID.String()

	rec := do(t, router, http.MethodPost, base+"/entries/1/signature/sign", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPut, base+"/entries/zero", `{"amount":"1","date":"2025-01-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/books/not-a-uuid/entries", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/entries/2/signature/request", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.net.Set(false)
	rec = do(t, router, http.MethodPut, base+"/entries/1", `{"amount":"1","date":"2025-01-01"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

package gateway

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/loanbook/internal/backend"
	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/platform/httpx"
	"github.com/odyssey-erp/loanbook/internal/signature"
)

// Handler exposes the gateway endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *httpx.Validator
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers the gateway routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/status", h.status)
	r.Route("/books", func(r chi.Router) {
		r.Get("/", h.listBooks)
		r.Post("/", h.createBook)
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/", h.updateBook)
			r.Delete("/", h.deleteBook)
			r.Get("/shares", h.listShares)
			r.Post("/shares", h.share)
			r.Delete("/shares/{userId}", h.unshare)
			r.Post("/close", h.setStatus(loan.BookClosed))
			r.Post("/reopen", h.setStatus(loan.BookActive))
			r.Get("/entries", h.page)
			r.Put("/entries/{serial}", h.saveEdit)
			r.Post("/entries/{serial}/signature/{action}", h.sign)
		})
	})
}

// EditRequest is the body of an entry edit. Both fields stay raw: the ledger
// engine owns their parsing rules.
type EditRequest struct {
	Amount string `json:"amount"`
	Date   string `json:"date"`
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.Status())
}

func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.Books(r.Context(), r.URL.Query().Get("refresh") == "1")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, books)
}

func (h *Handler) createBook(w http.ResponseWriter, r *http.Request) {
	var in backend.NewBook
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(in); err != nil {
		h.fail(w, r, err)
		return
	}
	book, entries, err := h.service.CreateBook(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"book": book, "entries": entries})
}

func (h *Handler) updateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	var in backend.BookUpdate
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(in); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := in.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	book, err := h.service.UpdateBook(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, book)
}

func (h *Handler) listShares(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	members, err := h.service.Shares(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, backend.SharesResponse{Members: members})
}

func (h *Handler) share(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	var req backend.ShareRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Share(r.Context(), id, req.UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unshare(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	if err := h.service.Unshare(r.Context(), id, chi.URLParam(r, "userId")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setStatus(status loan.BookStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookID(w, r)
		if !ok {
			return
		}
		book, err := h.service.SetStatus(r.Context(), id, status)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, book)
	}
}

func (h *Handler) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid page")
			return
		}
		page = n
	}
	view, err := h.service.Page(r.Context(), id, page, r.URL.Query().Get("refresh") == "1")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) saveEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}
	var req EditRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	res, err := h.service.SaveEdit(r.Context(), id, serial, req.Amount, req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}
	action, err := signature.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.Sign(r.Context(), id, serial, action)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "gateway request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func bookID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return uuid.Nil, false
	}
	return id, true
}

func serialParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	serial, err := strconv.Atoi(chi.URLParam(r, "serial"))
	if err != nil || serial < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid serial number")
		return 0, false
	}
	return serial, true
}

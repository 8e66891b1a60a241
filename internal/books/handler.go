package books

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/backend"
	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/platform/httpx"
)

// Handler exposes the book endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers book routes under /api/books.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.update)
		r.Delete("/", h.delete)
		r.Patch("/close", h.setStatus(loan.BookClosed))
		r.Patch("/reopen", h.setStatus(loan.BookActive))
		r.Get("/shares", h.listShares)
		r.Post("/shares", h.share)
		r.Delete("/shares/{userId}", h.unshare)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	books, err := h.service.List(r.Context(), sess)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, books)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	sess, _ := auth.SessionFromContext(r.Context())
	book, err := h.service.Get(r.Context(), sess, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, book)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in backend.NewBook
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, _ := auth.SessionFromContext(r.Context())
	book, err := h.service.Create(r.Context(), sess, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, book)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	var in backend.BookUpdate
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, _ := auth.SessionFromContext(r.Context())
	book, err := h.service.Update(r.Context(), sess, id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, book)
}

func (h *Handler) setStatus(status loan.BookStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookID(w, r)
		if !ok {
			return
		}
		sess, _ := auth.SessionFromContext(r.Context())
		book, err := h.service.SetStatus(r.Context(), sess, id, status)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, book)
	}
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	sess, _ := auth.SessionFromContext(r.Context())
	if err := h.service.Delete(r.Context(), sess, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listShares(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	sess, _ := auth.SessionFromContext(r.Context())
	members, err := h.service.Members(r.Context(), sess, id)
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
		httpx.RespondError(w, err)
		return
	}
	sess, _ := auth.SessionFromContext(r.Context())
	if err := h.service.Share(r.Context(), sess, id, req); err != nil {
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
	sess, _ := auth.SessionFromContext(r.Context())
	if err := h.service.Unshare(r.Context(), sess, id, chi.URLParam(r, "userId")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "books request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
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

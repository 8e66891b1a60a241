package entries

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/backend"
	"github.com/odyssey-erp/loanbook/internal/platform/httpx"
	"github.com/odyssey-erp/loanbook/internal/signature"
)

// Handler exposes the entry endpoints.
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

// MountRoutes registers entry routes under /api/entries.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/book/{bookId}", h.list)
	r.Post("/bulk", h.bulk)
	r.Post("/{id}/request-signature", h.transition(signature.ActionRequest))
	r.Post("/{id}/approve-signature", h.transition(signature.ActionApprove))
	r.Post("/{id}/reject-signature", h.transition(signature.ActionReject))
	r.Get("/{id}/signatures", h.history)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	bookID, err := uuid.Parse(chi.URLParam(r, "bookId"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid book id")
		return
	}
	sess, _ := auth.SessionFromContext(r.Context())
	entries, err := h.service.List(r.Context(), sess, bookID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) bulk(w http.ResponseWriter, r *http.Request) {
	var req backend.SaveEntriesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, _ := auth.SessionFromContext(r.Context())
	saved, err := h.service.SaveBatch(r.Context(), sess, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) transition(action signature.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id")
			return
		}
		sess, _ := auth.SessionFromContext(r.Context())
		entry, err := h.service.Transition(r.Context(), sess, entryID, action)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, entry)
	}
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	entryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id")
		return
	}
	sess, _ := auth.SessionFromContext(r.Context())
	logs, err := h.service.History(r.Context(), sess, entryID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "entries request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

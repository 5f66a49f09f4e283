package report

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"ssctracker/internal/app/apiresp"
	"ssctracker/internal/auth"

	"github.com/google/uuid"
)

type summaryService interface {
	Summary(ctx context.Context, userID uuid.UUID, subject string) (*Summary, error)
}

type Handler struct {
	svc    summaryService
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	sum, err := h.svc.Summary(r.Context(), user.ID, strings.TrimSpace(r.URL.Query().Get("subject")))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "build report summary", "user_id", user.ID, "error", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, sum)
}

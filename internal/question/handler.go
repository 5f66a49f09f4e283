package question

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ssctracker/internal/app/apiresp"
	"ssctracker/internal/auth"
	"ssctracker/internal/review"
	"ssctracker/internal/vision"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// multipart framing allowance on top of the image limit
const multipartOverhead = 1 << 20

type Handler struct {
	svc            questionService
	logger         *slog.Logger
	maxUploadBytes int64
}

type questionService interface {
	Upload(ctx context.Context, userID uuid.UUID, in UploadInput) (*UploadResult, error)
	CreateManual(ctx context.Context, userID uuid.UUID, in ManualInput) (*Question, error)
	List(ctx context.Context, userID uuid.UUID, f Filter) ([]Question, int, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*Question, error)
	UpdateNotes(ctx context.Context, userID, id uuid.UUID, notes string) (*Question, error)
	UpdateStatus(ctx context.Context, userID, id uuid.UUID, status string) (*Question, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	SubmitReview(ctx context.Context, userID, id uuid.UUID, in ReviewInput) (*ReviewResult, error)
	ReviewQueue(ctx context.Context, userID uuid.UUID, window string) (*QueueView, error)
	Stats(ctx context.Context, userID uuid.UUID) (*review.Stats, error)
	PickMockTest(ctx context.Context, userID uuid.UUID, in MockTestInput) ([]Question, error)
	ExportWorkbook(ctx context.Context, userID uuid.UUID, in ExportInput) ([]byte, error)
	ImportWorkbook(ctx context.Context, userID uuid.UUID, r io.Reader) (*ImportReport, error)
}

type notesRequest struct {
	Notes string `json:"notes"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger, maxUploadBytes: svc.maxUploadBytes}
}

func (h *Handler) UploadScreenshot(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := h.maxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			apiresp.WriteError(w, r, http.StatusRequestEntityTooLarge, ErrFileTooLarge.Error())
			return
		}
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("image")
	}
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "failed to read file")
		return
	}

	res, err := h.svc.Upload(r.Context(), user.ID, UploadInput{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	code := http.StatusCreated
	if res.Duplicate {
		code = http.StatusOK
	}
	apiresp.WriteOK(w, r, code, res)
}

func (h *Handler) CreateManual(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req ManualInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.CreateManual(r.Context(), user.ID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, item)
}

func (h *Handler) ListMistakes(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	q := r.URL.Query()
	limit, err := parseOptionalInt(q.Get("limit"))
	if err != nil || limit < 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	offset, err := parseOptionalInt(q.Get("offset"))
	if err != nil || offset < 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "offset must be a positive integer")
		return
	}
	f := Filter{
		Subject:       q.Get("subject"),
		Topic:         q.Get("topic"),
		Source:        strings.TrimSpace(q.Get("source")),
		OnlyIncorrect: q.Get("only_incorrect") == "true",
		Limit:         limit,
		Offset:        offset,
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, ok := ParseStatus(raw)
		if !ok {
			apiresp.WriteError(w, r, http.StatusBadRequest, "unknown status")
			return
		}
		f.Status = status
	}

	items, total, err := h.svc.List(r.Context(), user.ID, f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteList(w, r, items, total)
}

func (h *Handler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	item, err := h.svc.Get(r.Context(), user.ID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, item)
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), user.ID, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

func (h *Handler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	var req notesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.UpdateNotes(r.Context(), user.ID, id, req.Notes)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, item)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.UpdateStatus(r.Context(), user.ID, id, req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, item)
}

func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	var req ReviewInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.svc.SubmitReview(r.Context(), user.ID, id, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	window := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("filter")))
	switch window {
	case "", "all", "overdue", "today", "week":
	default:
		apiresp.WriteError(w, r, http.StatusBadRequest, "filter must be one of all, overdue, today, week")
		return
	}
	view, err := h.svc.ReviewQueue(r.Context(), user.ID, window)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, view)
}

func (h *Handler) ReviewStats(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	stats, err := h.svc.Stats(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, stats)
}

func (h *Handler) CreateMockTest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req MockTestInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	items, err := h.svc.PickMockTest(r.Context(), user.ID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteList(w, r, items, len(items))
}

func (h *Handler) ExportWorkbook(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	q := r.URL.Query()
	quantity, err := parseOptionalInt(q.Get("quantity"))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "quantity must be an integer")
		return
	}
	content, err := h.svc.ExportWorkbook(r.Context(), user.ID, ExportInput{
		Subject:   q.Get("subject"),
		Topic:     q.Get("topic"),
		DateRange: q.Get("date_range"),
		Quantity:  quantity,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	filename := "mistakes-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (h *Handler) ImportWorkbook(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 20<<20)
	if err := r.ParseMultipartForm(20 << 20); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	report, err := h.svc.ImportWorkbook(r.Context(), user.ID, file)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, report)
}

func (h *Handler) userAndID(w http.ResponseWriter, r *http.Request) (*auth.User, uuid.UUID, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question id")
		return nil, uuid.Nil, false
	}
	return user, id, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrQuestionNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateQuestion), errors.Is(err, ErrConcurrentUpdate):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ErrFileTooLarge):
		apiresp.WriteError(w, r, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrUnsupportedMedia):
		apiresp.WriteError(w, r, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrAnalysisUnavailable), errors.Is(err, vision.ErrNotConfigured), errors.Is(err, vision.ErrOverloaded):
		apiresp.WriteError(w, r, http.StatusServiceUnavailable, "analysis service is busy, try again shortly")
	case errors.Is(err, context.DeadlineExceeded):
		apiresp.WriteError(w, r, http.StatusGatewayTimeout, "analysis timed out")
	case errors.Is(err, ErrAnalysisFailed):
		h.logger.WarnContext(r.Context(), "analysis failed", "error", err)
		apiresp.WriteError(w, r, http.StatusBadGateway, ErrAnalysisFailed.Error())
	default:
		h.logger.ErrorContext(r.Context(), "question request failed", "path", r.URL.Path, "error", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func parseOptionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

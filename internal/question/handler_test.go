package question

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"ssctracker/internal/auth"
	"ssctracker/internal/review"
	"ssctracker/internal/vision"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type mockQuestionService struct {
	uploadFn       func(ctx context.Context, userID uuid.UUID, in UploadInput) (*UploadResult, error)
	createManualFn func(ctx context.Context, userID uuid.UUID, in ManualInput) (*Question, error)
	listFn         func(ctx context.Context, userID uuid.UUID, f Filter) ([]Question, int, error)
	getFn          func(ctx context.Context, userID, id uuid.UUID) (*Question, error)
	updateNotesFn  func(ctx context.Context, userID, id uuid.UUID, notes string) (*Question, error)
	updateStatusFn func(ctx context.Context, userID, id uuid.UUID, status string) (*Question, error)
	deleteFn       func(ctx context.Context, userID, id uuid.UUID) error
	submitReviewFn func(ctx context.Context, userID, id uuid.UUID, in ReviewInput) (*ReviewResult, error)
	reviewQueueFn  func(ctx context.Context, userID uuid.UUID, window string) (*QueueView, error)
	statsFn        func(ctx context.Context, userID uuid.UUID) (*review.Stats, error)
	mockTestFn     func(ctx context.Context, userID uuid.UUID, in MockTestInput) ([]Question, error)
	exportFn       func(ctx context.Context, userID uuid.UUID, in ExportInput) ([]byte, error)
	importFn       func(ctx context.Context, userID uuid.UUID, r io.Reader) (*ImportReport, error)
}

func (m *mockQuestionService) Upload(ctx context.Context, userID uuid.UUID, in UploadInput) (*UploadResult, error) {
	if m.uploadFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.uploadFn(ctx, userID, in)
}

func (m *mockQuestionService) CreateManual(ctx context.Context, userID uuid.UUID, in ManualInput) (*Question, error) {
	if m.createManualFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createManualFn(ctx, userID, in)
}

func (m *mockQuestionService) List(ctx context.Context, userID uuid.UUID, f Filter) ([]Question, int, error) {
	if m.listFn == nil {
		return nil, 0, errors.New("not implemented")
	}
	return m.listFn(ctx, userID, f)
}

func (m *mockQuestionService) Get(ctx context.Context, userID, id uuid.UUID) (*Question, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, userID, id)
}

func (m *mockQuestionService) UpdateNotes(ctx context.Context, userID, id uuid.UUID, notes string) (*Question, error) {
	if m.updateNotesFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateNotesFn(ctx, userID, id, notes)
}

func (m *mockQuestionService) UpdateStatus(ctx context.Context, userID, id uuid.UUID, status string) (*Question, error) {
	if m.updateStatusFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateStatusFn(ctx, userID, id, status)
}

func (m *mockQuestionService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if m.deleteFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteFn(ctx, userID, id)
}

func (m *mockQuestionService) SubmitReview(ctx context.Context, userID, id uuid.UUID, in ReviewInput) (*ReviewResult, error) {
	if m.submitReviewFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.submitReviewFn(ctx, userID, id, in)
}

func (m *mockQuestionService) ReviewQueue(ctx context.Context, userID uuid.UUID, window string) (*QueueView, error) {
	if m.reviewQueueFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.reviewQueueFn(ctx, userID, window)
}

func (m *mockQuestionService) Stats(ctx context.Context, userID uuid.UUID) (*review.Stats, error) {
	if m.statsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.statsFn(ctx, userID)
}

func (m *mockQuestionService) PickMockTest(ctx context.Context, userID uuid.UUID, in MockTestInput) ([]Question, error) {
	if m.mockTestFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.mockTestFn(ctx, userID, in)
}

func (m *mockQuestionService) ExportWorkbook(ctx context.Context, userID uuid.UUID, in ExportInput) ([]byte, error) {
	if m.exportFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportFn(ctx, userID, in)
}

func (m *mockQuestionService) ImportWorkbook(ctx context.Context, userID uuid.UUID, r io.Reader) (*ImportReport, error) {
	if m.importFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.importFn(ctx, userID, r)
}

func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withUser(r *http.Request, id uuid.UUID) *http.Request {
	return r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: id, Role: "authenticated"}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(m *mockQuestionService) *Handler {
	return &Handler{svc: m, logger: discardLogger(), maxUploadBytes: 1 << 10}
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadScreenshotRequiresUser(t *testing.T) {
	h := newTestHandler(&mockQuestionService{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload-screenshot", nil)
	w := httptest.NewRecorder()

	h.UploadScreenshot(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestUploadScreenshotPassesFileToService(t *testing.T) {
	userID := uuid.New()
	var got UploadInput
	h := newTestHandler(&mockQuestionService{
		uploadFn: func(ctx context.Context, uid uuid.UUID, in UploadInput) (*UploadResult, error) {
			if uid != userID {
				t.Fatalf("unexpected user %s", uid)
			}
			got = in
			return &UploadResult{Question: &Question{ID: uuid.New()}}, nil
		},
	})
	body, ct := multipartBody(t, "file", "q1.png", "image/png", pngHeader)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload-screenshot", body)
	req.Header.Set("Content-Type", ct)
	req = withUser(req, userID)
	w := httptest.NewRecorder()

	h.UploadScreenshot(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if got.ContentType != "image/png" || got.Filename != "q1.png" || !bytes.Equal(got.Data, pngHeader) {
		t.Fatalf("unexpected upload input %+v", got)
	}
}

func TestUploadScreenshotDuplicateReturns200(t *testing.T) {
	h := newTestHandler(&mockQuestionService{
		uploadFn: func(ctx context.Context, uid uuid.UUID, in UploadInput) (*UploadResult, error) {
			return &UploadResult{Question: &Question{ID: uuid.New()}, Duplicate: true}, nil
		},
	})
	body, ct := multipartBody(t, "image", "q1.png", "image/png", pngHeader)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload-screenshot", body)
	req.Header.Set("Content-Type", ct)
	req = withUser(req, uuid.New())
	w := httptest.NewRecorder()

	h.UploadScreenshot(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestUploadScreenshotErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "too large", err: ErrFileTooLarge, want: http.StatusRequestEntityTooLarge},
		{name: "not image", err: ErrUnsupportedMedia, want: http.StatusUnsupportedMediaType},
		{name: "overloaded", err: errors.Join(ErrAnalysisUnavailable, vision.ErrOverloaded), want: http.StatusServiceUnavailable},
		{name: "not configured", err: vision.ErrNotConfigured, want: http.StatusServiceUnavailable},
		{name: "upstream", err: errors.Join(ErrAnalysisFailed, errors.New("bad gateway")), want: http.StatusBadGateway},
		{name: "internal", err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(&mockQuestionService{
				uploadFn: func(ctx context.Context, uid uuid.UUID, in UploadInput) (*UploadResult, error) {
					return nil, tc.err
				},
			})
			body, ct := multipartBody(t, "file", "q.png", "image/png", pngHeader)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/upload-screenshot", body)
			req.Header.Set("Content-Type", ct)
			req = withUser(req, uuid.New())
			w := httptest.NewRecorder()

			h.UploadScreenshot(w, req)

			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestUploadScreenshotRejectsOversizedBody(t *testing.T) {
	h := newTestHandler(&mockQuestionService{
		uploadFn: func(ctx context.Context, uid uuid.UUID, in UploadInput) (*UploadResult, error) {
			t.Fatalf("service must not be called")
			return nil, nil
		},
	})
	h.maxUploadBytes = 16
	body, ct := multipartBody(t, "file", "big.png", "image/png", bytes.Repeat([]byte{0x42}, 2<<20))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload-screenshot", body)
	req.Header.Set("Content-Type", ct)
	req = withUser(req, uuid.New())
	w := httptest.NewRecorder()

	h.UploadScreenshot(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestListMistakesParsesFilters(t *testing.T) {
	var got Filter
	h := newTestHandler(&mockQuestionService{
		listFn: func(ctx context.Context, userID uuid.UUID, f Filter) ([]Question, int, error) {
			got = f
			return []Question{{ID: uuid.New()}}, 42, nil
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/mistakes?limit=5&offset=10&subject=Quant&status=degraded&only_incorrect=true", nil)
	req = withUser(req, uuid.New())
	w := httptest.NewRecorder()

	h.ListMistakes(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.Limit != 5 || got.Offset != 10 || got.Subject != "Quant" || got.Status != StatusDegraded || !got.OnlyIncorrect {
		t.Fatalf("unexpected filter %+v", got)
	}
	var body struct {
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Meta.Total != 42 {
		t.Fatalf("expected total 42, got %d", body.Meta.Total)
	}
}

func TestListMistakesRejectsBadQuery(t *testing.T) {
	h := newTestHandler(&mockQuestionService{})
	for _, q := range []string{"limit=abc", "offset=-1", "status=archived"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/mistakes?"+q, nil)
		req = withUser(req, uuid.New())
		w := httptest.NewRecorder()

		h.ListMistakes(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestGetQuestionInvalidAndMissing(t *testing.T) {
	h := newTestHandler(&mockQuestionService{
		getFn: func(ctx context.Context, userID, id uuid.UUID) (*Question, error) {
			return nil, ErrQuestionNotFound
		},
	})

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/questions/x", nil), uuid.New())
	req = withParam(req, "id", "not-a-uuid")
	w := httptest.NewRecorder()
	h.GetQuestion(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	req = withUser(httptest.NewRequest(http.MethodGet, "/api/v1/questions/x", nil), uuid.New())
	req = withParam(req, "id", uuid.NewString())
	w = httptest.NewRecorder()
	h.GetQuestion(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSubmitReviewHandler(t *testing.T) {
	id := uuid.New()
	var got ReviewInput
	h := newTestHandler(&mockQuestionService{
		submitReviewFn: func(ctx context.Context, userID, qid uuid.UUID, in ReviewInput) (*ReviewResult, error) {
			if qid != id {
				t.Fatalf("unexpected id %s", qid)
			}
			got = in
			return &ReviewResult{QuestionID: qid, IsCorrect: true}, nil
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/questions/"+id.String()+"/review", strings.NewReader(`{"selected":"C"}`))
	req = withParam(withUser(req, uuid.New()), "id", id.String())
	w := httptest.NewRecorder()

	h.SubmitReview(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if string(got.Selected) != `"C"` || got.IsCorrect != nil {
		t.Fatalf("unexpected review input %+v", got)
	}
}

func TestSubmitReviewConflict(t *testing.T) {
	h := newTestHandler(&mockQuestionService{
		submitReviewFn: func(ctx context.Context, userID, qid uuid.UUID, in ReviewInput) (*ReviewResult, error) {
			return nil, ErrConcurrentUpdate
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/questions/x/review", strings.NewReader(`{"is_correct":true}`))
	req = withParam(withUser(req, uuid.New()), "id", uuid.NewString())
	w := httptest.NewRecorder()

	h.SubmitReview(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestReviewQueueFilterValidation(t *testing.T) {
	var window string
	h := newTestHandler(&mockQuestionService{
		reviewQueueFn: func(ctx context.Context, userID uuid.UUID, w string) (*QueueView, error) {
			window = w
			return &QueueView{Counts: map[string]int{}}, nil
		},
	})

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/review/queue?filter=Week", nil), uuid.New())
	w := httptest.NewRecorder()
	h.ReviewQueue(w, req)
	if w.Code != http.StatusOK || window != "week" {
		t.Fatalf("expected 200 with week window, got %d %q", w.Code, window)
	}

	req = withUser(httptest.NewRequest(http.MethodGet, "/api/v1/review/queue?filter=month", nil), uuid.New())
	w = httptest.NewRecorder()
	h.ReviewQueue(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestExportWorkbookHeaders(t *testing.T) {
	var got ExportInput
	h := newTestHandler(&mockQuestionService{
		exportFn: func(ctx context.Context, userID uuid.UUID, in ExportInput) ([]byte, error) {
			got = in
			return []byte("xlsx"), nil
		},
	})
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/export.xlsx?quantity=50&date_range=last_7_days", nil), uuid.New())
	w := httptest.NewRecorder()

	h.ExportWorkbook(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.Quantity != 50 || got.DateRange != "last_7_days" {
		t.Fatalf("unexpected export input %+v", got)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), ".xlsx") {
		t.Fatalf("missing attachment header")
	}
}

func TestUpdateStatusInvalidBody(t *testing.T) {
	h := newTestHandler(&mockQuestionService{})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/questions/x/status", strings.NewReader("{"))
	req = withParam(withUser(req, uuid.New()), "id", uuid.NewString())
	w := httptest.NewRecorder()

	h.UpdateStatus(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ssctracker/internal/app/observability"
	"ssctracker/internal/auth"
	"ssctracker/internal/question"
	"ssctracker/internal/report"
	"ssctracker/internal/vision"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the optional backends the router wires into the services.
// Nil Images or Cache disables screenshot storage or the upload cache.
type Deps struct {
	DB       *sql.DB
	Analyzer vision.Analyzer
	Images   question.ImageStore
	Cache    question.UploadCache
	Logger   *slog.Logger
}

func NewRouter(cfg Config, deps Deps) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authSvc, err := auth.NewService(auth.ServiceConfig{Secret: cfg.JWTSecret, Audience: cfg.JWTAudience})
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}
	authHandler := auth.NewHandler(authSvc, logger)

	collector := observability.NewCollector(deps.DB, logger)

	questionSvc := question.NewService(question.ServiceConfig{
		Store:          question.NewPostgresStore(deps.DB),
		Analyzer:       deps.Analyzer,
		Images:         deps.Images,
		Cache:          deps.Cache,
		Recorder:       collector,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	questionHandler := question.NewHandler(questionSvc, logger)
	reportHandler := report.NewHandler(report.NewService(deps.DB), logger)

	limiter := NewIPRateLimiter(cfg.RateLimitPerMin)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(collector.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Method(http.MethodGet, "/metrics", collector.MetricsHandler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(RateLimitMiddleware(limiter))
		api.Use(authHandler.RequireAuth)

		api.Get("/me", authHandler.Me)

		api.With(middleware.Timeout(cfg.AITimeout+30*time.Second)).Post("/upload-screenshot", questionHandler.UploadScreenshot)
		api.Post("/questions", questionHandler.CreateManual)
		api.Get("/mistakes", questionHandler.ListMistakes)
		api.Get("/questions/{id}", questionHandler.GetQuestion)
		api.Delete("/questions/{id}", questionHandler.DeleteQuestion)
		api.Put("/questions/{id}/notes", questionHandler.UpdateNotes)
		api.Put("/questions/{id}/status", questionHandler.UpdateStatus)
		api.Post("/questions/{id}/review", questionHandler.SubmitReview)

		api.Get("/review/queue", questionHandler.ReviewQueue)
		api.Get("/review/stats", questionHandler.ReviewStats)
		api.Get("/reports/summary", reportHandler.Summary)
		api.Post("/mock-tests", questionHandler.CreateMockTest)

		api.Get("/export.xlsx", questionHandler.ExportWorkbook)
		api.Post("/import.xlsx", questionHandler.ImportWorkbook)
	})

	return r, nil
}

// NewAnalyzer builds the vision client for cfg.AIProvider ("gemini" or "openai").
func NewAnalyzer(cfg Config, logger *slog.Logger) (vision.Analyzer, error) {
	switch cfg.AIProvider {
	case "", "gemini":
		return vision.NewGeminiClient(vision.GeminiConfig{
			APIKey:        cfg.GeminiAPIKey,
			Model:         cfg.GeminiModel,
			HTTPClient:    &http.Client{Timeout: cfg.AITimeout},
			Retry:         vision.DefaultRetryPolicy(),
			RatePerMinute: cfg.AIRateLimitPerMin,
			Logger:        logger,
		}), nil
	case "openai":
		return vision.NewOpenAIClient(vision.OpenAIConfig{
			APIKey:        cfg.OpenAIAPIKey,
			BaseURL:       cfg.OpenAIBaseURL,
			Model:         cfg.OpenAIModel,
			Timeout:       cfg.AITimeout,
			Retry:         vision.DefaultRetryPolicy(),
			RatePerMinute: cfg.AIRateLimitPerMin,
			Logger:        logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER %q", cfg.AIProvider)
	}
}

package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/minglemood/internal/admin"
	"github.com/hitoshi/minglemood/internal/member"
	"github.com/hitoshi/minglemood/internal/metrics"
	"github.com/hitoshi/minglemood/internal/middleware"
	"github.com/hitoshi/minglemood/internal/onboarding"
	"github.com/hitoshi/minglemood/internal/repository"
	"github.com/hitoshi/minglemood/internal/survey"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger       *slog.Logger
	SupportEmail string

	// ミドルウェア依存
	Sessions           repository.SessionRepository
	MountFactory       middleware.MountFactory
	SessionConfig      middleware.SessionConfig
	CSRFConfig         middleware.CSRFConfig
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter

	// 監視
	HealthChecker Pinger
	Gatherer      prometheus.Gatherer

	// ドメインサービス
	SignupNotifier SignupNotifier
	Onboarding     *onboarding.Service
	Survey         *survey.Service
	Events         EventBackend
	AdminLoader    *admin.Loader
	Members        *member.Service
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session → CSRF → RateLimit(General)
//
// ヘルスチェック・メトリクス・CSRFトークン取得はセッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.SupportEmail, deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins...))

	authHandler := NewAuthHandler(deps.SignupNotifier, deps.SupportEmail, deps.Logger)
	appHandler := NewAppHandler(deps.Onboarding, deps.SupportEmail, deps.Logger)
	surveyHandler := NewSurveyHandler(deps.Survey, deps.SupportEmail, deps.Logger)
	eventHandler := NewEventHandler(deps.Events, deps.SupportEmail, deps.Logger)
	adminHandler := NewAdminHandler(deps.AdminLoader, deps.Members, deps.SupportEmail, deps.Logger)

	// --- セッション不要のルート ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger))
	}
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- セッションが必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.MountFactory, deps.SessionConfig, deps.Logger))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 認証
		r.Route("/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.SignInMiddleware()).Post("/signin", authHandler.SignIn)
			r.With(deps.RateLimiter.SignInMiddleware()).Post("/signup", authHandler.SignUp)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		// 画面決定（未ログインでも画面を返す）
		r.Get("/api/app/state", appHandler.State)

		// --- ログインが必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuthenticated)

			r.Put("/api/app/tab", appHandler.SetTab)
			r.Post("/api/profile", appHandler.CompleteProfile)
			r.Post("/api/thank-you/continue", appHandler.ContinueFromThankYou)

			// アンケート
			r.Route("/api/survey", func(r chi.Router) {
				r.Get("/", surveyHandler.Get)
				r.Post("/start", surveyHandler.Start)
				r.Post("/next", surveyHandler.Next)
				r.Post("/previous", surveyHandler.Previous)
				r.Patch("/draft", surveyHandler.UpdateDraft)
				r.Post("/submit", surveyHandler.Submit)
				r.Post("/cancel", surveyHandler.Cancel)
			})

			// イベント
			r.Route("/api/events", func(r chi.Router) {
				r.Get("/", eventHandler.ListEvents)
				r.Post("/{id}/rsvp", eventHandler.RSVP)
			})
		})

		// --- 管理者のみのルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Get("/api/admin/dashboard", adminHandler.Dashboard)
			r.Get("/api/diagnostics/backend", adminHandler.BackendTest)
			r.Post("/api/diagnostics/delete-user", adminHandler.DeleteUser)
		})
	})

	return r
}

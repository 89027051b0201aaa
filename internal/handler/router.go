// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/bookshelf/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Gate              func(next http.Handler) http.Handler
	CORSAllowedOrigin string
	SecureHeaders     bool
	DeleteLimiter     *middleware.RateLimiter

	// 退会
	AccountService AccountServiceInterface
	AccountConfig  AccountHandlerConfig

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// Pages は画面描画を担当するハンドラー。未指定の場合は404を返す。
	Pages http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → SecurityHeaders → CORS → Logging → AuthSessionGate
//
// /health と /metrics は認証ゲートの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.SecureHeaders))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))

	// --- 運用エンドポイント（認証ゲートの外） ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証ゲート配下 ---
	r.Group(func(r chi.Router) {
		if deps.Gate != nil {
			r.Use(deps.Gate)
		}

		accountHandler := NewAccountHandler(deps.AccountService, deps.AccountConfig)
		deleteRoute := r.With()
		if deps.DeleteLimiter != nil {
			deleteRoute = r.With(deps.DeleteLimiter.Middleware())
		}
		deleteRoute.Post("/api/delete-account", accountHandler.DeleteAccount)

		pages := deps.Pages
		if pages == nil {
			pages = http.HandlerFunc(notFound)
		}
		r.Handle("/*", pages)
	})

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteErrorResponse(w, http.StatusNotFound, middleware.ErrorResponseBody{
		Error: "Not found",
	})
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/inkpost/internal/cache"
	"github.com/hitoshi/inkpost/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Pipeline           *middleware.Pipeline
	Logger             *slog.Logger
	StatusRecorder     middleware.StatusRecorder
	CORSAllowedOrigins []string

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// コメント
	Moderator      Moderator
	CommentService CommentServiceInterface

	// 認証
	SignIn     SignInURLBuilder
	AuthConfig AuthHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//
// ルート単位の関心事（メソッド検査・レート制限・認可・ボディ検証・キャッシュ）はPipelineが合成する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	p := deps.Pipeline
	comments := NewCommentHandler(deps.Moderator, deps.CommentService)
	auth := NewAuthHandler(deps.SignIn, deps.AuthConfig)

	// --- 運用 ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証 ---
	r.Route("/auth", func(r chi.Router) {
		r.Handle("/signin", p.Handle(middleware.RouteConfig{
			Methods:   []string{http.MethodPost},
			RateLimit: true,
			Body:      middleware.JSONBody[signInRequest](),
		}, auth.SignIn))

		r.Handle("/me", p.Handle(middleware.RouteConfig{
			Methods:     []string{http.MethodGet},
			RateLimit:   true,
			RequireAuth: true,
		}, auth.Me))
	})

	// --- 管理者向け ---
	r.Route("/admin/comments", func(r chi.Router) {
		r.Handle("/", p.Handle(middleware.RouteConfig{
			Methods:      []string{http.MethodGet},
			RateLimit:    true,
			RequireAdmin: true,
		}, comments.ListForModeration))

		r.Handle("/bulk", p.Handle(middleware.RouteConfig{
			Methods:      []string{http.MethodPost},
			RateLimit:    true,
			RequireAdmin: true,
			Body:         middleware.JSONBody[bulkModerationRequest](),
		}, comments.BulkModerate))

		r.Handle("/{id}", p.Handle(middleware.RouteConfig{
			Methods:      []string{http.MethodPatch, http.MethodDelete},
			RateLimit:    true,
			RequireAdmin: true,
			Body:         middleware.JSONBody[patchCommentRequest](),
		}, comments.ModerateOne))
	})

	// --- 公開API ---
	r.Handle("/api/articles/{articleID}/comments", p.Handle(middleware.RouteConfig{
		Methods:    []string{http.MethodGet, http.MethodPost},
		RateLimit:  true,
		Body:       middleware.JSONBody[submitCommentRequest](),
		CacheRoute: cache.RouteCommentsList,
	}, func(ctx context.Context, req *middleware.Request) (middleware.Result, error) {
		if req.Method == http.MethodPost {
			return comments.Submit(ctx, req)
		}
		return comments.ListPublished(ctx, req)
	}))

	return r
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ragedizzer/conwatch/internal/middleware"
	"github.com/ragedizzer/conwatch/internal/repository"
)

// Pinger はヘルスチェックが依存する疎通確認インターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	RateLimiter    *middleware.RateLimiter
	MetricsHandler http.Handler
	DB             Pinger

	SourceRepo   repository.SourceRepository
	JobRepo      repository.ScrapeJobRepository
	WatchRepo    repository.WatchRepository
	UserRepo     repository.UserRepository
	ConvRepo     repository.ConventionRepository
	URLGuard     URLGuard
	Materializer SubscriptionRematerializer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → RateLimit(General)
//
// ソースの変更操作には管理系レート制限を追加で適用する。
// /healthzと/metricsはレート制限の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	sourceHandler := NewSourceHandler(deps.SourceRepo, deps.JobRepo, deps.URLGuard)
	watchHandler := NewWatchHandler(deps.WatchRepo, deps.UserRepo, deps.ConvRepo, deps.Materializer)

	// --- 運用系のルート ---

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if deps.DB != nil {
			if err := deps.DB.PingContext(req.Context()); err != nil {
				middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, "unavailable", "データベースに接続できません。")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/sources", func(r chi.Router) {
			r.Get("/", sourceHandler.ListSources)
			r.Get("/{id}", sourceHandler.GetSource)
			r.Get("/{id}/jobs", sourceHandler.ListSourceJobs)

			// ソースの変更操作は管理系レート制限を重ねる
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.AdminMiddleware())
				r.Post("/", sourceHandler.CreateSource)
				r.Post("/{id}/enable", sourceHandler.EnableSource)
				r.Post("/{id}/disable", sourceHandler.DisableSource)
			})
		})

		r.Route("/api/watches", func(r chi.Router) {
			r.Post("/", watchHandler.CreateWatch)
			r.Delete("/{id}", watchHandler.DeleteWatch)
		})

		r.Get("/api/users/{id}/watches", watchHandler.ListUserWatches)
	})

	return r
}

// Package handler は管理用JSON APIのHTTPハンドラーを提供する。
//
// ハンドラーはフィードツリーを直接変更せず、必ずジョブまたは
// フェッチキューを経由する。ツリーの読み取りは占有ロック（Deps.Mu）を
// 取得してから行う。
package handler

import (
	"net/http"
	"sync"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedkeeper/internal/fetch"
	"github.com/hitoshi/feedkeeper/internal/middleware"
	"github.com/hitoshi/feedkeeper/internal/security"
	"github.com/hitoshi/feedkeeper/internal/tree"
)

// Deps はNewRouterに必要な依存関係をまとめた構造体。
type Deps struct {
	List   *tree.FeedList
	Queue  *fetch.Queue
	Guard  security.URLGuard
	Logger *slog.Logger

	// Mu はツリーへのアクセスを直列化する占有ロック。
	// ジョブにもこのロックを渡す。
	Mu sync.Locker

	// MetricsHandler は/metricsにマウントされる。nilなら公開しない。
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを
// 構成したchi.Routerを返す。
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	subHandler := NewSubscriptionHandler(deps)
	fetchHandler := NewFetchHandler(deps)
	articleHandler := NewArticleHandler(deps)
	opmlHandler := NewOPMLHandler(deps)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 購読管理
	r.Route("/api/feeds", func(r chi.Router) {
		r.Get("/", subHandler.ListTree)
		r.Post("/", subHandler.Subscribe)

		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", subHandler.Unsubscribe)
			r.Patch("/", subHandler.Rename)
			r.Post("/move", subHandler.Move)

			r.Post("/fetch", fetchHandler.FetchOne)
			r.Get("/articles", articleHandler.ListArticles)
			r.Post("/mark-read", articleHandler.MarkFeedRead)
		})
	})

	// フェッチ制御
	r.Post("/api/fetch", fetchHandler.FetchAll)
	r.Post("/api/fetch/abort", fetchHandler.Abort)
	r.Post("/api/expire", fetchHandler.Expire)

	// 記事操作
	r.Post("/api/mark-read", articleHandler.MarkAllRead)
	r.Post("/api/articles/status", articleHandler.UpdateStatus)

	// OPML入出力
	r.Get("/api/opml", opmlHandler.Export)
	r.Post("/api/opml", opmlHandler.Import)

	return r
}

package handler

import (
	"net/http"

	"github.com/hitoshi/feedkeeper/internal/jobs"
	"github.com/hitoshi/feedkeeper/internal/middleware"
	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/tree"
)

// FetchHandler はフェッチキューの操作と期限切れ削除のHTTPハンドラー。
type FetchHandler struct {
	deps *Deps
}

// NewFetchHandler はFetchHandlerを生成する。
func NewFetchHandler(deps *Deps) *FetchHandler {
	return &FetchHandler{deps: deps}
}

// fetchAllResponse はフェッチ投入結果のレスポンス。
type fetchAllResponse struct {
	Queued int `json:"queued"`
}

// FetchAll は全フィードをフェッチキューへ投入する。
// POST /api/fetch
func (h *FetchHandler) FetchAll(w http.ResponseWriter, r *http.Request) {
	h.deps.Mu.Lock()
	feeds := h.deps.List.AllFeeds()
	h.deps.Mu.Unlock()

	for _, f := range feeds {
		h.deps.Queue.AddFeed(f, false)
	}

	writeJSON(w, http.StatusAccepted, fetchAllResponse{Queued: len(feeds)})
}

// FetchOne は指定フィードをフェッチキューへ投入する。
// POST /api/feeds/{id}/fetch
func (h *FetchHandler) FetchOne(w http.ResponseWriter, r *http.Request) {
	id, err := parseNodeID(r)
	if err != nil {
		writeInvalidNodeID(w)
		return
	}

	h.deps.Mu.Lock()
	feed, ok := h.deps.List.FindByID(id).(*tree.Feed)
	h.deps.Mu.Unlock()
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNodeNotFoundError(id))
		return
	}

	h.deps.Queue.AddFeed(feed, true)
	writeJSON(w, http.StatusAccepted, fetchAllResponse{Queued: 1})
}

// Abort は進行中および待機中のフェッチをすべて取り下げる。
// POST /api/fetch/abort
func (h *FetchHandler) Abort(w http.ResponseWriter, r *http.Request) {
	h.deps.Queue.Abort()
	w.WriteHeader(http.StatusAccepted)
}

// Expire は全フィードに期限切れ削除ポリシーを適用する。
// POST /api/expire
func (h *FetchHandler) Expire(w http.ResponseWriter, r *http.Request) {
	cmd := jobs.NewExpireItemsCommand(h.deps.List, nil, h.deps.Mu, h.deps.Logger)
	if err := <-cmd.Start(r.Context()); err != nil {
		handleJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/hitoshi/feedkeeper/internal/jobs"
	"github.com/hitoshi/feedkeeper/internal/middleware"
	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/tree"
)

// ArticleHandler は記事の参照と状態変更のHTTPハンドラー。
type ArticleHandler struct {
	deps *Deps
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(deps *Deps) *ArticleHandler {
	return &ArticleHandler{deps: deps}
}

// articleResponse は記事のAPIレスポンス。
type articleResponse struct {
	GUID        string    `json:"guid"`
	FeedURL     string    `json:"feed_url"`
	Title       string    `json:"title"`
	Link        string    `json:"link,omitempty"`
	Description string    `json:"description,omitempty"`
	AuthorName  string    `json:"author_name,omitempty"`
	PubDate     time.Time `json:"pub_date"`
	Status      string    `json:"status"`
	Keep        bool      `json:"keep"`
}

// toArticleResponse は記事スナップショットをAPIレスポンスへ変換する。
func toArticleResponse(a *model.Article) articleResponse {
	return articleResponse{
		GUID:        a.GUID,
		FeedURL:     a.FeedURL,
		Title:       a.Title,
		Link:        a.Link,
		Description: a.Description,
		AuthorName:  a.AuthorName,
		PubDate:     a.PubDate,
		Status:      a.Status.String(),
		Keep:        a.Keep,
	}
}

// ListArticles はフィードの記事一覧を公開日時の降順で返す。
// GET /api/feeds/{id}/articles
func (h *ArticleHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	id, err := parseNodeID(r)
	if err != nil {
		writeInvalidNodeID(w)
		return
	}

	h.deps.Mu.Lock()
	feed, ok := h.deps.List.FindByID(id).(*tree.Feed)
	if !ok {
		h.deps.Mu.Unlock()
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNodeNotFoundError(id))
		return
	}

	feed.LoadArticles(r.Context())
	articles := feed.Articles()
	resp := make([]articleResponse, 0, len(articles))
	for _, a := range articles {
		if a.Deleted {
			continue
		}
		resp = append(resp, toArticleResponse(a))
	}
	h.deps.Mu.Unlock()

	sort.Slice(resp, func(i, j int) bool {
		return resp[j].PubDate.Before(resp[i].PubDate)
	})
	writeJSON(w, http.StatusOK, resp)
}

// markReadResponse は既読化結果のレスポンス。
type markReadResponse struct {
	Marked int `json:"marked"`
}

// MarkFeedRead はフィードの全未読記事を既読にする。
// POST /api/feeds/{id}/mark-read
func (h *ArticleHandler) MarkFeedRead(w http.ResponseWriter, r *http.Request) {
	id, err := parseNodeID(r)
	if err != nil {
		writeInvalidNodeID(w)
		return
	}

	h.deps.Mu.Lock()
	node := h.deps.List.FindByID(id)
	if node == nil {
		h.deps.Mu.Unlock()
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNodeNotFoundError(id))
		return
	}
	changes := collectUnread(r.Context(), subtreeFeeds(node))
	h.deps.Mu.Unlock()

	h.markRead(w, r, changes)
}

// MarkAllRead はツリー全体の未読記事を既読にする。
// POST /api/mark-read
func (h *ArticleHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	h.deps.Mu.Lock()
	changes := collectUnread(r.Context(), h.deps.List.AllFeeds())
	h.deps.Mu.Unlock()

	h.markRead(w, r, changes)
}

// markRead は収集済みの変更セットをジョブとして適用する。
func (h *ArticleHandler) markRead(w http.ResponseWriter, r *http.Request, changes map[model.ArticleID]model.ArticleStatus) {
	if len(changes) > 0 {
		job := jobs.NewArticleModifyJob(h.deps.List, changes, nil, h.deps.Mu, h.deps.Logger)
		if err := <-job.Start(r.Context()); err != nil {
			handleJobError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, markReadResponse{Marked: len(changes)})
}

// updateStatusRequest は記事の状態変更リクエストのボディ。
// StatusとKeepはどちらか一方のみでもよい。
type updateStatusRequest struct {
	FeedURL string  `json:"feed_url"`
	GUID    string  `json:"guid"`
	Status  *string `json:"status"`
	Keep    *bool   `json:"keep"`
}

// UpdateStatus は単一記事の既読状態と保護フラグを変更する。
// POST /api/articles/status
func (h *ArticleHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}
	if req.Status == nil && req.Keep == nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "statusとkeepのいずれかを指定してください。",
			Category: "validation",
			Action:   "変更内容を指定してください。",
		})
		return
	}

	h.deps.Mu.Lock()
	article := h.deps.List.FindArticle(r.Context(), req.FeedURL, req.GUID)
	h.deps.Mu.Unlock()
	if article == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodeArticleNotFound,
			Message:  "指定された記事が見つかりません。",
			Category: "feed",
			Action:   "フィードURLとGUIDを確認してください。",
		})
		return
	}

	id := model.ArticleID{FeedURL: req.FeedURL, GUID: req.GUID}
	statusChanges := map[model.ArticleID]model.ArticleStatus{}
	keepChanges := map[model.ArticleID]bool{}
	if req.Status != nil {
		statusChanges[id] = parseArticleStatus(*req.Status)
	}
	if req.Keep != nil {
		keepChanges[id] = *req.Keep
	}

	job := jobs.NewArticleModifyJob(h.deps.List, statusChanges, keepChanges, h.deps.Mu, h.deps.Logger)
	if err := <-job.Start(r.Context()); err != nil {
		handleJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// collectUnread は各フィードの未読記事IDを既読への変更セットとして集める。
// 呼び出し側が占有ロックを保持していること。
func collectUnread(ctx context.Context, feeds []*tree.Feed) map[model.ArticleID]model.ArticleStatus {
	changes := make(map[model.ArticleID]model.ArticleStatus)
	for _, f := range feeds {
		f.LoadArticles(ctx)
		for _, a := range f.Articles() {
			if a.Deleted || a.Status == model.StatusRead {
				continue
			}
			changes[a.ID()] = model.StatusRead
		}
	}
	return changes
}

// parseArticleStatus は文字列を記事ステータスへ変換する。
// 未知の値はunreadとして扱う。
func parseArticleStatus(s string) model.ArticleStatus {
	switch s {
	case "read":
		return model.StatusRead
	case "new":
		return model.StatusNew
	default:
		return model.StatusUnread
	}
}

package handler

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/hitoshi/feedkeeper/internal/jobs"
	"github.com/hitoshi/feedkeeper/internal/middleware"
	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/tree"
)

// SubscriptionHandler は購読ツリーの参照と構造変更のHTTPハンドラー。
type SubscriptionHandler struct {
	deps *Deps
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(deps *Deps) *SubscriptionHandler {
	return &SubscriptionHandler{deps: deps}
}

// subscribeRequest は購読登録リクエストのボディ。
// FolderIDが0の場合はルート直下へ追加する。
type subscribeRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	FolderID uint32 `json:"folder_id"`
}

// nodeResponse はツリーノードのAPIレスポンス。
type nodeResponse struct {
	ID        uint32         `json:"id"`
	Title     string         `json:"title"`
	Type      string         `json:"type"`
	XMLURL    string         `json:"xml_url,omitempty"`
	HTMLURL   string         `json:"html_url,omitempty"`
	Unread    int            `json:"unread"`
	Total     int            `json:"total"`
	Fetching  bool           `json:"fetching,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Children  []nodeResponse `json:"children,omitempty"`
}

// toNodeResponse はノードをサブツリーごとAPIレスポンスへ変換する。
func toNodeResponse(n tree.Node) nodeResponse {
	switch n := n.(type) {
	case *tree.Feed:
		resp := nodeResponse{
			ID:       n.ID(),
			Title:    n.Title(),
			Type:     "feed",
			XMLURL:   n.XMLURL(),
			HTMLURL:  n.HTMLURL,
			Unread:   n.UnreadCount(),
			Total:    n.TotalCount(),
			Fetching: n.IsFetching(),
		}
		if code := n.FetchErrorCode(); code != model.FetchErrorNone {
			resp.ErrorCode = code.String()
		}
		return resp
	case *tree.Folder:
		resp := nodeResponse{
			ID:     n.ID(),
			Title:  n.Title(),
			Type:   "folder",
			Unread: n.UnreadCount(),
			Total:  n.TotalCount(),
		}
		for _, c := range n.Children() {
			resp.Children = append(resp.Children, toNodeResponse(c))
		}
		return resp
	default:
		return nodeResponse{}
	}
}

// ListTree は購読ツリー全体を返す。
// GET /api/feeds
func (h *SubscriptionHandler) ListTree(w http.ResponseWriter, r *http.Request) {
	h.deps.Mu.Lock()
	resp := toNodeResponse(h.deps.List.Root())
	h.deps.Mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// Subscribe は新しいフィードを購読しフェッチキューへ投入する。
// POST /api/feeds
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	if err := h.deps.Guard.ValidateURL(req.URL); err != nil {
		status, apiErr := classifyURLError(err)
		middleware.WriteErrorResponse(w, status, apiErr)
		return
	}

	h.deps.Mu.Lock()

	if existing := h.deps.List.FindByURL(req.URL); existing != nil {
		h.deps.Mu.Unlock()
		middleware.WriteErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     "ALREADY_SUBSCRIBED",
			Message:  "このURLはすでに購読されています。",
			Category: "feed",
			Action:   "既存の購読を確認してください。",
		})
		return
	}

	parent := h.deps.List.Root()
	if req.FolderID != 0 {
		folder, ok := h.deps.List.FindByID(req.FolderID).(*tree.Folder)
		if !ok {
			h.deps.Mu.Unlock()
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNodeNotFoundError(req.FolderID))
			return
		}
		parent = folder
	}

	feed := tree.NewFeed(req.URL)
	if req.Title != "" {
		feed.SetTitle(req.Title)
	}
	parent.AppendChild(feed)
	resp := toNodeResponse(feed)

	h.deps.Mu.Unlock()

	// 初回フェッチ。HTMLページが渡された場合はディスカバリで辿る。
	h.deps.Queue.AddFeed(feed, true)

	h.deps.Logger.Info("フィードを購読しました",
		slog.String("url", req.URL),
		slog.Int("node_id", int(feed.ID())),
	)
	writeJSON(w, http.StatusCreated, resp)
}

// Unsubscribe はノード（フィードまたはフォルダ）をツリーから削除する。
// DELETE /api/feeds/{id}
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := parseNodeID(r)
	if err != nil {
		writeInvalidNodeID(w)
		return
	}

	// 進行中のフェッチを先に取り下げる。
	h.deps.Mu.Lock()
	node := h.deps.List.FindByID(id)
	if node == nil {
		h.deps.Mu.Unlock()
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNodeNotFoundError(id))
		return
	}
	feeds := subtreeFeeds(node)
	h.deps.Mu.Unlock()

	for _, f := range feeds {
		h.deps.Queue.RemoveNode(f)
	}

	job := jobs.NewDeleteSubscriptionJob(h.deps.List, id, h.deps.Mu, h.deps.Logger)
	if err := <-job.Start(r.Context()); err != nil {
		handleJobError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// renameRequest はノード改名リクエストのボディ。
type renameRequest struct {
	Title string `json:"title"`
}

// Rename はノードのタイトルを変更する。
// PATCH /api/feeds/{id}
func (h *SubscriptionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, err := parseNodeID(r)
	if err != nil {
		writeInvalidNodeID(w)
		return
	}

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	job := jobs.NewRenameSubscriptionJob(h.deps.List, id, req.Title, h.deps.Mu, h.deps.Logger)
	if err := <-job.Start(r.Context()); err != nil {
		handleJobError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// moveRequest はノード移動リクエストのボディ。
// AfterIDが0の場合は移動先フォルダの末尾へ追加する。
type moveRequest struct {
	DestID  uint32 `json:"dest_id"`
	AfterID uint32 `json:"after_id"`
}

// Move はノードを別フォルダ配下へ移動する。
// POST /api/feeds/{id}/move
func (h *SubscriptionHandler) Move(w http.ResponseWriter, r *http.Request) {
	id, err := parseNodeID(r)
	if err != nil {
		writeInvalidNodeID(w)
		return
	}

	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	job := jobs.NewMoveSubscriptionJob(h.deps.List, id, req.DestID, req.AfterID, h.deps.Mu, h.deps.Logger)
	if err := <-job.Start(r.Context()); err != nil {
		handleJobError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// subtreeFeeds はノード配下の全フィードを返す。ノード自身がフィードの
// 場合はそれだけを返す。
func subtreeFeeds(n tree.Node) []*tree.Feed {
	switch n := n.(type) {
	case *tree.Feed:
		return []*tree.Feed{n}
	case *tree.Folder:
		return n.Feeds()
	default:
		return nil
	}
}

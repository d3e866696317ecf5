package handler

import (
	"net/http"

	"log/slog"

	"github.com/hitoshi/feedkeeper/internal/middleware"
	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/opml"
	"github.com/hitoshi/feedkeeper/internal/tree"
)

// OPMLHandler は購読ツリーのOPML入出力のHTTPハンドラー。
type OPMLHandler struct {
	deps *Deps
}

// NewOPMLHandler はOPMLHandlerを生成する。
func NewOPMLHandler(deps *Deps) *OPMLHandler {
	return &OPMLHandler{deps: deps}
}

// Export は購読ツリー全体をOPML文書として返す。
// GET /api/opml
func (h *OPMLHandler) Export(w http.ResponseWriter, r *http.Request) {
	h.deps.Mu.Lock()
	doc := h.deps.List.ToOPML()
	h.deps.Mu.Unlock()

	data, err := opml.Format(doc)
	if err != nil {
		h.deps.Logger.Error("OPMLの出力に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/x-opml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="feeds.opml"`)
	w.Write(data)
}

// importResponse はOPML取り込み結果のレスポンス。
type importResponse struct {
	Feeds int `json:"feeds"`
}

// Import はOPML文書を解析し、ツリーのルート直下へ取り込む。
// POST /api/opml
func (h *OPMLHandler) Import(w http.ResponseWriter, r *http.Request) {
	doc, err := opml.Parse(r.Body)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidOPMLError(err.Error()))
		return
	}

	h.deps.Mu.Lock()
	imported := tree.NewFeedListFromOPML(doc, h.deps.List.Storage(), h.deps.List.Settings(), h.deps.Logger)
	count := len(imported.AllFeeds())
	err = h.deps.List.Append(imported, h.deps.List.Root(), nil)
	h.deps.Mu.Unlock()

	if err != nil {
		handleJobError(w, err)
		return
	}

	h.deps.Logger.Info("OPMLを取り込みました", slog.Int("feed_count", count))
	writeJSON(w, http.StatusCreated, importResponse{Feeds: count})
}

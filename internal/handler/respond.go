package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedkeeper/internal/middleware"
	"github.com/hitoshi/feedkeeper/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// parseNodeID はURLパラメータ{id}をノードIDとして解析する。
func parseNodeID(r *http.Request) (uint32, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}

// writeInvalidNodeID は不正なノードIDに対する400レスポンスを書き込む。
func writeInvalidNodeID(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_NODE_ID",
		Message:  "ノードIDは符号なし整数で指定してください。",
		Category: "validation",
		Action:   "正しいノードIDを指定してください。",
	})
}

// writeInvalidBody はリクエストボディ解析失敗に対する400レスポンスを書き込む。
func writeInvalidBody(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleJobError はジョブから返されたエラーをHTTPステータスへ対応付けて
// 統一エラーフォーマットで書き込む。
func handleJobError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		middleware.WriteInternalServerError(w)
		return
	}

	status := http.StatusInternalServerError
	switch apiErr.Code {
	case model.ErrCodeNodeNotFound, model.ErrCodeFeedNotFound, model.ErrCodeArticleNotFound:
		status = http.StatusNotFound
	case model.ErrCodeCyclicMove:
		status = http.StatusConflict
	case model.ErrCodeInvalidURL, model.ErrCodeInvalidOPML:
		status = http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		status = http.StatusForbidden
	}
	middleware.WriteErrorResponse(w, status, apiErr)
}

// classifyURLError はURL検証エラーを統一エラーへ変換する。
// ブロック対象（プライベートアドレス等）はSSRF、それ以外は形式エラーとする。
func classifyURLError(err error) (int, *model.APIError) {
	if strings.Contains(err.Error(), "blocked") {
		return http.StatusForbidden, model.NewSSRFBlockedError()
	}
	return http.StatusBadRequest, model.NewInvalidURLError(err.Error())
}

// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, feed, tree, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidURL      = "INVALID_URL"
	ErrCodeSSRFBlocked     = "SSRF_BLOCKED"
	ErrCodeFetchFailed     = "FETCH_FAILED"
	ErrCodeInvalidOPML     = "INVALID_OPML"
	ErrCodeNodeNotFound    = "NODE_NOT_FOUND"
	ErrCodeFeedNotFound    = "FEED_NOT_FOUND"
	ErrCodeArticleNotFound = "ARTICLE_NOT_FOUND"
	ErrCodeCyclicMove      = "CYCLIC_MOVE"
)

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "feed",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewInvalidOPMLError はOPML解析失敗エラーを生成する。
// body要素が存在しない場合などのハードエラーに使用され、部分的な取り込みは行われない。
func NewInvalidOPMLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOPML,
		Message:  fmt.Sprintf("OPML文書の解析に失敗しました: %s", reason),
		Category: "validation",
		Action:   "opmlルート要素とbody要素を含む正しいOPML文書かどうか確認してください。",
	}
}

// NewNodeNotFoundError はツリーノード未検出エラーを生成する。
func NewNodeNotFoundError(id uint32) *APIError {
	return &APIError{
		Code:     ErrCodeNodeNotFound,
		Message:  fmt.Sprintf("指定されたノードが見つかりません: %d", id),
		Category: "tree",
		Action:   "ノードIDを確認してください。対象はすでに削除されている可能性があります。",
	}
}

// NewFeedNotFoundError はフィード未検出エラーを生成する。
func NewFeedNotFoundError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotFound,
		Message:  fmt.Sprintf("指定されたフィードが見つかりません: %s", url),
		Category: "feed",
		Action:   "フィードURLを確認してください。",
	}
}

// NewCyclicMoveError はフォルダを自分自身の子孫へ移動しようとした場合のエラーを生成する。
func NewCyclicMoveError() *APIError {
	return &APIError{
		Code:     ErrCodeCyclicMove,
		Message:  "フォルダを自分自身のサブツリーへ移動することはできません。",
		Category: "tree",
		Action:   "移動先に別のフォルダを指定してください。",
	}
}

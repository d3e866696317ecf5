// Package fetch はフィードの取得・解析と、取得順序を制御するキューを提供する。
package fetch

import (
	"context"
	"time"

	"github.com/hitoshi/feedkeeper/internal/model"
)

// Document は取得・解析済みの1フィード文書を表す。
// 解析ライブラリの型から切り離されており、リコンサイル処理はこの型のみを参照する。
type Document struct {
	Title       string
	Link        string
	Description string
	Copyright   string

	FaviconURL string
	LogoURL    string

	Articles []ParsedArticle
}

// ParsedArticle は取得済み文書内の1記事を表す。
type ParsedArticle struct {
	GUID            string
	GuidIsHash      bool
	GuidIsPermaLink bool

	Title       string
	Link        string
	Description string
	Content     string

	AuthorName  string
	AuthorEMail string
	AuthorURI   string

	EnclosureURL    string
	EnclosureType   string
	EnclosureLength int

	PubDate time.Time
}

// Hash は記事の変更検出用ダイジェストを返す。
func (p *ParsedArticle) Hash() string {
	return model.ComputeArticleHash(p.Title, p.Description, p.Content, p.Link)
}

// Result は1回の取得試行の結果を表す。
// 成功時はDocumentが設定され、失敗時はErrorCodeが分類を保持する。
// InvalidXMLの場合、HTMLの自動ディスカバリで見つかった代替URLが
// DiscoveredURLに設定されることがある。
type Result struct {
	Document      *Document
	ErrorCode     model.FetchErrorCode
	DiscoveredURL string
}

// Loader はフィードURLから解析済み文書を取得する。
type Loader interface {
	Load(ctx context.Context, url string) *Result
}

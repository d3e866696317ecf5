// Package model はドメインモデルを定義する。
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Article はフィードアーカイブに永続化された1記事のスナップショットを表す。
// 真のデータはストレージバックエンド側にあり、この構造体は取得時点の値を
// 保持するだけの軽量な値である。変更はstorage.FeedArchiveの明示的な
// 更新操作として表現される。
type Article struct {
	FeedURL string
	GUID    string

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

	Status  ArticleStatus
	Keep    bool
	Deleted bool

	// Hash はGUIDがコンテンツハッシュでないフィードにおける変更検出用ダイジェスト。
	Hash            string
	GuidIsHash      bool
	GuidIsPermaLink bool
}

// ID は (feedUrl, guid) の複合キーを返す。
// この組はフィードリスト全体で記事を一意に識別する。
func (a *Article) ID() ArticleID {
	return ArticleID{FeedURL: a.FeedURL, GUID: a.GUID}
}

// Before は表示順序（公開日時の昇順）を比較する。
// アーカイブの件数トリミングと一覧ソートの両方がこの順序を使用する。
func (a *Article) Before(other *Article) bool {
	return a.PubDate.Before(other.PubDate)
}

// ArticleID はフィードURLとGUIDの組による記事の大域識別子。
type ArticleID struct {
	FeedURL string
	GUID    string
}

// ComputeArticleHash は記事の変更検出用ダイジェストを計算する。
// GUIDが不透明な外部IDであるフィードでは、保存済みハッシュとの比較で
// 既存記事の更新を検出する。同一入力に対して常に同一出力を返す。
func ComputeArticleHash(title, description, content, link string) string {
	data := fmt.Sprintf("%s|%s|%s|%s", title, description, content, link)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Package storage はアーカイブ永続化のインターフェースを定義する。
// フィード単位のメタデータと、フィード内でGUIDをキーとする記事レコードの
// 2つの能力セットを提供する。実装はSQLバックエンドまたはインメモリ。
package storage

import (
	"context"
	"time"

	"github.com/hitoshi/feedkeeper/internal/model"
)

// Storage はアーカイブバックエンド全体のインターフェース。
// フィードリスト（OPML文書）の保存・復元と、フィードごとのアーカイブへの
// アクセスを提供する。
type Storage interface {
	// ArchiveFor は指定フィードURLのアーカイブハンドルを返す。
	// 同一URLに対しては同一のアーカイブを返す。存在しない場合は空のまま生成される。
	ArchiveFor(url string) FeedArchive

	// Feeds はアーカイブが存在するフィードURLの一覧を返す。
	Feeds(ctx context.Context) ([]string, error)

	// StoreFeedList はフィードリストのOPML文書を保存する。
	StoreFeedList(ctx context.Context, opml string) error

	// RestoreFeedList は保存済みのOPML文書を返す。未保存の場合は空文字列を返す。
	RestoreFeedList(ctx context.Context) (string, error)

	// Close はバックエンドへの接続を閉じる。
	Close() error
}

// FeedArchive は1フィード分のアーカイブへのアクセスを提供する。
// 記事はフィード内でGUIDにより一意に識別される。
type FeedArchive interface {
	// LastFetch は最終フェッチ時刻を返す。未フェッチの場合はゼロ値を返す。
	LastFetch(ctx context.Context) (time.Time, error)
	// SetLastFetch は最終フェッチ時刻を記録する。
	SetLastFetch(ctx context.Context, t time.Time) error

	// Unread は保存済みの未読数を返す。
	Unread(ctx context.Context) (int, error)
	// SetUnread は未読数を記録する。
	SetUnread(ctx context.Context, n int) error

	// TotalCount は削除済みを除く記事数を返す。
	TotalCount(ctx context.Context) (int, error)

	// ListGUIDs はアーカイブ内の全記事のGUIDを返す（削除済みタムストーンを含む）。
	ListGUIDs(ctx context.Context) ([]string, error)

	// Contains は指定GUIDの記事が存在するかを返す。
	Contains(ctx context.Context, guid string) (bool, error)

	// Get は指定GUIDの記事スナップショットを返す。見つからない場合はnilを返す。
	Get(ctx context.Context, guid string) (*model.Article, error)

	// Create は新規記事レコードを作成する。
	Create(ctx context.Context, a *model.Article) error

	// Update は既存記事レコードを上書き更新する。履歴は保持しない。
	Update(ctx context.Context, a *model.Article) error

	// UpdateStatus は既読状態のみを更新する。
	UpdateStatus(ctx context.Context, guid string, status model.ArticleStatus) error

	// UpdateKeep は保持フラグ（期限切れ削除からの保護）のみを更新する。
	UpdateKeep(ctx context.Context, guid string, keep bool) error

	// MarkDeleted は記事をソフト削除する。表示用フィールドを空白化した
	// タムストーンとして行を残し、配信元から記事が消えた時点のリコンサイルで
	// Deleteにより物理削除される。
	MarkDeleted(ctx context.Context, guid string) error

	// Delete は記事レコードを物理削除する。冪等であり、対象がなくてもエラーにならない。
	Delete(ctx context.Context, guid string) error
}

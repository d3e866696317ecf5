package tree

import "github.com/hitoshi/feedkeeper/internal/model"

// Observer はツリーの構造変更・フェッチ進行・記事変更の通知を受け取る
// コールバック群。不要なコールバックはnilのままでよい。
//
// 記事変更通知（ArticlesAdded/Updated/Removed）は1回のリコンサイルまたは
// 1回の通知抑制ブラケットにつき最大1回だけ呼ばれる。記事単位の通知は
// 発生しない。
type Observer struct {
	NodeAdded         func(Node)
	AboutToRemoveNode func(Node)
	NodeRemoved       func(Node)
	NodeChanged       func(Node)

	// UnreadCountChanged はツリー全体の未読数が変化した可能性があるときに呼ばれる。
	UnreadCountChanged func(total int)

	FetchStarted func(*Feed)
	Fetched      func(*Feed)
	FetchAborted func(*Feed)
	FetchError   func(*Feed)

	ArticlesAdded   func(*Feed, []model.ArticleID)
	ArticlesUpdated func(*Feed, []model.ArticleID)
	ArticlesRemoved func(*Feed, []model.ArticleID)
}

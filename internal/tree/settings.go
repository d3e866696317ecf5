// Package tree はフィード／フォルダのツリーモデルとリコンサイル処理を提供する。
//
// ツリーは単一ゴルーチンに閉じ込めて使用する前提であり、パッケージ内に
// ロックは存在しない。フェッチキューとジョブがツリーへの変更を直列化する。
package tree

import "github.com/hitoshi/feedkeeper/internal/model"

// Settings はアプリケーション全体のアーカイブ・フェッチ設定を表す。
// フィードのarchiveMode=globalDefaultはこの値へ委譲する。
// シングルトンではなく、FeedList構築時に明示的に渡される。
type Settings struct {
	// DefaultArchiveMode はglobalDefaultの委譲先となる全体ポリシー。
	// ここでさらにglobalDefaultを指定した場合はkeepAllArticlesとして扱う。
	DefaultArchiveMode model.ArchiveMode
	// DefaultMaxArticleAge は経過日数上限のデフォルト値（日）。
	DefaultMaxArticleAge int
	// DefaultMaxArticleNumber は記事数上限のデフォルト値。
	DefaultMaxArticleNumber int
	// DoNotExpireImportant が真の場合、保持フラグ付き記事は期限切れ処理の対象外となる。
	DoNotExpireImportant bool
	// ConcurrentFetches は同時フェッチ数の上限。
	ConcurrentFetches int
}

// DefaultSettings は既定の設定を返す。
func DefaultSettings() *Settings {
	return &Settings{
		DefaultArchiveMode:      model.ArchiveKeepAll,
		DefaultMaxArticleAge:    60,
		DefaultMaxArticleNumber: 1000,
		DoNotExpireImportant:    true,
		ConcurrentFetches:       6,
	}
}

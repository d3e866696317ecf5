package jobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/feedkeeper/internal/tree"
)

// ExpireItemsCommand は各フィードの期限切れ記事を収集し、
// フィードごとの削除ジョブとして実行する。
// 進捗は処理済みフィード数の割合（0〜100）で通知される。
type ExpireItemsCommand struct {
	base
	list  *tree.FeedList
	feeds []*tree.Feed

	aborted atomic.Bool

	// OnProgress は各フィードの処理後に進捗率とともに呼ばれる。
	// Startの前に設定すること。nilなら通知しない。
	OnProgress func(percent int)

	// now はテストで差し替え可能な現在時刻源。
	now func() time.Time
}

// NewExpireItemsCommand はExpireItemsCommandの新しいインスタンスを生成する。
// feedsがnilの場合はリスト内の全フィードを対象とする。
func NewExpireItemsCommand(list *tree.FeedList, feeds []*tree.Feed, mu sync.Locker, logger *slog.Logger) *ExpireItemsCommand {
	return &ExpireItemsCommand{
		base:  newBase(mu, logger),
		list:  list,
		feeds: feeds,
		now:   time.Now,
	}
}

// Abort は未処理のフィードに対する削除を中止する。
// 実行中のフィードの削除は完了まで走る。
func (c *ExpireItemsCommand) Abort() {
	c.aborted.Store(true)
}

// Start はコマンドを開始し、完了チャネルを返す。
func (c *ExpireItemsCommand) Start(ctx context.Context) <-chan error {
	return start(ctx, c.run)
}

func (c *ExpireItemsCommand) run(ctx context.Context) error {
	defer c.lock()()

	feeds := c.feeds
	if feeds == nil {
		feeds = c.list.AllFeeds()
	}
	total := len(feeds)
	if total == 0 {
		c.progress(100)
		return nil
	}

	now := c.now()
	for i, f := range feeds {
		if c.aborted.Load() {
			c.logger.Info("期限切れ削除を中断します",
				slog.String("job_id", c.id.String()),
				slog.Int("remaining", total-i),
			)
			return nil
		}

		ids := f.CollectExpired(ctx, now)
		if len(ids) > 0 {
			sub := NewArticleDeleteJob(c.list, ids, nil, c.logger)
			sub.deleteLocked(ctx)
			c.logger.Info("期限切れ記事を削除しました",
				slog.String("job_id", c.id.String()),
				slog.String("feed_url", f.XMLURL()),
				slog.Int("articles", len(ids)),
			)
		}
		c.progress((i + 1) * 100 / total)
	}
	return nil
}

func (c *ExpireItemsCommand) progress(percent int) {
	if c.OnProgress != nil {
		c.OnProgress(percent)
	}
}

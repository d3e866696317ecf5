package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/tree"
)

// ArticleDeleteJob は記事IDの集合を一括でソフト削除する。
// フィードごとにまとめて処理し、通知はフィード単位で1回に集約される。
type ArticleDeleteJob struct {
	base
	list *tree.FeedList
	ids  []model.ArticleID
}

// NewArticleDeleteJob はArticleDeleteJobの新しいインスタンスを生成する。
func NewArticleDeleteJob(list *tree.FeedList, ids []model.ArticleID, mu sync.Locker, logger *slog.Logger) *ArticleDeleteJob {
	return &ArticleDeleteJob{base: newBase(mu, logger), list: list, ids: ids}
}

// Start はジョブを開始し、完了チャネルを返す。
func (j *ArticleDeleteJob) Start(ctx context.Context) <-chan error {
	return start(ctx, j.run)
}

func (j *ArticleDeleteJob) run(ctx context.Context) error {
	defer j.lock()()
	j.deleteLocked(ctx)
	return nil
}

// deleteLocked は占有ロックを保持した状態で呼ばれる削除本体。
// ExpireItemsCommandがサブジョブとして直接利用する。
func (j *ArticleDeleteJob) deleteLocked(ctx context.Context) {
	for feedURL, guids := range groupByFeed(j.ids) {
		f := j.list.FindByURL(feedURL)
		if f == nil {
			// 購読がすでに解除されている場合は何もしない
			j.logger.Info("削除対象のフィードが見つからないためスキップします",
				slog.String("job_id", j.id.String()),
				slog.String("feed_url", feedURL),
				slog.Int("articles", len(guids)),
			)
			continue
		}
		f.LoadArticles(ctx)
		f.SetNotificationMode(false)
		for _, guid := range guids {
			f.DeleteArticle(ctx, guid)
		}
		f.SetNotificationMode(true)
	}
}

// ArticleModifyJob は記事の既読状態と保持フラグを一括で更新する。
type ArticleModifyJob struct {
	base
	list          *tree.FeedList
	statusChanges map[model.ArticleID]model.ArticleStatus
	keepChanges   map[model.ArticleID]bool
}

// NewArticleModifyJob はArticleModifyJobの新しいインスタンスを生成する。
// statusChangesとkeepChangesのどちらか一方はnilでもよい。
func NewArticleModifyJob(
	list *tree.FeedList,
	statusChanges map[model.ArticleID]model.ArticleStatus,
	keepChanges map[model.ArticleID]bool,
	mu sync.Locker,
	logger *slog.Logger,
) *ArticleModifyJob {
	return &ArticleModifyJob{
		base:          newBase(mu, logger),
		list:          list,
		statusChanges: statusChanges,
		keepChanges:   keepChanges,
	}
}

// Start はジョブを開始し、完了チャネルを返す。
func (j *ArticleModifyJob) Start(ctx context.Context) <-chan error {
	return start(ctx, j.run)
}

func (j *ArticleModifyJob) run(ctx context.Context) error {
	defer j.lock()()

	// フィード単位に変更をまとめ、通知モードの切り替えを1回にする
	type feedChanges struct {
		status map[string]model.ArticleStatus
		keep   map[string]bool
	}
	byFeed := make(map[string]*feedChanges)
	changesFor := func(feedURL string) *feedChanges {
		c, ok := byFeed[feedURL]
		if !ok {
			c = &feedChanges{
				status: make(map[string]model.ArticleStatus),
				keep:   make(map[string]bool),
			}
			byFeed[feedURL] = c
		}
		return c
	}
	for id, status := range j.statusChanges {
		changesFor(id.FeedURL).status[id.GUID] = status
	}
	for id, keep := range j.keepChanges {
		changesFor(id.FeedURL).keep[id.GUID] = keep
	}

	for feedURL, c := range byFeed {
		f := j.list.FindByURL(feedURL)
		if f == nil {
			j.logger.Info("変更対象のフィードが見つからないためスキップします",
				slog.String("job_id", j.id.String()),
				slog.String("feed_url", feedURL),
			)
			continue
		}
		f.LoadArticles(ctx)
		f.SetNotificationMode(false)
		for guid, status := range c.status {
			f.SetArticleStatus(ctx, guid, status)
		}
		for guid, keep := range c.keep {
			f.SetArticleKeep(ctx, guid, keep)
		}
		f.SetNotificationMode(true)
	}
	return nil
}

// groupByFeed は記事IDをフィードURLごとのGUID列にまとめる。
func groupByFeed(ids []model.ArticleID) map[string][]string {
	byFeed := make(map[string][]string)
	for _, id := range ids {
		byFeed[id.FeedURL] = append(byFeed[id.FeedURL], id.GUID)
	}
	return byFeed
}

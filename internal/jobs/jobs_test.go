package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/feedkeeper/internal/fetch"
	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/storage"
	"github.com/hitoshi/feedkeeper/internal/tree"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestList(t *testing.T) *tree.FeedList {
	t.Helper()
	return tree.NewFeedList(storage.NewMemory(), tree.DefaultSettings(), testLogger())
}

// newPopulatedFeed は指定GUIDの記事を持つフィードをルート直下に作る。
func newPopulatedFeed(t *testing.T, l *tree.FeedList, url string, guids ...string) *tree.Feed {
	t.Helper()
	ctx := context.Background()

	f := tree.NewFeed(url)
	l.Root().AppendChild(f)

	doc := &fetch.Document{Title: "Test Feed"}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, guid := range guids {
		doc.Articles = append(doc.Articles, fetch.ParsedArticle{
			GUID:    guid,
			Title:   "記事 " + guid,
			Link:    "https://example.com/" + guid,
			Content: "本文 " + guid,
			PubDate: base.Add(time.Duration(i) * time.Hour),
		})
	}
	f.StartFetch(ctx, false)
	f.CompleteFetch(ctx, &fetch.Result{Document: doc})
	return f
}

// wait はジョブの完了を待って結果を返す。
func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("ジョブの完了を待ってタイムアウトしました")
		return nil
	}
}

func TestArticleDeleteJob(t *testing.T) {
	ctx := context.Background()
	l := newTestList(t)
	f := newPopulatedFeed(t, l, "https://example.com/feed", "g1", "g2", "g3")

	var removedBatches int
	var removedIDs []model.ArticleID
	l.AddObserver(&tree.Observer{
		ArticlesRemoved: func(feed *tree.Feed, ids []model.ArticleID) {
			removedBatches++
			removedIDs = append(removedIDs, ids...)
		},
	})

	var mu sync.Mutex
	job := NewArticleDeleteJob(l, []model.ArticleID{
		{FeedURL: "https://example.com/feed", GUID: "g1"},
		{FeedURL: "https://example.com/feed", GUID: "g2"},
	}, &mu, testLogger())

	if err := wait(t, job.Start(ctx)); err != nil {
		t.Fatalf("ジョブがエラーを返した: %v", err)
	}

	for _, guid := range []string{"g1", "g2"} {
		a := f.Article(guid)
		if a == nil || !a.Deleted {
			t.Errorf("記事 %s がソフト削除されていない", guid)
		}
	}
	if a := f.Article("g3"); a == nil || a.Deleted {
		t.Error("対象外の記事 g3 が削除された")
	}
	if f.UnreadCount() != 1 {
		t.Errorf("未読数 = %d, want 1", f.UnreadCount())
	}

	// 通知はフィード単位で1回にまとめられる
	if removedBatches != 1 {
		t.Errorf("削除通知の回数 = %d, want 1", removedBatches)
	}
	if len(removedIDs) != 2 {
		t.Errorf("通知された記事数 = %d, want 2", len(removedIDs))
	}
}

func TestArticleDeleteJob_VanishedFeed(t *testing.T) {
	ctx := context.Background()
	l := newTestList(t)

	job := NewArticleDeleteJob(l, []model.ArticleID{
		{FeedURL: "https://gone.example.com/feed", GUID: "g1"},
	}, nil, testLogger())

	// 購読が存在しない場合も成功として完了する
	if err := wait(t, job.Start(ctx)); err != nil {
		t.Errorf("消えたフィードに対するジョブがエラーを返した: %v", err)
	}
}

func TestArticleModifyJob(t *testing.T) {
	ctx := context.Background()
	l := newTestList(t)
	f := newPopulatedFeed(t, l, "https://example.com/feed", "g1", "g2")

	var updatedBatches int
	l.AddObserver(&tree.Observer{
		ArticlesUpdated: func(feed *tree.Feed, ids []model.ArticleID) {
			updatedBatches++
		},
	})

	job := NewArticleModifyJob(l,
		map[model.ArticleID]model.ArticleStatus{
			{FeedURL: "https://example.com/feed", GUID: "g1"}: model.StatusRead,
		},
		map[model.ArticleID]bool{
			{FeedURL: "https://example.com/feed", GUID: "g2"}:            true,
			{FeedURL: "https://gone.example.com/feed", GUID: "missing"}:  true,
		},
		nil, testLogger())

	if err := wait(t, job.Start(ctx)); err != nil {
		t.Fatalf("ジョブがエラーを返した: %v", err)
	}

	if f.Article("g1").Status != model.StatusRead {
		t.Error("g1 が既読になっていない")
	}
	if !f.Article("g2").Keep {
		t.Error("g2 の保持フラグが立っていない")
	}
	if f.UnreadCount() != 1 {
		t.Errorf("未読数 = %d, want 1", f.UnreadCount())
	}
	if updatedBatches != 1 {
		t.Errorf("更新通知の回数 = %d, want 1", updatedBatches)
	}
}

func TestExpireItemsCommand(t *testing.T) {
	ctx := context.Background()
	l := newTestList(t)

	// 経過日数上限1日: 古い記事2件が期限切れ、保持フラグ付きは守られる
	f1 := newPopulatedFeed(t, l, "https://example.com/old", "a1", "a2", "a3")
	f1.ArchiveMode = model.ArchiveLimitAge
	f1.MaxArticleAge = 1
	f1.SetArticleKeep(ctx, "a2", true)

	// もう1件は全保持モード: 何も削除されない
	f2 := newPopulatedFeed(t, l, "https://example.com/keep", "b1")
	f2.ArchiveMode = model.ArchiveKeepAll

	cmd := NewExpireItemsCommand(l, []*tree.Feed{f1, f2}, nil, testLogger())
	var progress []int
	cmd.OnProgress = func(p int) { progress = append(progress, p) }
	cmd.now = func() time.Time {
		return time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	}

	if err := wait(t, cmd.Start(ctx)); err != nil {
		t.Fatalf("コマンドがエラーを返した: %v", err)
	}

	if a := f1.Article("a1"); a == nil || !a.Deleted {
		t.Error("期限切れ記事 a1 が削除されていない")
	}
	if a := f1.Article("a3"); a == nil || !a.Deleted {
		t.Error("期限切れ記事 a3 が削除されていない")
	}
	if a := f1.Article("a2"); a == nil || a.Deleted {
		t.Error("保持フラグ付きの記事 a2 が削除された")
	}
	if a := f2.Article("b1"); a == nil || a.Deleted {
		t.Error("全保持モードのフィードの記事が削除された")
	}

	want := []int{50, 100}
	if len(progress) != len(want) {
		t.Fatalf("進捗通知 = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("進捗通知 = %v, want %v", progress, want)
			break
		}
	}
}

func TestExpireItemsCommand_Abort(t *testing.T) {
	ctx := context.Background()
	l := newTestList(t)
	f := newPopulatedFeed(t, l, "https://example.com/old", "a1")
	f.ArchiveMode = model.ArchiveLimitAge
	f.MaxArticleAge = 1

	cmd := NewExpireItemsCommand(l, []*tree.Feed{f}, nil, testLogger())
	cmd.now = func() time.Time {
		return time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	}
	cmd.Abort()

	if err := wait(t, cmd.Start(ctx)); err != nil {
		t.Fatalf("中断されたコマンドがエラーを返した: %v", err)
	}
	if a := f.Article("a1"); a == nil || a.Deleted {
		t.Error("中断後に削除が実行された")
	}
}

func TestMoveSubscriptionJob(t *testing.T) {
	ctx := context.Background()
	l := newTestList(t)
	folder := tree.NewFolder("ニュース")
	l.Root().AppendChild(folder)
	f := newPopulatedFeed(t, l, "https://example.com/feed", "g1")

	job := NewMoveSubscriptionJob(l, f.ID(), folder.ID(), 0, nil, testLogger())
	if err := wait(t, job.Start(ctx)); err != nil {
		t.Fatalf("移動ジョブがエラーを返した: %v", err)
	}

	if f.Parent() != folder {
		t.Error("フィードが移動先フォルダの子になっていない")
	}
	if got := l.FindByID(f.ID()); got != tree.Node(f) {
		t.Error("移動後にIDで検索できない")
	}
}

func TestMoveSubscriptionJob_CyclicMove(t *testing.T) {
	ctx := context.Background()
	l := newTestList(t)
	outer := tree.NewFolder("外側")
	inner := tree.NewFolder("内側")
	l.Root().AppendChild(outer)
	outer.AppendChild(inner)

	job := NewMoveSubscriptionJob(l, outer.ID(), inner.ID(), 0, nil, testLogger())
	err := wait(t, job.Start(ctx))
	if err == nil {
		t.Fatal("自分自身のサブツリーへの移動がエラーにならなかった")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCyclicMove {
		t.Errorf("エラーコードが不正: %v", err)
	}
	if inner.Parent() != outer {
		t.Error("拒否された移動でツリーが変化した")
	}
}

func TestMoveSubscriptionJob_MissingTargets(t *testing.T) {
	ctx := context.Background()
	l := newTestList(t)
	folder := tree.NewFolder("ニュース")
	l.Root().AppendChild(folder)

	// 移動対象が消えている場合は成功扱い
	job := NewMoveSubscriptionJob(l, 9999, folder.ID(), 0, nil, testLogger())
	if err := wait(t, job.Start(ctx)); err != nil {
		t.Errorf("消えたノードの移動がエラーを返した: %v", err)
	}

	// 移動先が存在しない場合はエラー
	f := newPopulatedFeed(t, l, "https://example.com/feed", "g1")
	job = NewMoveSubscriptionJob(l, f.ID(), 9999, 0, nil, testLogger())
	err := wait(t, job.Start(ctx))
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNodeNotFound {
		t.Errorf("移動先不在のエラーコードが不正: %v", err)
	}
}

func TestRenameSubscriptionJob(t *testing.T) {
	ctx := context.Background()
	l := newTestList(t)
	f := newPopulatedFeed(t, l, "https://example.com/feed", "g1")

	job := NewRenameSubscriptionJob(l, f.ID(), "新しい名前", nil, testLogger())
	if err := wait(t, job.Start(ctx)); err != nil {
		t.Fatalf("改名ジョブがエラーを返した: %v", err)
	}
	if f.Title() != "新しい名前" {
		t.Errorf("タイトル = %q", f.Title())
	}

	// 消えたノードは成功扱い
	job = NewRenameSubscriptionJob(l, 9999, "無視される", nil, testLogger())
	if err := wait(t, job.Start(ctx)); err != nil {
		t.Errorf("消えたノードの改名がエラーを返した: %v", err)
	}
}

func TestDeleteSubscriptionJob(t *testing.T) {
	ctx := context.Background()
	l := newTestList(t)
	f := newPopulatedFeed(t, l, "https://example.com/feed", "g1")
	id := f.ID()

	job := NewDeleteSubscriptionJob(l, id, nil, testLogger())
	if err := wait(t, job.Start(ctx)); err != nil {
		t.Fatalf("削除ジョブがエラーを返した: %v", err)
	}

	if l.FindByID(id) != nil {
		t.Error("削除後もIDで検索できる")
	}
	if l.FindByURL("https://example.com/feed") != nil {
		t.Error("削除後もURLで検索できる")
	}

	// ルートフォルダの削除要求は無視される
	job = NewDeleteSubscriptionJob(l, l.Root().ID(), nil, testLogger())
	if err := wait(t, job.Start(ctx)); err != nil {
		t.Errorf("ルート削除の要求がエラーを返した: %v", err)
	}
	if l.FindByID(l.Root().ID()) == nil {
		t.Error("ルートフォルダが削除された")
	}
}

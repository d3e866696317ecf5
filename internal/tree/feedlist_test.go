package tree

import (
	"context"
	"strings"
	"testing"

	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/opml"
	"github.com/hitoshi/feedkeeper/internal/storage"
)

func TestFeedList_RootNode(t *testing.T) {
	l := newTestList(t)

	root := l.Root()
	if root.Title() != "All Feeds" {
		t.Errorf("ルートのタイトルが不正: got %q", root.Title())
	}
	if root.ID() != 1 {
		t.Errorf("ルートのIDが不正: got %d, want 1", root.ID())
	}
	if l.FindByID(1) != Node(root) {
		t.Error("ルートがID索引から引けない")
	}
}

// TestFeedList_IDUniqueness は採番されるIDが一意で、0と1が
// 決して払い出されないことを検証する。
func TestFeedList_IDUniqueness(t *testing.T) {
	l := newTestList(t)

	seen := make(map[uint32]bool)
	for i := 0; i < 200; i++ {
		f := NewFeed("https://example.com/feed")
		l.Root().AppendChild(f)
		id := f.ID()
		if id == 0 || id == 1 {
			t.Fatalf("予約済みID %d が払い出された", id)
		}
		if seen[id] {
			t.Fatalf("IDが重複した: %d", id)
		}
		seen[id] = true
	}
}

// TestFeedList_IDCollisionRetry は生成器の衝突が再試行で解決されることを検証する。
func TestFeedList_IDCollisionRetry(t *testing.T) {
	l := newTestList(t)

	// 最初の2回は同じ値、さらに予約値0,1を混ぜても最終的に未使用IDに到達する
	values := []uint32{42, 42, 0, 1, 43}
	i := 0
	l.randID = func() uint32 {
		v := values[i%len(values)]
		i++
		return v
	}

	f1 := NewFeed("https://a.example.com/feed")
	l.Root().AppendChild(f1)
	if f1.ID() != 42 {
		t.Fatalf("1つ目のID: got %d, want 42", f1.ID())
	}

	f2 := NewFeed("https://b.example.com/feed")
	l.Root().AppendChild(f2)
	if f2.ID() != 43 {
		t.Errorf("衝突後の再採番: got %d, want 43", f2.ID())
	}
}

// TestFeedList_RemoveUnindexesAtomically はノード除去で索引が
// 同時に消えることを検証する（参照の取り残しなし）。
func TestFeedList_RemoveUnindexesAtomically(t *testing.T) {
	l := newTestList(t)

	folder := NewFolder("Tech")
	l.Root().AppendChild(folder)
	f := NewFeed("https://example.com/feed")
	folder.AppendChild(f)

	feedID, folderID := f.ID(), folder.ID()
	l.Root().RemoveChild(folder)

	if l.FindByID(folderID) != nil {
		t.Error("除去後もフォルダがID索引に残っている")
	}
	if l.FindByID(feedID) != nil {
		t.Error("除去後も子フィードがID索引に残っている")
	}
	if l.FindByURL("https://example.com/feed") != nil {
		t.Error("除去後もフィードがURL索引に残っている")
	}
	if len(l.AllNodes()) != 1 {
		t.Errorf("除去後のノード数が不正: got %d, want 1（ルートのみ）", len(l.AllNodes()))
	}
}

// TestFeedList_DuplicateURLSubscribe は同一URLの重複購読が2つの独立した
// フィードを生み、FindByURLが先に追加されたものを返すことを検証する。
func TestFeedList_DuplicateURLSubscribe(t *testing.T) {
	l := newTestList(t)
	url := "https://example.com/feed"

	first := NewFeed(url)
	second := NewFeed(url)
	l.Root().AppendChild(first)
	l.Root().AppendChild(second)

	if first.ID() == second.ID() {
		t.Error("重複購読のIDが同一")
	}
	if got := len(l.FeedsByURL(url)); got != 2 {
		t.Fatalf("URL索引のフィード数が不正: got %d, want 2", got)
	}
	if l.FindByURL(url) != first {
		t.Error("FindByURLが最初に追加されたフィードを返さない")
	}
}

func TestFeedList_ReindexOnURLChange(t *testing.T) {
	l := newTestList(t)
	f := newTestFeed(t, l, "https://old.example.com/feed")

	f.SetXMLURL("https://new.example.com/feed")

	if l.FindByURL("https://old.example.com/feed") != nil {
		t.Error("旧URLが索引に残っている")
	}
	if l.FindByURL("https://new.example.com/feed") != f {
		t.Error("新URLで索引から引けない")
	}
}

func TestFeedList_StructuralNotifications(t *testing.T) {
	l := newTestList(t)

	var added, aboutToRemove, removed []Node
	l.AddObserver(&Observer{
		NodeAdded:         func(n Node) { added = append(added, n) },
		AboutToRemoveNode: func(n Node) { aboutToRemove = append(aboutToRemove, n) },
		NodeRemoved:       func(n Node) { removed = append(removed, n) },
	})

	f := NewFeed("https://example.com/feed")
	l.Root().AppendChild(f)
	if len(added) != 1 || added[0] != Node(f) {
		t.Errorf("NodeAdded通知が不正: %v", added)
	}

	l.Root().RemoveChild(f)
	if len(aboutToRemove) != 1 || len(removed) != 1 {
		t.Errorf("除去通知が不正: aboutToRemove=%d removed=%d", len(aboutToRemove), len(removed))
	}
}

// TestFeedList_OPMLRoundTrip はエクスポート→インポートで構造と
// フィード設定が保存されることを検証する。
func TestFeedList_OPMLRoundTrip(t *testing.T) {
	l := newTestList(t)

	folder := NewFolder("Tech")
	folder.SetOpen(false)
	l.Root().AppendChild(folder)

	f := NewFeed("https://example.com/feed")
	f.SetTitle("Example Feed")
	f.HTMLURL = "https://example.com"
	f.ArchiveMode = model.ArchiveLimitNumber
	f.MaxArticleNumber = 100
	f.MaxArticleAge = 30
	f.MarkImmediatelyAsRead = true
	f.LoadLinkedWebsite = true
	f.Comment = "a comment"
	f.Copyright = "(c) example"
	folder.AppendChild(f)

	plain := NewFeed("https://other.example.com/feed")
	plain.SetTitle("Other")
	l.Root().AppendChild(plain)

	// シリアライズして素のXML経由で再構築する
	raw, err := opml.Format(l.ToOPML())
	if err != nil {
		t.Fatalf("OPMLのシリアライズに失敗: %v", err)
	}
	doc, err := opml.Parse(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("OPMLの再解析に失敗: %v", err)
	}
	restored := NewFeedListFromOPML(doc, storage.NewMemory(), DefaultSettings(), l.logger)

	children := restored.Root().Children()
	if len(children) != 2 {
		t.Fatalf("ルート直下の子ノード数が不正: got %d, want 2", len(children))
	}

	rf, ok := children[0].(*Folder)
	if !ok {
		t.Fatalf("1番目の子がフォルダでない: %T", children[0])
	}
	if rf.Title() != "Tech" || rf.IsOpen() {
		t.Errorf("フォルダ属性のラウンドトリップが不正: title=%q isOpen=%v", rf.Title(), rf.IsOpen())
	}
	if rf.ID() != folder.ID() {
		t.Errorf("フォルダIDが保存されていない: got %d, want %d", rf.ID(), folder.ID())
	}

	rfeed, ok := rf.Children()[0].(*Feed)
	if !ok {
		t.Fatalf("フォルダの子がフィードでない: %T", rf.Children()[0])
	}
	if rfeed.XMLURL() != "https://example.com/feed" ||
		rfeed.Title() != "Example Feed" ||
		rfeed.HTMLURL != "https://example.com" ||
		rfeed.ArchiveMode != model.ArchiveLimitNumber ||
		rfeed.MaxArticleNumber != 100 ||
		rfeed.MaxArticleAge != 30 ||
		!rfeed.MarkImmediatelyAsRead ||
		rfeed.UseNotification ||
		!rfeed.LoadLinkedWebsite ||
		rfeed.Comment != "a comment" ||
		rfeed.Copyright != "(c) example" {
		t.Errorf("フィード設定のラウンドトリップが不正: %+v", rfeed)
	}
	if rfeed.ID() != f.ID() {
		t.Errorf("フィードIDが保存されていない: got %d, want %d", rfeed.ID(), f.ID())
	}

	if children[1].Title() != "Other" {
		t.Errorf("2番目の子のラウンドトリップが不正: %q", children[1].Title())
	}
}

// TestFeedList_OPMLImport_AssignsMissingIDs はOPMLがidを供給しなかった
// ノードへ新規IDが採番されることを検証する。
func TestFeedList_OPMLImport_AssignsMissingIDs(t *testing.T) {
	src := `<opml version="1.0"><body>
		<outline text="NoID Folder">
			<outline text="NoID Feed" xmlUrl="https://example.com/feed"/>
		</outline>
	</body></opml>`
	doc, err := opml.ParseString(src)
	if err != nil {
		t.Fatalf("OPMLの解析に失敗: %v", err)
	}

	l := NewFeedListFromOPML(doc, storage.NewMemory(), DefaultSettings(), nil)
	for _, n := range l.AllNodes() {
		if n.ID() == 0 {
			t.Errorf("ID未採番のノードが残っている: %q", n.Title())
		}
	}
	if l.FindByURL("https://example.com/feed") == nil {
		t.Error("インポートされたフィードがURL索引から引けない")
	}
}

// TestFeedList_Append_MovesChildren は別リストの取り込みが移動であり、
// 自己取り込みが拒否されることを検証する。
func TestFeedList_Append_MovesChildren(t *testing.T) {
	dst := newTestList(t)
	target := NewFolder("Imported")
	dst.Root().AppendChild(target)

	src := newTestList(t)
	f1 := NewFeed("https://a.example.com/feed")
	f2 := NewFeed("https://b.example.com/feed")
	src.Root().AppendChild(f1)
	src.Root().AppendChild(f2)

	if err := dst.Append(src, target, nil); err != nil {
		t.Fatalf("Append がエラーを返した: %v", err)
	}

	if len(src.Root().Children()) != 0 {
		t.Error("移動元に子ノードが残っている（コピーになっている）")
	}
	children := target.Children()
	if len(children) != 2 {
		t.Fatalf("移動先の子ノード数が不正: got %d, want 2", len(children))
	}
	if children[0] != Node(f1) || children[1] != Node(f2) {
		t.Error("移動順序が保存されていない")
	}
	if dst.FindByURL("https://a.example.com/feed") != f1 {
		t.Error("移動したフィードが移動先の索引に登録されていない")
	}
	if src.FindByURL("https://a.example.com/feed") != nil {
		t.Error("移動したフィードが移動元の索引に残っている")
	}

	// 自己取り込みは拒否
	if err := dst.Append(dst, target, nil); err == nil {
		t.Error("リストの自己取り込みが受理された")
	}
}

func TestFolder_SubtreeContains(t *testing.T) {
	l := newTestList(t)

	parent := NewFolder("parent")
	child := NewFolder("child")
	grandchild := NewFeed("https://example.com/feed")
	l.Root().AppendChild(parent)
	parent.AppendChild(child)
	child.AppendChild(grandchild)

	if !parent.SubtreeContains(grandchild) {
		t.Error("孫ノードがサブツリーに含まれると判定されない")
	}
	if !parent.SubtreeContains(parent) {
		t.Error("自分自身がサブツリーに含まれると判定されない")
	}
	if child.SubtreeContains(parent) {
		t.Error("祖先がサブツリーに含まれると誤判定された")
	}

	other := NewFolder("other")
	l.Root().AppendChild(other)
	if parent.SubtreeContains(other) {
		t.Error("無関係のノードがサブツリーに含まれると誤判定された")
	}
}

// TestFolder_UnreadAggregation はフォルダの未読集計が子孫フィードの
// 合計であり、記事の既読化で更新されることを検証する。
func TestFolder_UnreadAggregation(t *testing.T) {
	ctx := context.Background()
	l := newTestList(t)

	folder := NewFolder("Tech")
	l.Root().AppendChild(folder)
	f1 := NewFeed("https://a.example.com/feed")
	f2 := NewFeed("https://b.example.com/feed")
	folder.AppendChild(f1)
	folder.AppendChild(f2)

	f1.StartFetch(ctx, false)
	f1.CompleteFetch(ctx, successResult(makeDoc("a1", "a2")))
	f2.StartFetch(ctx, false)
	f2.CompleteFetch(ctx, successResult(makeDoc("b1")))

	if got := folder.UnreadCount(); got != 3 {
		t.Errorf("フォルダの未読集計が不正: got %d, want 3", got)
	}
	if got := l.TotalUnread(); got != 3 {
		t.Errorf("ツリー全体の未読数が不正: got %d, want 3", got)
	}

	f1.SetArticleStatus(ctx, "a1", model.StatusRead)
	if got := folder.UnreadCount(); got != 2 {
		t.Errorf("既読化後のフォルダ未読集計が不正: got %d, want 2", got)
	}

	if got := folder.TotalCount(); got != 3 {
		t.Errorf("フォルダの記事数集計が不正: got %d, want 3", got)
	}
}

func TestFolder_ChildOrdering(t *testing.T) {
	l := newTestList(t)
	folder := NewFolder("f")
	l.Root().AppendChild(folder)

	a := NewFeed("https://a.example.com/feed")
	b := NewFeed("https://b.example.com/feed")
	c := NewFeed("https://c.example.com/feed")

	folder.AppendChild(b)
	folder.PrependChild(a)
	folder.InsertChild(2, c)

	got := folder.Children()
	if got[0] != Node(a) || got[1] != Node(b) || got[2] != Node(c) {
		t.Errorf("子ノードの順序が不正: %v, %v, %v", got[0].Title(), got[1].Title(), got[2].Title())
	}

	// 既存の親からの付け替えは自動的に切り離す
	dest := NewFolder("dest")
	l.Root().AppendChild(dest)
	dest.AppendChild(b)
	if len(folder.Children()) != 2 {
		t.Errorf("付け替え後の旧親の子ノード数が不正: got %d, want 2", len(folder.Children()))
	}
	if b.Parent() != dest {
		t.Error("付け替え後の親が不正")
	}
}

func TestFeedList_FindArticle(t *testing.T) {
	ctx := context.Background()
	l := newTestList(t)
	f := newTestFeed(t, l, "https://example.com/feed")

	f.StartFetch(ctx, false)
	f.CompleteFetch(ctx, successResult(makeDoc("g1")))

	if a := l.FindArticle(ctx, "https://example.com/feed", "g1"); a == nil {
		t.Error("存在する記事がFindArticleで見つからない")
	}
	if a := l.FindArticle(ctx, "https://example.com/feed", "missing"); a != nil {
		t.Error("存在しないGUIDで記事が返された")
	}
	if a := l.FindArticle(ctx, "https://missing.example.com/feed", "g1"); a != nil {
		t.Error("存在しないフィードで記事が返された")
	}
}

package tree

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/storage"
)

// rootNodeID はルートフォルダに予約されたノードID。
const rootNodeID = 1

// FeedList はツリー全体を所有し、ノードIDの採番と索引、OPMLとの相互変換、
// 構造変更通知のルーティングを担う。
//
// 索引の不変条件: flatListに属するノードは親もflatListに属する。
// idはFeedList内で一意であり、0と1は生成器から払い出されない。
type FeedList struct {
	store    storage.Storage
	settings *Settings
	logger   *slog.Logger

	root *Folder

	idMap  map[uint32]Node
	urlMap map[string][]*Feed
	flat   []Node

	observers []*Observer

	// randID はテストで差し替え可能なID生成源。
	randID func() uint32
}

// NewFeedList はルートフォルダ「All Feeds」(id=1)だけを持つ空のリストを生成する。
func NewFeedList(store storage.Storage, settings *Settings, logger *slog.Logger) *FeedList {
	if settings == nil {
		settings = DefaultSettings()
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &FeedList{
		store:    store,
		settings: settings,
		logger:   logger,
		idMap:    make(map[uint32]Node),
		urlMap:   make(map[string][]*Feed),
		randID:   rand.Uint32,
	}

	root := NewFolder("All Feeds")
	root.SetID(rootNodeID)
	root.setFeedList(l)
	l.root = root
	l.idMap[rootNodeID] = root
	l.flat = append(l.flat, root)
	return l
}

// Root はルートフォルダを返す。
func (l *FeedList) Root() *Folder { return l.root }

// Settings は共有設定を返す。
func (l *FeedList) Settings() *Settings { return l.settings }

// Storage はストレージバックエンドを返す。
func (l *FeedList) Storage() storage.Storage { return l.store }

// FindByID は指定IDのノードを返す。存在しない場合はnil。
func (l *FeedList) FindByID(id uint32) Node {
	return l.idMap[id]
}

// FindByURL は指定URLで最初に登録されたフィードを返す。
// 同一URLの重複購読は許容され、マージされない。
func (l *FeedList) FindByURL(url string) *Feed {
	feeds := l.urlMap[url]
	if len(feeds) == 0 {
		return nil
	}
	return feeds[0]
}

// FeedsByURL は指定URLの全フィードを登録順で返す。
func (l *FeedList) FeedsByURL(url string) []*Feed {
	return l.urlMap[url]
}

// AllNodes は登録済みの全ノードを返す。
func (l *FeedList) AllNodes() []Node {
	nodes := make([]Node, len(l.flat))
	copy(nodes, l.flat)
	return nodes
}

// AllFeeds はツリー内の全フィードを表示順で返す。
func (l *FeedList) AllFeeds() []*Feed {
	return l.root.Feeds()
}

// FindArticle は(フィードURL, GUID)で記事を検索する。
func (l *FeedList) FindArticle(ctx context.Context, feedURL, guid string) *model.Article {
	f := l.FindByURL(feedURL)
	if f == nil {
		return nil
	}
	f.LoadArticles(ctx)
	return f.Article(guid)
}

// TotalUnread はツリー全体の未読数を返す。
func (l *FeedList) TotalUnread() int {
	return l.root.UnreadCount()
}

// AddObserver は通知先を登録する。
func (l *FeedList) AddObserver(o *Observer) {
	l.observers = append(l.observers, o)
}

// RemoveObserver は通知先の登録を解除する。
func (l *FeedList) RemoveObserver(o *Observer) {
	for i, cur := range l.observers {
		if cur == o {
			l.observers = append(l.observers[:i], l.observers[i+1:]...)
			return
		}
	}
}

// generateID は未使用の乱数ID（0と1を除く）を返す。
// 衝突はidMapに対する再試行で解決される。
func (l *FeedList) generateID() uint32 {
	for {
		id := l.randID()
		if id == 0 || id == rootNodeID {
			continue
		}
		if _, taken := l.idMap[id]; taken {
			continue
		}
		return id
	}
}

// connectSubtree はノードとその子孫をAddビジターで索引へ登録する。
func (l *FeedList) connectSubtree(n Node) {
	n.Accept(&addVisitor{list: l})
}

// disconnectSubtree はノードとその子孫をRemoveビジターで索引から除去する。
func (l *FeedList) disconnectSubtree(n Node) {
	n.Accept(&removeVisitor{list: l})
}

// addVisitor はノード追加時の副作用（ID採番、索引登録）を
// {Feed, Folder}へ一様に適用する。
type addVisitor struct {
	list *FeedList
}

func (v *addVisitor) VisitFeed(f *Feed) {
	v.register(f)
	l := v.list
	l.urlMap[f.XMLURL()] = append(l.urlMap[f.XMLURL()], f)
	l.notifyNodeAdded(f)
}

func (v *addVisitor) VisitFolder(f *Folder) {
	v.register(f)
	v.list.notifyNodeAdded(f)
	for _, c := range f.Children() {
		c.Accept(v)
	}
}

// register はIDを採番（OPML由来のIDは衝突しない限り保持）して索引へ加える。
func (v *addVisitor) register(n Node) {
	l := v.list
	id := n.ID()
	if id == 0 {
		id = l.generateID()
		n.SetID(id)
	} else if existing, taken := l.idMap[id]; taken && existing != n {
		old := id
		id = l.generateID()
		n.SetID(id)
		l.logger.Warn("ノードIDの衝突を再採番で解決しました", "old_id", old, "new_id", id)
	}
	l.idMap[id] = n
	l.flat = append(l.flat, n)
	n.setFeedList(l)
}

// removeVisitor はノード除去時の副作用（索引除去、切断）を適用する。
type removeVisitor struct {
	list *FeedList
}

func (v *removeVisitor) VisitFeed(f *Feed) {
	v.unregister(f)
	l := v.list
	feeds := l.urlMap[f.XMLURL()]
	for i, cur := range feeds {
		if cur == f {
			feeds = append(feeds[:i], feeds[i+1:]...)
			break
		}
	}
	if len(feeds) == 0 {
		delete(l.urlMap, f.XMLURL())
	} else {
		l.urlMap[f.XMLURL()] = feeds
	}
}

func (v *removeVisitor) VisitFolder(f *Folder) {
	for _, c := range f.Children() {
		c.Accept(v)
	}
	v.unregister(f)
}

func (v *removeVisitor) unregister(n Node) {
	l := v.list
	delete(l.idMap, n.ID())
	for i, cur := range l.flat {
		if cur == n {
			l.flat = append(l.flat[:i], l.flat[i+1:]...)
			break
		}
	}
	n.setFeedList(nil)
}

// reindexFeedURL はフィードのURL変更に伴いURL索引を付け替える。
func (l *FeedList) reindexFeedURL(f *Feed, oldURL, newURL string) {
	feeds := l.urlMap[oldURL]
	for i, cur := range feeds {
		if cur == f {
			feeds = append(feeds[:i], feeds[i+1:]...)
			break
		}
	}
	if len(feeds) == 0 {
		delete(l.urlMap, oldURL)
	} else {
		l.urlMap[oldURL] = feeds
	}
	l.urlMap[newURL] = append(l.urlMap[newURL], f)
}

// Append は別リストのルート直下の全子ノードを、このリストの指定フォルダへ
// afterの直後から順に移動する（コピーではない）。
// リストを自分自身へ取り込もうとした場合はエラーを返す。
func (l *FeedList) Append(other *FeedList, parent *Folder, after Node) error {
	if other == l {
		return model.NewCyclicMoveError()
	}
	if parent == nil || parent.feedList() != l {
		return model.NewNodeNotFoundError(0)
	}

	pos := len(parent.Children())
	if after != nil {
		for i, c := range parent.Children() {
			if c == after {
				pos = i + 1
				break
			}
		}
	}

	children := make([]Node, len(other.Root().Children()))
	copy(children, other.Root().Children())
	for _, c := range children {
		other.Root().RemoveChild(c)
		c.SetID(0) // 取り込み先のリストで再採番する
		parent.InsertChild(pos, c)
		pos++
	}
	return nil
}

// 通知ヘルパー群。登録されたObserverのnilでないコールバックのみ呼び出す。

func (l *FeedList) notifyNodeAdded(n Node) {
	for _, o := range l.observers {
		if o.NodeAdded != nil {
			o.NodeAdded(n)
		}
	}
}

func (l *FeedList) notifyAboutToRemoveNode(n Node) {
	for _, o := range l.observers {
		if o.AboutToRemoveNode != nil {
			o.AboutToRemoveNode(n)
		}
	}
}

func (l *FeedList) notifyNodeRemoved(n Node) {
	for _, o := range l.observers {
		if o.NodeRemoved != nil {
			o.NodeRemoved(n)
		}
	}
}

func (l *FeedList) notifyNodeChanged(n Node) {
	for _, o := range l.observers {
		if o.NodeChanged != nil {
			o.NodeChanged(n)
		}
	}
}

func (l *FeedList) notifyUnreadCountChanged() {
	if len(l.observers) == 0 {
		return
	}
	total := l.TotalUnread()
	for _, o := range l.observers {
		if o.UnreadCountChanged != nil {
			o.UnreadCountChanged(total)
		}
	}
}

func (l *FeedList) notifyFetchStarted(f *Feed) {
	for _, o := range l.observers {
		if o.FetchStarted != nil {
			o.FetchStarted(f)
		}
	}
}

func (l *FeedList) notifyFetched(f *Feed) {
	for _, o := range l.observers {
		if o.Fetched != nil {
			o.Fetched(f)
		}
	}
}

func (l *FeedList) notifyFetchAborted(f *Feed) {
	for _, o := range l.observers {
		if o.FetchAborted != nil {
			o.FetchAborted(f)
		}
	}
}

func (l *FeedList) notifyFetchError(f *Feed) {
	for _, o := range l.observers {
		if o.FetchError != nil {
			o.FetchError(f)
		}
	}
}

func (l *FeedList) notifyArticlesAdded(f *Feed, ids []model.ArticleID) {
	for _, o := range l.observers {
		if o.ArticlesAdded != nil {
			o.ArticlesAdded(f, ids)
		}
	}
}

func (l *FeedList) notifyArticlesUpdated(f *Feed, ids []model.ArticleID) {
	for _, o := range l.observers {
		if o.ArticlesUpdated != nil {
			o.ArticlesUpdated(f, ids)
		}
	}
}

func (l *FeedList) notifyArticlesRemoved(f *Feed, ids []model.ArticleID) {
	for _, o := range l.observers {
		if o.ArticlesRemoved != nil {
			o.ArticlesRemoved(f, ids)
		}
	}
}

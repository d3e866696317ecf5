package tree

// Folder は順序付きの子ノード列を持つ複合ノード。
// 未読数は子孫フィードの合計をキャッシュし、構造変更または記事変更で
// 無効化して次回参照時に再計算する。
type Folder struct {
	nodeBase

	open     bool
	children []Node

	// unreadCache は-1で無効を表す。
	unreadCache int
}

// NewFolder はタイトルを指定して空のフォルダを生成する。
func NewFolder(title string) *Folder {
	return &Folder{
		nodeBase:    nodeBase{title: title},
		open:        true,
		unreadCache: -1,
	}
}

// SetTitle はフォルダのタイトルを変更し、構造変更を通知する。
func (f *Folder) SetTitle(title string) {
	if f.title == title {
		return
	}
	f.title = title
	if f.list != nil {
		f.list.notifyNodeChanged(f)
	}
}

// IsOpen はフォルダの展開状態を返す。
func (f *Folder) IsOpen() bool { return f.open }

// SetOpen はフォルダの展開状態を設定する。
func (f *Folder) SetOpen(open bool) { f.open = open }

// Children は子ノードのスライスを返す。順序は表示順。
// 返り値のスライスを変更してはならない。
func (f *Folder) Children() []Node { return f.children }

// Accept はVisitorをこのフォルダへディスパッチする。
func (f *Folder) Accept(v Visitor) { v.VisitFolder(f) }

// AppendChild は子ノード列の末尾へノードを追加する。
func (f *Folder) AppendChild(n Node) {
	f.InsertChild(len(f.children), n)
}

// PrependChild は子ノード列の先頭へノードを追加する。
func (f *Folder) PrependChild(n Node) {
	f.InsertChild(0, n)
}

// InsertChild は指定位置へノードを挿入する。
// ノードが別の親に接続されている場合は先に切り離される。
// フォルダがFeedListに属している場合、挿入されたサブツリー全体が
// リストへ登録され、NodeAddedが通知される。
func (f *Folder) InsertChild(i int, n Node) {
	if n == nil {
		return
	}
	if p := n.Parent(); p != nil {
		p.RemoveChild(n)
	}

	if i < 0 {
		i = 0
	}
	if i > len(f.children) {
		i = len(f.children)
	}

	f.children = append(f.children, nil)
	copy(f.children[i+1:], f.children[i:])
	f.children[i] = n
	n.setParent(f)

	if f.list != nil {
		f.list.connectSubtree(n)
	}
	f.invalidateUnread()
}

// RemoveChild は子ノードを切り離す。
// 切り離されたサブツリー全体がFeedListの索引から除去され、
// AboutToRemoveNode/NodeRemovedが通知される。
// 子でないノードを渡した場合は何もしない。
func (f *Folder) RemoveChild(n Node) {
	idx := -1
	for i, c := range f.children {
		if c == n {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	if f.list != nil {
		f.list.notifyAboutToRemoveNode(n)
		f.list.disconnectSubtree(n)
	}

	f.children = append(f.children[:idx], f.children[idx+1:]...)
	n.setParent(nil)
	f.invalidateUnread()

	if f.list != nil {
		f.list.notifyNodeRemoved(n)
	}
}

// UnreadCount は子孫フィードの未読数合計を返す。
// 同一フィードIDは1回だけ数える。
func (f *Folder) UnreadCount() int {
	if f.unreadCache >= 0 {
		return f.unreadCache
	}

	seen := make(map[uint32]bool)
	total := 0
	var walk func(n Node)
	walk = func(n Node) {
		switch t := n.(type) {
		case *Feed:
			if !seen[t.ID()] {
				seen[t.ID()] = true
				total += t.UnreadCount()
			}
		case *Folder:
			for _, c := range t.children {
				walk(c)
			}
		}
	}
	for _, c := range f.children {
		walk(c)
	}

	f.unreadCache = total
	return total
}

// TotalCount は子孫フィードの記事数合計（削除済みを除く）を返す。
// 未読数より参照頻度が低いためキャッシュしない。
func (f *Folder) TotalCount() int {
	total := 0
	for _, c := range f.children {
		total += c.TotalCount()
	}
	return total
}

// SubtreeContains は指定ノードがこのフォルダのサブツリー内
// （自分自身を含む）に存在するかを返す。フォルダ移動時の循環ガードに使用する。
func (f *Folder) SubtreeContains(n Node) bool {
	for cur := n; cur != nil; {
		if cur == Node(f) {
			return true
		}
		p := cur.Parent()
		if p == nil {
			return false
		}
		cur = p
	}
	return false
}

// Feeds はこのフォルダ配下の全フィードを表示順で返す。
func (f *Folder) Feeds() []*Feed {
	var feeds []*Feed
	var walk func(n Node)
	walk = func(n Node) {
		switch t := n.(type) {
		case *Feed:
			feeds = append(feeds, t)
		case *Folder:
			for _, c := range t.children {
				walk(c)
			}
		}
	}
	for _, c := range f.children {
		walk(c)
	}
	return feeds
}

// invalidateUnread はこのフォルダから祖先方向へ未読キャッシュを無効化する。
func (f *Folder) invalidateUnread() {
	for cur := f; cur != nil; cur = cur.parent {
		cur.unreadCache = -1
	}
}

// compile-time interface check
var _ Node = (*Folder)(nil)

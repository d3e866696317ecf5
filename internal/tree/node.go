package tree

// Node はツリーノード（FeedまたはFolder）の共通インターフェース。
// 実装はFeedとFolderの2つに閉じており、Visitorによる網羅的な分岐が
// 全処理（OPML出力、キュー投入、集計）で成立する。
type Node interface {
	// ID はFeedList内で一意なノードIDを返す。0と1は予約されている
	// （1はルートフォルダ）。
	ID() uint32
	// SetID はノードIDを設定する。FeedListへの登録時に使用される。
	SetID(id uint32)

	Title() string
	SetTitle(title string)

	// Parent は親フォルダを返す。ルートおよび未接続ノードはnil。
	Parent() *Folder

	// UnreadCount はこのノード配下の未読記事数を返す。
	UnreadCount() int
	// TotalCount はこのノード配下の削除済みを除く記事数を返す。
	TotalCount() int

	// Accept はVisitorへの二重ディスパッチを行う。
	Accept(v Visitor)

	setParent(p *Folder)
	feedList() *FeedList
	setFeedList(l *FeedList)
}

// Visitor は{Feed, Folder}の閉じた2実装に対するディスパッチ先。
type Visitor interface {
	VisitFeed(f *Feed)
	VisitFolder(f *Folder)
}

// nodeBase はFeed/Folderが共有する識別情報。
type nodeBase struct {
	id     uint32
	title  string
	parent *Folder
	list   *FeedList
}

func (n *nodeBase) ID() uint32           { return n.id }
func (n *nodeBase) SetID(id uint32)      { n.id = id }
func (n *nodeBase) Title() string        { return n.title }
func (n *nodeBase) Parent() *Folder      { return n.parent }
func (n *nodeBase) setParent(p *Folder)  { n.parent = p }
func (n *nodeBase) feedList() *FeedList  { return n.list }
func (n *nodeBase) setFeedList(l *FeedList) { n.list = l }

package tree

import (
	"log/slog"

	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/opml"
	"github.com/hitoshi/feedkeeper/internal/storage"
)

// NewFeedListFromOPML はOPML文書からツリーを構築する。
// xmlUrl属性（表記ゆれを含む）を持つoutlineはフィード、それ以外は
// フォルダとして再帰的に取り込まれる。OPMLがidを供給しなかったノードは
// 取り込み後にAddビジターが新規IDを採番する。
func NewFeedListFromOPML(doc *opml.Document, store storage.Storage, settings *Settings, logger *slog.Logger) *FeedList {
	l := NewFeedList(store, settings, logger)
	for i := range doc.Body.Outlines {
		l.root.AppendChild(nodeFromOutline(&doc.Body.Outlines[i]))
	}
	return l
}

// nodeFromOutline は1つのoutline要素をノードへ変換する。
func nodeFromOutline(o *opml.Outline) Node {
	if o.IsFeed() {
		return feedFromOutline(o)
	}

	folder := NewFolder(o.DisplayTitle())
	folder.SetID(o.ID)
	if o.IsOpen != "" {
		folder.SetOpen(opml.ParseBool(o.IsOpen))
	}
	for i := range o.Outlines {
		child := nodeFromOutline(&o.Outlines[i])
		child.setParent(folder)
		folder.children = append(folder.children, child)
	}
	return folder
}

// feedFromOutline はフィードoutlineの全設定属性を復元する。
func feedFromOutline(o *opml.Outline) *Feed {
	f := NewFeed(o.FeedURL())
	f.title = o.DisplayTitle()
	f.SetID(o.ID)

	f.HTMLURL = o.HTMLURL
	f.Description = o.Description
	f.Comment = o.Comment
	f.Copyright = o.Copyright

	f.UseCustomFetchInterval = opml.ParseBool(o.UseCustomFetchInterval)
	f.FetchInterval = o.FetchInterval

	f.ArchiveMode = model.ParseArchiveMode(o.ArchiveMode)
	f.MaxArticleAge = o.MaxArticleAge
	f.MaxArticleNumber = o.MaxArticleNumber

	f.MarkImmediatelyAsRead = opml.ParseBool(o.MarkImmediatelyAsRead)
	f.UseNotification = opml.ParseBool(o.UseNotification)
	f.LoadLinkedWebsite = opml.ParseBool(o.LoadLinkedWebsite)

	f.FaviconURL = o.FaviconURL
	f.FaviconWidth = o.FaviconWidth
	f.FaviconHeight = o.FaviconHeight
	f.LogoURL = o.LogoURL
	f.LogoWidth = o.LogoWidth
	f.LogoHeight = o.LogoHeight

	return f
}

// ToOPML はツリー全体をOPML文書へシリアライズする。
// 合成ルート自体は出力されず、その子ノード群がbody直下に並ぶ。
// フィードは全設定を書き出し、ラウンドトリップで挙動が保存される。
func (l *FeedList) ToOPML() *opml.Document {
	outlines := make([]opml.Outline, 0, len(l.root.Children()))
	for _, c := range l.root.Children() {
		outlines = append(outlines, outlineFromNode(c))
	}
	return opml.NewDocument(l.root.Title(), outlines)
}

// outlineFromNode は1ノードをoutline要素へ変換する。
func outlineFromNode(n Node) opml.Outline {
	var out opml.Outline
	n.Accept(&opmlExportVisitor{out: &out})
	return out
}

// opmlExportVisitor は{Feed, Folder}をoutline要素へ書き出す。
type opmlExportVisitor struct {
	out *opml.Outline
}

func (v *opmlExportVisitor) VisitFeed(f *Feed) {
	o := v.out
	o.Text = f.Title()
	o.Title = f.Title()
	o.Type = "rss"
	o.Version = "RSS"
	o.XMLURL = f.XMLURL()
	o.HTMLURL = f.HTMLURL
	o.Description = f.Description
	o.ID = f.ID()

	o.UseCustomFetchInterval = opml.FormatBool(f.UseCustomFetchInterval)
	o.FetchInterval = f.FetchInterval

	o.ArchiveMode = string(f.ArchiveMode)
	if f.ArchiveMode == "" {
		o.ArchiveMode = string(model.ArchiveGlobalDefault)
	}
	o.MaxArticleAge = f.MaxArticleAge
	o.MaxArticleNumber = f.MaxArticleNumber

	o.Comment = f.Comment
	o.Copyright = f.Copyright

	// フラグ属性は設定されている場合のみ出力する
	if f.MarkImmediatelyAsRead {
		o.MarkImmediatelyAsRead = "true"
	}
	if f.UseNotification {
		o.UseNotification = "true"
	}
	if f.LoadLinkedWebsite {
		o.LoadLinkedWebsite = "true"
	}

	o.FaviconURL = f.FaviconURL
	o.FaviconWidth = f.FaviconWidth
	o.FaviconHeight = f.FaviconHeight
	o.LogoURL = f.LogoURL
	o.LogoWidth = f.LogoWidth
	o.LogoHeight = f.LogoHeight
}

func (v *opmlExportVisitor) VisitFolder(f *Folder) {
	o := v.out
	o.Text = f.Title()
	o.IsOpen = opml.FormatBool(f.IsOpen())
	o.ID = f.ID()
	for _, c := range f.Children() {
		o.Outlines = append(o.Outlines, outlineFromNode(c))
	}
}

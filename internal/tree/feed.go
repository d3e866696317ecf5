package tree

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/feedkeeper/internal/fetch"
	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/storage"
)

// maxDiscoveryRetries は自動ディスカバリによる再フェッチ回数の上限。
// 無限ループを防ぐため、InvalidXMLのたびに代替URLへ切り替える再試行は
// この回数で打ち切られる。
const maxDiscoveryRetries = 3

// Feed は1つの購読ソースを表す葉ノード。
// フェッチ設定・アーカイブポリシー・フェッチ状態機械と、ストレージから
// 遅延ロードされるGUID→記事のインメモリ索引を保持する。
// 記事の真のデータはストレージ側にあり、索引はそのキャッシュである。
type Feed struct {
	nodeBase

	xmlURL string

	HTMLURL     string
	Description string
	Copyright   string
	Comment     string

	UseCustomFetchInterval bool
	FetchInterval          int

	ArchiveMode      model.ArchiveMode
	MaxArticleAge    int
	MaxArticleNumber int

	MarkImmediatelyAsRead bool
	UseNotification       bool
	LoadLinkedWebsite     bool

	FaviconURL    string
	FaviconWidth  int
	FaviconHeight int
	LogoURL       string
	LogoWidth     int
	LogoHeight    int

	// 実行時フェッチ状態
	fetchErrorCode  model.FetchErrorCode
	fetching        bool
	fetchTries      int
	followDiscovery bool

	arch           storage.FeedArchive
	articles       map[string]*model.Article
	articlesLoaded bool

	unread      int
	unreadValid bool

	// 通知抑制: 偽の間、記事変更通知はキューに溜まり、真へ戻した時点で
	// 1回ずつまとめてフラッシュされる。
	notify       bool
	addedQueue   []model.ArticleID
	updatedQueue []model.ArticleID
	removedQueue []model.ArticleID
}

// NewFeed はフェッチURLを指定してフィードを生成する。
func NewFeed(xmlURL string) *Feed {
	return &Feed{
		xmlURL:   xmlURL,
		articles: make(map[string]*model.Article),
		notify:   true,
	}
}

// Accept はVisitorをこのフィードへディスパッチする。
func (f *Feed) Accept(v Visitor) { v.VisitFeed(f) }

// SetTitle はフィードのタイトルを変更し、構造変更を通知する。
func (f *Feed) SetTitle(title string) {
	if f.title == title {
		return
	}
	f.title = title
	if f.list != nil {
		f.list.notifyNodeChanged(f)
	}
}

// XMLURL はフェッチURLを返す。
func (f *Feed) XMLURL() string { return f.xmlURL }

// SetXMLURL はフェッチURLを変更し、FeedListのURL索引を更新する。
func (f *Feed) SetXMLURL(url string) {
	if f.xmlURL == url {
		return
	}
	if f.list != nil {
		f.list.reindexFeedURL(f, f.xmlURL, url)
	}
	f.xmlURL = url
}

// IsFetching はフェッチ実行中かどうかを返す。
func (f *Feed) IsFetching() bool { return f.fetching }

// FetchErrorCode は直近のフェッチエラー分類を返す。
func (f *Feed) FetchErrorCode() model.FetchErrorCode { return f.fetchErrorCode }

// logger はFeedList経由のロガーを返す。未接続の場合はデフォルトロガー。
func (f *Feed) logger() *slog.Logger {
	if f.list != nil {
		return f.list.logger
	}
	return slog.Default()
}

// archive はストレージのアーカイブハンドルを返す。
// FeedListに未接続の場合はnilを返し、呼び出し側は既定値で縮退する。
func (f *Feed) archive() storage.FeedArchive {
	if f.arch == nil && f.list != nil {
		f.arch = f.list.store.ArchiveFor(f.xmlURL)
	}
	return f.arch
}

// LoadArticles はストレージから記事索引をロードする。
// プロセス生存期間中、フィードインスタンスごとに最大1回だけ実行される（冪等）。
func (f *Feed) LoadArticles(ctx context.Context) {
	if f.articlesLoaded {
		return
	}
	arch := f.archive()
	if arch == nil {
		return
	}

	guids, err := arch.ListGUIDs(ctx)
	if err != nil {
		f.logger().Error("記事索引のロードに失敗しました", "feed_url", f.xmlURL, "error", err)
		return
	}
	for _, guid := range guids {
		art, err := arch.Get(ctx, guid)
		if err != nil {
			f.logger().Error("記事の読み取りに失敗しました", "feed_url", f.xmlURL, "guid", guid, "error", err)
			continue
		}
		if art != nil {
			f.articles[guid] = art
		}
	}
	f.articlesLoaded = true
	f.RecalcUnreadCount(ctx)
}

// Article は指定GUIDの記事を返す。存在しない場合はnil。
func (f *Feed) Article(guid string) *model.Article {
	return f.articles[guid]
}

// Articles は全記事（トゥームストーンを含む）を公開日時の昇順で返す。
func (f *Feed) Articles() []*model.Article {
	arts := make([]*model.Article, 0, len(f.articles))
	for _, a := range f.articles {
		arts = append(arts, a)
	}
	sort.SliceStable(arts, func(i, j int) bool { return arts[i].Before(arts[j]) })
	return arts
}

// UnreadCount はこのフィードの未読記事数を返す。
// ロード済みの場合はキャッシュを使用し、未ロードの場合はストレージの
// 保存値を参照する。
func (f *Feed) UnreadCount() int {
	if f.unreadValid {
		return f.unread
	}
	if f.articlesLoaded {
		n := 0
		for _, a := range f.articles {
			if a.Status != model.StatusRead && !a.Deleted {
				n++
			}
		}
		f.unread = n
		f.unreadValid = true
		return n
	}
	arch := f.archive()
	if arch == nil {
		return 0
	}
	n, err := arch.Unread(context.Background())
	if err != nil {
		f.logger().Error("未読数の取得に失敗しました", "feed_url", f.xmlURL, "error", err)
		return 0
	}
	f.unread = n
	f.unreadValid = true
	return n
}

// TotalCount は削除済みを除く記事数を返す。
func (f *Feed) TotalCount() int {
	if f.articlesLoaded {
		n := 0
		for _, a := range f.articles {
			if !a.Deleted {
				n++
			}
		}
		return n
	}
	arch := f.archive()
	if arch == nil {
		return 0
	}
	n, err := arch.TotalCount(context.Background())
	if err != nil {
		f.logger().Error("記事数の取得に失敗しました", "feed_url", f.xmlURL, "error", err)
		return 0
	}
	return n
}

// RecalcUnreadCount は記事索引を1回走査して未読数を再計算し、
// 値が実際に変化した場合のみストレージへ書き戻す。
func (f *Feed) RecalcUnreadCount(ctx context.Context) {
	if !f.articlesLoaded {
		return
	}
	arch := f.archive()
	if arch == nil {
		return
	}

	n := 0
	for _, a := range f.articles {
		if a.Status != model.StatusRead && !a.Deleted {
			n++
		}
	}

	stored, err := arch.Unread(ctx)
	if err != nil {
		f.logger().Error("未読数の取得に失敗しました", "feed_url", f.xmlURL, "error", err)
		stored = -1
	}
	if n != stored {
		if err := arch.SetUnread(ctx, n); err != nil {
			f.logger().Error("未読数の書き戻しに失敗しました", "feed_url", f.xmlURL, "error", err)
		}
	}

	changed := !f.unreadValid || f.unread != n
	f.unread = n
	f.unreadValid = true
	if changed {
		f.unreadChanged()
	}
}

// unreadChanged は祖先フォルダの未読キャッシュを無効化し、
// 未読数変更を通知する。
func (f *Feed) unreadChanged() {
	if f.parent != nil {
		f.parent.invalidateUnread()
	}
	if f.list != nil {
		f.list.notifyUnreadCountChanged()
	}
}

// adjustUnread は未読数キャッシュへ差分を適用する。
func (f *Feed) adjustUnread(delta int) {
	if delta == 0 {
		return
	}
	if f.unreadValid {
		f.unread += delta
		if f.unread < 0 {
			f.unread = 0
		}
	}
	arch := f.archive()
	if arch != nil && f.unreadValid {
		if err := arch.SetUnread(context.Background(), f.unread); err != nil {
			f.logger().Error("未読数の書き戻しに失敗しました", "feed_url", f.xmlURL, "error", err)
		}
	}
	f.unreadChanged()
}

// SetNotificationMode は記事変更通知の抑制を切り替える。
// falseで抑制を開始し、trueへ戻した時点で溜まった通知を種別ごとに
// 1回ずつフラッシュする。バッチ変更処理はこのブラケットで囲む。
func (f *Feed) SetNotificationMode(enabled bool) {
	if f.notify == enabled {
		return
	}
	f.notify = enabled
	if enabled {
		f.flushArticleNotifications()
	}
}

func (f *Feed) flushArticleNotifications() {
	if f.list == nil {
		f.addedQueue, f.updatedQueue, f.removedQueue = nil, nil, nil
		return
	}
	if len(f.addedQueue) > 0 {
		f.list.notifyArticlesAdded(f, f.addedQueue)
		f.addedQueue = nil
	}
	if len(f.updatedQueue) > 0 {
		f.list.notifyArticlesUpdated(f, f.updatedQueue)
		f.updatedQueue = nil
	}
	if len(f.removedQueue) > 0 {
		f.list.notifyArticlesRemoved(f, f.removedQueue)
		f.removedQueue = nil
	}
}

// SetArticleStatus は記事の既読状態を変更する。
// 未読数キャッシュを差分更新し、更新通知をキューへ積む。
func (f *Feed) SetArticleStatus(ctx context.Context, guid string, status model.ArticleStatus) {
	art, ok := f.articles[guid]
	if !ok || art.Status == status {
		return
	}

	wasUnread := art.Status != model.StatusRead && !art.Deleted
	art.Status = status
	isUnread := art.Status != model.StatusRead && !art.Deleted

	if arch := f.archive(); arch != nil {
		if err := arch.UpdateStatus(ctx, guid, status); err != nil {
			f.logger().Error("既読状態の更新に失敗しました", "feed_url", f.xmlURL, "guid", guid, "error", err)
		}
	}

	switch {
	case wasUnread && !isUnread:
		f.adjustUnread(-1)
	case !wasUnread && isUnread:
		f.adjustUnread(+1)
	}
	f.queueUpdated(art.ID())
}

// SetArticleKeep は記事の保持フラグ（期限切れ削除からの保護）を変更する。
func (f *Feed) SetArticleKeep(ctx context.Context, guid string, keep bool) {
	art, ok := f.articles[guid]
	if !ok || art.Keep == keep {
		return
	}
	art.Keep = keep
	if arch := f.archive(); arch != nil {
		if err := arch.UpdateKeep(ctx, guid, keep); err != nil {
			f.logger().Error("保持フラグの更新に失敗しました", "feed_url", f.xmlURL, "guid", guid, "error", err)
		}
	}
	f.queueUpdated(art.ID())
}

// DeleteArticle は記事をソフト削除する。
// 表示用フィールドを空白化したタムストーンが残り、配信元から記事が
// 消えた後のリコンサイルで物理削除される。
func (f *Feed) DeleteArticle(ctx context.Context, guid string) {
	art, ok := f.articles[guid]
	if !ok || art.Deleted {
		return
	}

	wasUnread := art.Status != model.StatusRead

	art.Deleted = true
	art.Status = model.StatusRead
	art.Title = ""
	art.Description = ""
	art.Content = ""
	art.Link = ""
	art.AuthorName = ""
	art.AuthorEMail = ""
	art.AuthorURI = ""
	art.EnclosureURL = ""
	art.EnclosureType = ""
	art.EnclosureLength = 0

	if arch := f.archive(); arch != nil {
		if err := arch.MarkDeleted(ctx, guid); err != nil {
			f.logger().Error("記事のソフト削除に失敗しました", "feed_url", f.xmlURL, "guid", guid, "error", err)
		}
	}

	if wasUnread {
		f.adjustUnread(-1)
	}
	f.queueRemoved(art.ID())
}

func (f *Feed) queueAdded(id model.ArticleID) {
	f.addedQueue = append(f.addedQueue, id)
	if f.notify {
		f.flushArticleNotifications()
	}
}

func (f *Feed) queueUpdated(id model.ArticleID) {
	f.updatedQueue = append(f.updatedQueue, id)
	if f.notify {
		f.flushArticleNotifications()
	}
}

func (f *Feed) queueRemoved(id model.ArticleID) {
	f.removedQueue = append(f.removedQueue, id)
	if f.notify {
		f.flushArticleNotifications()
	}
}

// StartFetch はフェッチ開始時の状態遷移を行い、取得すべきURLを返す。
// ディスカバリ再試行カウンタをリセットし、前回フェッチの残りの
// New状態記事をUnreadへ降格してからFetchStartedを通知する。
func (f *Feed) StartFetch(ctx context.Context, followDiscovery bool) string {
	f.followDiscovery = followDiscovery
	f.fetchTries = 0
	f.fetching = true

	// ユーザーが確認する前に再フェッチされたNew記事はUnreadへ降格する。
	// 二重カウントではなく「未読」へ自然に縮退させる。
	f.LoadArticles(ctx)
	for guid, art := range f.articles {
		if art.Status == model.StatusNew && !art.Deleted {
			art.Status = model.StatusUnread
			if arch := f.archive(); arch != nil {
				if err := arch.UpdateStatus(ctx, guid, model.StatusUnread); err != nil {
					f.logger().Error("New状態の降格に失敗しました", "feed_url", f.xmlURL, "guid", guid, "error", err)
				}
			}
		}
	}

	if f.list != nil {
		f.list.notifyFetchStarted(f)
	}
	return f.xmlURL
}

// CompleteFetch はフェッチ結果を適用する。
// ディスカバリ再試行が必要な場合は再取得すべきURLを返し、呼び出し側は
// 同一フィードの取得をやり直す。空文字列はフェッチ完了を意味する。
func (f *Feed) CompleteFetch(ctx context.Context, res *fetch.Result) (retryURL string) {
	// 中断はエラーとは区別され、エラーコードを記録しない
	if res.ErrorCode == model.FetchErrorAborted {
		f.fetchErrorCode = model.FetchErrorNone
		f.fetching = false
		if f.list != nil {
			f.list.notifyFetchAborted(f)
		}
		return ""
	}

	if res.ErrorCode != model.FetchErrorNone {
		if res.ErrorCode == model.FetchErrorInvalidXML &&
			f.followDiscovery &&
			f.fetchTries < maxDiscoveryRetries &&
			res.DiscoveredURL != "" {
			f.fetchTries++
			f.SetXMLURL(res.DiscoveredURL)
			f.logger().Info("自動ディスカバリによる再フェッチ",
				"feed_url", f.xmlURL, "try", f.fetchTries)
			return f.xmlURL
		}

		f.fetchErrorCode = res.ErrorCode
		f.fetching = false
		f.logger().Warn("フェッチに失敗しました",
			"feed_url", f.xmlURL, "error_code", res.ErrorCode.String())
		if f.list != nil {
			f.list.notifyFetchError(f)
		}
		return ""
	}

	doc := res.Document
	f.fetchErrorCode = model.FetchErrorNone

	f.LoadArticles(ctx)

	// タイトルはユーザー設定値を上書きしない: 空の場合のみ文書から補完
	if f.title == "" && doc.Title != "" {
		f.SetTitle(doc.Title)
	}
	if doc.Link != "" {
		f.HTMLURL = doc.Link
	}
	if doc.Description != "" {
		f.Description = doc.Description
	}
	if doc.Copyright != "" {
		f.Copyright = doc.Copyright
	}
	if doc.FaviconURL != "" {
		f.FaviconURL = doc.FaviconURL
	}
	if doc.LogoURL != "" {
		f.LogoURL = doc.LogoURL
	}

	f.appendArticles(ctx, doc)

	if arch := f.archive(); arch != nil {
		if err := arch.SetLastFetch(ctx, time.Now()); err != nil {
			f.logger().Error("最終フェッチ時刻の記録に失敗しました", "feed_url", f.xmlURL, "error", err)
		}
	}

	f.fetching = false
	if f.list != nil {
		f.list.notifyFetched(f)
	}
	return ""
}

// appendArticles は取得済み文書を記事索引＋ストレージとリコンサイルする。
//
//  1. 索引にないGUIDは新規記事として作成する。バッチ内の新規記事ごとに
//     公開日時へ単調減少のオフセット（秒）を与え、同一タイムスタンプの
//     表示順序を到着順で安定させる。
//  2. 既存GUIDでGUIDがハッシュでない場合、コンテンツハッシュの差異を
//     更新として扱う。保持フラグと既読状態は維持される。
//  3. 削除済みタムストーンのうち配信元から消えたGUIDは物理削除する。
//
// 通知は種別ごとにパス全体で最大1回だけ発行される。
func (f *Feed) appendArticles(ctx context.Context, doc *fetch.Document) {
	arch := f.archive()
	f.SetNotificationMode(false)

	nudge := 0

	// 配信元に現存する削除済みGUIDを記録し、残りを後段で物理削除する
	vanishedTombstones := make(map[string]bool)
	for guid, art := range f.articles {
		if art.Deleted {
			vanishedTombstones[guid] = true
		}
	}

	for i := range doc.Articles {
		item := &doc.Articles[i]
		if item.GUID == "" {
			continue
		}

		old, exists := f.articles[item.GUID]
		switch {
		case !exists:
			art := f.articleFromParsed(item)
			art.PubDate = art.PubDate.Add(time.Duration(nudge) * time.Second)
			nudge--

			if f.MarkImmediatelyAsRead || art.Deleted {
				art.Status = model.StatusRead
			} else {
				art.Status = model.StatusNew
			}

			f.articles[item.GUID] = art
			if arch != nil {
				if err := arch.Create(ctx, art); err != nil {
					f.logger().Error("新規記事の保存に失敗しました", "feed_url", f.xmlURL, "guid", item.GUID, "error", err)
				}
			}
			if art.Status != model.StatusRead {
				f.adjustUnread(+1)
			}
			f.queueAdded(art.ID())

		case !item.GuidIsHash && item.Hash() != old.Hash && !old.Deleted:
			// GUIDが不透明な外部IDの場合のみハッシュ比較で更新を検出する。
			// GUID自体がハッシュならGUID一致がコンテンツ一致を含意する。
			updated := f.articleFromParsed(item)
			updated.Keep = old.Keep
			updated.Status = old.Status
			updated.PubDate = old.PubDate

			f.articles[item.GUID] = updated
			if arch != nil {
				if err := arch.Update(ctx, updated); err != nil {
					f.logger().Error("記事の更新に失敗しました", "feed_url", f.xmlURL, "guid", item.GUID, "error", err)
				}
			}
			f.queueUpdated(updated.ID())

		case old.Deleted:
			// 配信元にまだ存在するタムストーンは物理削除の対象外
			delete(vanishedTombstones, item.GUID)
		}
	}

	for guid := range vanishedTombstones {
		art := f.articles[guid]
		delete(f.articles, guid)
		if arch != nil {
			if err := arch.Delete(ctx, guid); err != nil {
				f.logger().Error("タムストーンの物理削除に失敗しました", "feed_url", f.xmlURL, "guid", guid, "error", err)
			}
		}
		f.queueRemoved(art.ID())
	}

	f.SetNotificationMode(true)
}

// articleFromParsed は取得済み記事からスナップショットを構築する。
func (f *Feed) articleFromParsed(p *fetch.ParsedArticle) *model.Article {
	pubDate := p.PubDate
	if pubDate.IsZero() {
		pubDate = time.Now()
	}
	return &model.Article{
		FeedURL:         f.xmlURL,
		GUID:            p.GUID,
		Title:           p.Title,
		Link:            p.Link,
		Description:     p.Description,
		Content:         p.Content,
		AuthorName:      p.AuthorName,
		AuthorEMail:     p.AuthorEMail,
		AuthorURI:       p.AuthorURI,
		EnclosureURL:    p.EnclosureURL,
		EnclosureType:   p.EnclosureType,
		EnclosureLength: p.EnclosureLength,
		PubDate:         pubDate,
		Status:          model.StatusUnread,
		Hash:            p.Hash(),
		GuidIsHash:      p.GuidIsHash,
		GuidIsPermaLink: p.GuidIsPermaLink,
	}
}

// effectiveArchiveMode はglobalDefaultを解決した実効アーカイブモードを返す。
func (f *Feed) effectiveArchiveMode() model.ArchiveMode {
	mode := f.ArchiveMode
	if mode == model.ArchiveGlobalDefault || mode == "" {
		if f.list != nil {
			mode = f.list.settings.DefaultArchiveMode
		}
		if mode == model.ArchiveGlobalDefault || mode == "" {
			mode = model.ArchiveKeepAll
		}
	}
	return mode
}

// effectiveMaxArticleAge は実効の経過日数上限を返す。
func (f *Feed) effectiveMaxArticleAge() int {
	if f.ArchiveMode == model.ArchiveGlobalDefault || f.ArchiveMode == "" {
		if f.list != nil {
			return f.list.settings.DefaultMaxArticleAge
		}
	}
	return f.MaxArticleAge
}

// effectiveMaxArticleNumber は実効の記事数上限を返す。
func (f *Feed) effectiveMaxArticleNumber() int {
	if f.ArchiveMode == model.ArchiveGlobalDefault || f.ArchiveMode == "" {
		if f.list != nil {
			return f.list.settings.DefaultMaxArticleNumber
		}
	}
	return f.MaxArticleNumber
}

// UsesExpiryByAge は実効アーカイブモードが経過日数ベースかどうかを返す。
func (f *Feed) UsesExpiryByAge() bool {
	return f.effectiveArchiveMode() == model.ArchiveLimitAge
}

// IsExpired は記事が経過日数上限を超えているかを返す。
// 保持フラグ付きの記事は「重要記事を期限切れにしない」設定が有効な限り
// 期限切れとはみなされない。
func (f *Feed) IsExpired(a *model.Article, now time.Time) bool {
	if a.Keep && f.protectKept() {
		return false
	}
	maxAge := f.effectiveMaxArticleAge()
	if maxAge <= 0 {
		return false
	}
	return now.Sub(a.PubDate) > time.Duration(maxAge)*24*time.Hour
}

func (f *Feed) protectKept() bool {
	if f.list != nil {
		return f.list.settings.DoNotExpireImportant
	}
	return true
}

// EnforceLimitArticleNumber は記事数上限を超過した分をソフト削除する。
// 公開日時の昇順で古い記事から順に、保持フラグなし・未削除の記事が対象。
// バッチ全体を通知抑制ブラケットで囲む。
func (f *Feed) EnforceLimitArticleNumber(ctx context.Context) {
	limit := f.effectiveMaxArticleNumber()
	if limit <= 0 {
		return
	}

	active := 0
	for _, a := range f.articles {
		if !a.Deleted {
			active++
		}
	}
	excess := active - limit
	if excess <= 0 {
		return
	}

	f.SetNotificationMode(false)
	defer f.SetNotificationMode(true)

	for _, a := range f.Articles() {
		if excess <= 0 {
			break
		}
		if a.Deleted || (a.Keep && f.protectKept()) {
			continue
		}
		f.DeleteArticle(ctx, a.GUID)
		excess--
	}
}

// CollectExpired は実効アーカイブモードに従い、期限切れ削除の対象となる
// 記事IDを返す。削除自体はここでは行わず、呼び出し側が削除ジョブへ
// まとめて投入する。
func (f *Feed) CollectExpired(ctx context.Context, now time.Time) []model.ArticleID {
	f.LoadArticles(ctx)

	var ids []model.ArticleID
	switch f.effectiveArchiveMode() {
	case model.ArchiveLimitAge:
		for _, a := range f.Articles() {
			if !a.Deleted && f.IsExpired(a, now) {
				ids = append(ids, a.ID())
			}
		}
	case model.ArchiveLimitNumber:
		limit := f.effectiveMaxArticleNumber()
		if limit <= 0 {
			return nil
		}
		active := 0
		for _, a := range f.articles {
			if !a.Deleted {
				active++
			}
		}
		excess := active - limit
		for _, a := range f.Articles() {
			if excess <= 0 {
				break
			}
			if a.Deleted || (a.Keep && f.protectKept()) {
				continue
			}
			ids = append(ids, a.ID())
			excess--
		}
	}
	return ids
}

var _ Node = (*Feed)(nil)
var _ fetch.Target = (*Feed)(nil)

package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/hitoshi/feedkeeper/internal/model"
)

// URLValidator はフィードURLのSSRF検証のインターフェース。
// security.URLGuardを抽象化してテスタビリティを向上させる。
type URLValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Sanitizer はHTML断片のサニタイズのインターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// デフォルトのフェッチパラメータ。
const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 10 * 1024 * 1024
)

// HTTPLoader はフィードURLのHTTPフェッチとパースを行うLoaderの実装。
// SSRF検証、ホスト単位のレート制御、gofeedによるパース、
// 取り込み時のHTMLサニタイズを実行する。
// パースに失敗したHTML文書からはheadタグのalternateリンクで
// フィードURLのディスカバリを試みる。
type HTTPLoader struct {
	guard     URLValidator
	sanitizer Sanitizer
	logger    *slog.Logger

	timeout     time.Duration
	maxBodySize int64
	limiter     *hostLimiter
}

var _ Loader = (*HTTPLoader)(nil)

// NewHTTPLoader はHTTPLoaderの新しいインスタンスを生成する。
func NewHTTPLoader(guard URLValidator, sanitizer Sanitizer, logger *slog.Logger) *HTTPLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPLoader{
		guard:       guard,
		sanitizer:   sanitizer,
		logger:      logger,
		timeout:     defaultTimeout,
		maxBodySize: defaultMaxBodySize,
		// ホストごとに毎秒1リクエスト、バースト3まで
		limiter: newHostLimiter(rate.Every(time.Second), 3),
	}
}

// SetTimeout は1回のフェッチのHTTPタイムアウトを変更する。
func (l *HTTPLoader) SetTimeout(d time.Duration) {
	if d > 0 {
		l.timeout = d
	}
}

// SetMaxBodySize はレスポンスボディの読み取り上限（バイト）を変更する。
func (l *HTTPLoader) SetMaxBodySize(n int64) {
	if n > 0 {
		l.maxBodySize = n
	}
}

// Load はフィードURLを取得・解析してResultを返す。
// 失敗はエラーではなくResult.ErrorCodeの分類として返す。
func (l *HTTPLoader) Load(ctx context.Context, feedURL string) *Result {
	start := time.Now()

	if err := l.guard.ValidateURL(feedURL); err != nil {
		l.logger.Warn("フィードURLの検証に失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return &Result{ErrorCode: model.FetchErrorUnknownHost}
	}

	if err := l.limiter.Wait(ctx, extractHost(feedURL)); err != nil {
		return &Result{ErrorCode: model.FetchErrorAborted}
	}

	client := l.guard.NewSafeClient(l.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return &Result{ErrorCode: model.FetchErrorUnknownHost}
	}
	req.Header.Set("User-Agent", "Feedkeeper/1.0 RSS Reader")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html, */*")

	resp, err := client.Do(req)
	if err != nil {
		code := classifyTransportError(err)
		l.logger.Error("HTTPリクエストに失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
			slog.String("error_code", code.String()),
		)
		return &Result{ErrorCode: code}
	}
	defer resp.Body.Close()

	if code := classifyStatus(resp.StatusCode); code != model.FetchErrorNone {
		l.logger.Warn("フィードを取得できませんでした",
			slog.String("feed_url", feedURL),
			slog.Int("http_status", resp.StatusCode),
			slog.String("error_code", code.String()),
		)
		return &Result{ErrorCode: code}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBodySize))
	if err != nil {
		l.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return &Result{ErrorCode: model.FetchErrorTimeout}
	}

	parser := gofeed.NewParser()
	parsed, err := parser.ParseString(string(body))
	if err != nil {
		return l.handleParseFailure(feedURL, resp.Header.Get("Content-Type"), body, err)
	}

	doc := l.convertDocument(parsed)
	l.logger.Info("フィードを取得しました",
		slog.String("feed_url", feedURL),
		slog.Int("articles", len(doc.Articles)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return &Result{Document: doc}
}

// handleParseFailure はパース失敗時の分類とHTMLディスカバリを行う。
// HTML文書であればheadのalternateリンクから代替フィードURLを探し、
// 見つかればDiscoveredURLに設定する。エラーコードはInvalidXMLのまま。
// XMLとして読めるがフィード形式でない文書はXMLNotAcceptedに分類する。
func (l *HTTPLoader) handleParseFailure(feedURL, contentType string, body []byte, parseErr error) *Result {
	res := &Result{ErrorCode: model.FetchErrorInvalidXML}

	if looksLikeHTML(contentType, body) {
		candidates := parseFeedLinksFromHTML(body, feedURL)
		if best := selectBestFeed(candidates, feedURL); best != nil {
			res.DiscoveredURL = best.url
			l.logger.Info("HTMLから代替フィードURLを検出しました",
				slog.String("feed_url", feedURL),
				slog.String("discovered_url", best.url),
			)
		}
	} else if errors.Is(parseErr, gofeed.ErrFeedTypeNotDetected) {
		res.ErrorCode = model.FetchErrorXMLNotAccepted
	}

	l.logger.Error("フィードのパースに失敗しました",
		slog.String("feed_url", feedURL),
		slog.String("error", parseErr.Error()),
		slog.String("error_code", res.ErrorCode.String()),
	)
	return res
}

// convertDocument はgofeedのフィードをDocumentに変換する。
func (l *HTTPLoader) convertDocument(parsed *gofeed.Feed) *Document {
	doc := &Document{
		Title:       parsed.Title,
		Link:        parsed.Link,
		Description: l.sanitize(parsed.Description),
		Copyright:   parsed.Copyright,
	}
	if parsed.Image != nil {
		doc.LogoURL = parsed.Image.URL
	}
	if doc.Link != "" {
		doc.FaviconURL = faviconURL(doc.Link)
	}
	doc.Articles = l.convertItems(parsed.Items)
	return doc
}

// convertItems はgofeedの記事をParsedArticleに変換する。
func (l *HTTPLoader) convertItems(items []*gofeed.Item) []ParsedArticle {
	articles := make([]ParsedArticle, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		a := ParsedArticle{
			Title:       item.Title,
			Link:        item.Link,
			Description: l.sanitize(item.Description),
			Content:     l.sanitize(item.Content),
		}

		if item.GUID != "" {
			a.GUID = item.GUID
			a.GuidIsPermaLink = strings.HasPrefix(item.GUID, "http://") ||
				strings.HasPrefix(item.GUID, "https://")
		}

		if item.Author != nil {
			a.AuthorName = item.Author.Name
			a.AuthorEMail = item.Author.Email
		}
		if a.AuthorName == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			a.AuthorName = item.Authors[0].Name
			a.AuthorEMail = item.Authors[0].Email
		}

		if item.PublishedParsed != nil {
			a.PubDate = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			a.PubDate = *item.UpdatedParsed
		}

		// Contentが空の場合はDescriptionを使用
		if a.Content == "" && a.Description != "" {
			a.Content = a.Description
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if a.Link == "" && a.GuidIsPermaLink {
			a.Link = a.GUID
		}

		if len(item.Enclosures) > 0 && item.Enclosures[0] != nil {
			enc := item.Enclosures[0]
			a.EnclosureURL = enc.URL
			a.EnclosureType = enc.Type
			if n, err := strconv.Atoi(enc.Length); err == nil {
				a.EnclosureLength = n
			}
		}

		// GUIDを供給しないフィードはコンテンツハッシュを識別子として合成する
		if a.GUID == "" {
			a.GUID = model.ComputeArticleHash(a.Title, a.Description, a.Content, a.Link)
			a.GuidIsHash = true
		}

		articles = append(articles, a)
	}

	return articles
}

func (l *HTTPLoader) sanitize(rawHTML string) string {
	if l.sanitizer == nil {
		return rawHTML
	}
	return l.sanitizer.Sanitize(rawHTML)
}

// classifyTransportError はHTTPクライアントのエラーを分類する。
func classifyTransportError(err error) model.FetchErrorCode {
	if errors.Is(err, context.Canceled) {
		return model.FetchErrorAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FetchErrorTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.FetchErrorUnknownHost
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.FetchErrorTimeout
	}
	return model.FetchErrorUnknownHost
}

// classifyStatus はHTTPステータスコードをエラーコードに分類する。
// 成功（2xx）はFetchErrorNoneを返す。404/410はファイル不在、
// 408はタイムアウト、その他の失敗ステータスもファイル不在として扱う。
func classifyStatus(status int) model.FetchErrorCode {
	switch {
	case status >= 200 && status < 300:
		return model.FetchErrorNone
	case status == http.StatusNotFound || status == http.StatusGone:
		return model.FetchErrorFileNotFound
	case status == http.StatusRequestTimeout:
		return model.FetchErrorTimeout
	default:
		return model.FetchErrorFileNotFound
	}
}

// faviconURL はサイトURLからファビコンの既定URLを導出する。
func faviconURL(siteURL string) string {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/favicon.ico"
}

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/feedkeeper/internal/model"
)

// Memory はマップ構造によるインメモリのアーカイブ実装。
// テストおよびバックエンド未設定時のフォールバックとして使用する。
// 全操作はミューテックスで保護される。
type Memory struct {
	mu       sync.Mutex
	archives map[string]*memoryArchive
	feedList string
}

// NewMemory は空のインメモリストレージを生成する。
func NewMemory() *Memory {
	return &Memory{
		archives: make(map[string]*memoryArchive),
	}
}

// ArchiveFor は指定フィードURLのアーカイブハンドルを返す。
func (s *Memory) ArchiveFor(url string) FeedArchive {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.archives[url]
	if !ok {
		a = &memoryArchive{
			feedURL:  url,
			articles: make(map[string]*model.Article),
		}
		s.archives[url] = a
	}
	return a
}

// Feeds はアーカイブが存在するフィードURLの一覧を返す。
func (s *Memory) Feeds(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := make([]string, 0, len(s.archives))
	for url := range s.archives {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls, nil
}

// StoreFeedList はフィードリストのOPML文書を保存する。
func (s *Memory) StoreFeedList(ctx context.Context, opml string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedList = opml
	return nil
}

// RestoreFeedList は保存済みのOPML文書を返す。
func (s *Memory) RestoreFeedList(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedList, nil
}

// Close は何もしない。
func (s *Memory) Close() error {
	return nil
}

// memoryArchive は1フィード分のインメモリアーカイブ。
type memoryArchive struct {
	mu        sync.Mutex
	feedURL   string
	lastFetch time.Time
	unread    int
	articles  map[string]*model.Article
}

func (a *memoryArchive) LastFetch(ctx context.Context) (time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastFetch, nil
}

func (a *memoryArchive) SetLastFetch(ctx context.Context, t time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastFetch = t
	return nil
}

func (a *memoryArchive) Unread(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unread, nil
}

func (a *memoryArchive) SetUnread(ctx context.Context, n int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unread = n
	return nil
}

func (a *memoryArchive) TotalCount(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, art := range a.articles {
		if !art.Deleted {
			n++
		}
	}
	return n, nil
}

func (a *memoryArchive) ListGUIDs(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	guids := make([]string, 0, len(a.articles))
	for guid := range a.articles {
		guids = append(guids, guid)
	}
	sort.Strings(guids)
	return guids, nil
}

func (a *memoryArchive) Contains(ctx context.Context, guid string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.articles[guid]
	return ok, nil
}

func (a *memoryArchive) Get(ctx context.Context, guid string) (*model.Article, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	art, ok := a.articles[guid]
	if !ok {
		return nil, nil
	}
	copied := *art
	return &copied, nil
}

func (a *memoryArchive) Create(ctx context.Context, art *model.Article) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	copied := *art
	copied.FeedURL = a.feedURL
	a.articles[art.GUID] = &copied
	return nil
}

func (a *memoryArchive) Update(ctx context.Context, art *model.Article) error {
	return a.Create(ctx, art)
}

func (a *memoryArchive) UpdateStatus(ctx context.Context, guid string, status model.ArticleStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if art, ok := a.articles[guid]; ok {
		art.Status = status
	}
	return nil
}

func (a *memoryArchive) UpdateKeep(ctx context.Context, guid string, keep bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if art, ok := a.articles[guid]; ok {
		art.Keep = keep
	}
	return nil
}

func (a *memoryArchive) MarkDeleted(ctx context.Context, guid string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	art, ok := a.articles[guid]
	if !ok {
		return nil
	}

	// タムストーン化: 表示用フィールドを空白化し、行自体は残す
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
	return nil
}

func (a *memoryArchive) Delete(ctx context.Context, guid string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.articles, guid)
	return nil
}

// compile-time interface check
var _ Storage = (*Memory)(nil)
var _ FeedArchive = (*memoryArchive)(nil)

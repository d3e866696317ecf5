// Package postgres はPostgreSQLによるアーカイブストレージ実装を提供する。
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/hitoshi/feedkeeper/internal/storage"
)

// Store はPostgreSQLを使用したアーカイブストレージ。
// storage.Storageを実装する。
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	archives map[string]*feedArchive
}

// NewStore はStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:       db,
		archives: make(map[string]*feedArchive),
	}
}

// ArchiveFor は指定フィードURLのアーカイブハンドルを返す。
// 同一URLに対しては同一ハンドルを返す。フィード行は初回アクセス時に
// 遅延作成される。
func (s *Store) ArchiveFor(url string) storage.FeedArchive {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.archives[url]
	if !ok {
		a = &feedArchive{db: s.db, feedURL: url}
		s.archives[url] = a
	}
	return a
}

// Feeds はアーカイブが存在するフィードURLの一覧を返す。
func (s *Store) Feeds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM feeds ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("フィード行の読み取りに失敗しました: %w", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}
	return urls, nil
}

// StoreFeedList はフィードリストのOPML文書を保存する。
// 単一行のUPSERTとして実装される。
func (s *Store) StoreFeedList(ctx context.Context, opml string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedlist (id, opml, updated_at) VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET opml = EXCLUDED.opml, updated_at = now()`,
		opml,
	)
	if err != nil {
		return fmt.Errorf("フィードリストの保存に失敗しました: %w", err)
	}
	return nil
}

// RestoreFeedList は保存済みのOPML文書を返す。未保存の場合は空文字列を返す。
func (s *Store) RestoreFeedList(ctx context.Context) (string, error) {
	var opml string
	err := s.db.QueryRowContext(ctx, `SELECT opml FROM feedlist WHERE id = 1`).Scan(&opml)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("フィードリストの復元に失敗しました: %w", err)
	}
	return opml, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// compile-time interface check
var _ storage.Storage = (*Store)(nil)

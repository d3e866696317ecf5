package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/storage"
)

// feedArchive は1フィード分のアーカイブのPostgreSQL実装。
// 記事は (feed_url, guid) の複合一意キーで識別される。
type feedArchive struct {
	db      *sql.DB
	feedURL string
}

// ensureFeed はフィード行の存在を保証する。冪等。
func (a *feedArchive) ensureFeed(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO feeds (url) VALUES ($1) ON CONFLICT (url) DO NOTHING`,
		a.feedURL,
	)
	if err != nil {
		return fmt.Errorf("フィード行の作成に失敗しました: %w", err)
	}
	return nil
}

func (a *feedArchive) LastFetch(ctx context.Context) (time.Time, error) {
	var t sql.NullTime
	err := a.db.QueryRowContext(ctx,
		`SELECT last_fetch FROM feeds WHERE url = $1`, a.feedURL,
	).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("最終フェッチ時刻の取得に失敗しました: %w", err)
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

func (a *feedArchive) SetLastFetch(ctx context.Context, t time.Time) error {
	if err := a.ensureFeed(ctx); err != nil {
		return err
	}
	_, err := a.db.ExecContext(ctx,
		`UPDATE feeds SET last_fetch = $1, updated_at = now() WHERE url = $2`,
		t, a.feedURL,
	)
	if err != nil {
		return fmt.Errorf("最終フェッチ時刻の更新に失敗しました: %w", err)
	}
	return nil
}

func (a *feedArchive) Unread(ctx context.Context) (int, error) {
	var n sql.NullInt64
	err := a.db.QueryRowContext(ctx,
		`SELECT unread FROM feeds WHERE url = $1`, a.feedURL,
	).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("未読数の取得に失敗しました: %w", err)
	}
	return int(n.Int64), nil
}

func (a *feedArchive) SetUnread(ctx context.Context, n int) error {
	if err := a.ensureFeed(ctx); err != nil {
		return err
	}
	_, err := a.db.ExecContext(ctx,
		`UPDATE feeds SET unread = $1, updated_at = now() WHERE url = $2`,
		n, a.feedURL,
	)
	if err != nil {
		return fmt.Errorf("未読数の更新に失敗しました: %w", err)
	}
	return nil
}

func (a *feedArchive) TotalCount(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE feed_url = $1 AND deleted = false`,
		a.feedURL,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("記事数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func (a *feedArchive) ListGUIDs(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT guid FROM articles WHERE feed_url = $1 ORDER BY guid`,
		a.feedURL,
	)
	if err != nil {
		return nil, fmt.Errorf("GUID一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var guids []string
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return nil, fmt.Errorf("GUID行の読み取りに失敗しました: %w", err)
		}
		guids = append(guids, guid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GUID一覧の走査に失敗しました: %w", err)
	}
	return guids, nil
}

func (a *feedArchive) Contains(ctx context.Context, guid string) (bool, error) {
	var exists bool
	err := a.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM articles WHERE feed_url = $1 AND guid = $2)`,
		a.feedURL, guid,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("記事の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

const articleColumns = `guid, title, link, description, content,
	author_name, author_email, author_uri,
	enclosure_url, enclosure_type, enclosure_length,
	pub_date, status, keep, deleted, hash, guid_is_hash, guid_is_permalink`

func (a *feedArchive) Get(ctx context.Context, guid string) (*model.Article, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE feed_url = $1 AND guid = $2`,
		a.feedURL, guid,
	)

	art, err := a.scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return art, nil
}

// scanArticle は1行を記事スナップショットへ読み取る。
func (a *feedArchive) scanArticle(row *sql.Row) (*model.Article, error) {
	var (
		art       model.Article
		title     sql.NullString
		link      sql.NullString
		desc      sql.NullString
		content   sql.NullString
		authName  sql.NullString
		authMail  sql.NullString
		authURI   sql.NullString
		encURL    sql.NullString
		encType   sql.NullString
		encLength sql.NullInt64
		pubDate   sql.NullTime
		hash      sql.NullString
	)

	err := row.Scan(
		&art.GUID, &title, &link, &desc, &content,
		&authName, &authMail, &authURI,
		&encURL, &encType, &encLength,
		&pubDate, &art.Status, &art.Keep, &art.Deleted,
		&hash, &art.GuidIsHash, &art.GuidIsPermaLink,
	)
	if err != nil {
		return nil, err
	}

	art.FeedURL = a.feedURL
	art.Title = title.String
	art.Link = link.String
	art.Description = desc.String
	art.Content = content.String
	art.AuthorName = authName.String
	art.AuthorEMail = authMail.String
	art.AuthorURI = authURI.String
	art.EnclosureURL = encURL.String
	art.EnclosureType = encType.String
	art.EnclosureLength = int(encLength.Int64)
	if pubDate.Valid {
		art.PubDate = pubDate.Time
	}
	art.Hash = hash.String
	return &art, nil
}

func (a *feedArchive) Create(ctx context.Context, art *model.Article) error {
	if err := a.ensureFeed(ctx); err != nil {
		return err
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO articles (
			id, feed_url, guid, title, link, description, content,
			author_name, author_email, author_uri,
			enclosure_url, enclosure_type, enclosure_length,
			pub_date, status, keep, deleted, hash, guid_is_hash, guid_is_permalink
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (feed_url, guid) DO UPDATE SET
			title = EXCLUDED.title,
			link = EXCLUDED.link,
			description = EXCLUDED.description,
			content = EXCLUDED.content,
			author_name = EXCLUDED.author_name,
			author_email = EXCLUDED.author_email,
			author_uri = EXCLUDED.author_uri,
			enclosure_url = EXCLUDED.enclosure_url,
			enclosure_type = EXCLUDED.enclosure_type,
			enclosure_length = EXCLUDED.enclosure_length,
			pub_date = EXCLUDED.pub_date,
			status = EXCLUDED.status,
			keep = EXCLUDED.keep,
			deleted = EXCLUDED.deleted,
			hash = EXCLUDED.hash,
			guid_is_hash = EXCLUDED.guid_is_hash,
			guid_is_permalink = EXCLUDED.guid_is_permalink,
			updated_at = now()`,
		uuid.New(), a.feedURL, art.GUID,
		nullString(art.Title), nullString(art.Link),
		nullString(art.Description), nullString(art.Content),
		nullString(art.AuthorName), nullString(art.AuthorEMail), nullString(art.AuthorURI),
		nullString(art.EnclosureURL), nullString(art.EnclosureType), art.EnclosureLength,
		nullTime(art.PubDate), int(art.Status), art.Keep, art.Deleted,
		nullString(art.Hash), art.GuidIsHash, art.GuidIsPermaLink,
	)
	if err != nil {
		return fmt.Errorf("記事の保存に失敗しました: %w", err)
	}
	return nil
}

func (a *feedArchive) Update(ctx context.Context, art *model.Article) error {
	// 上書き更新はUPSERTと同一のセマンティクスを持つ
	return a.Create(ctx, art)
}

func (a *feedArchive) UpdateStatus(ctx context.Context, guid string, status model.ArticleStatus) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE articles SET status = $1, updated_at = now() WHERE feed_url = $2 AND guid = $3`,
		int(status), a.feedURL, guid,
	)
	if err != nil {
		return fmt.Errorf("既読状態の更新に失敗しました: %w", err)
	}
	return nil
}

func (a *feedArchive) UpdateKeep(ctx context.Context, guid string, keep bool) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE articles SET keep = $1, updated_at = now() WHERE feed_url = $2 AND guid = $3`,
		keep, a.feedURL, guid,
	)
	if err != nil {
		return fmt.Errorf("保持フラグの更新に失敗しました: %w", err)
	}
	return nil
}

func (a *feedArchive) MarkDeleted(ctx context.Context, guid string) error {
	// タムストーン化: 表示用フィールドを空白化し、行自体は残す
	_, err := a.db.ExecContext(ctx,
		`UPDATE articles SET
			deleted = true,
			status = $1,
			title = NULL, link = NULL, description = NULL, content = NULL,
			author_name = NULL, author_email = NULL, author_uri = NULL,
			enclosure_url = NULL, enclosure_type = NULL, enclosure_length = 0,
			updated_at = now()
		WHERE feed_url = $2 AND guid = $3`,
		int(model.StatusRead), a.feedURL, guid,
	)
	if err != nil {
		return fmt.Errorf("記事のソフト削除に失敗しました: %w", err)
	}
	return nil
}

func (a *feedArchive) Delete(ctx context.Context, guid string) error {
	_, err := a.db.ExecContext(ctx,
		`DELETE FROM articles WHERE feed_url = $1 AND guid = $2`,
		a.feedURL, guid,
	)
	if err != nil {
		return fmt.Errorf("記事の物理削除に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をNULLへ変換する。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime はゼロ値の時刻をNULLへ変換する。
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// compile-time interface check
var _ storage.FeedArchive = (*feedArchive)(nil)

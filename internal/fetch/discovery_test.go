package fetch

import (
	"testing"
)

// TestParseFeedLinksFromHTML はheadタグからのフィードリンク検出を検証する。
func TestParseFeedLinksFromHTML(t *testing.T) {
	body := []byte(`<!DOCTYPE html>
<html>
<head>
<title>Example Blog</title>
<link rel="stylesheet" href="/style.css">
<link rel="alternate" type="application/rss+xml" title="RSS" href="/feed.rss">
<link rel="alternate" type="application/atom+xml" title="Atom" href="https://feeds.example.net/atom.xml">
<link rel="alternate" type="application/json" href="/feed.json">
</head>
<body>
<link rel="alternate" type="application/rss+xml" href="/body-feed.rss">
</body>
</html>`)

	candidates := parseFeedLinksFromHTML(body, "https://example.com/blog/")

	if len(candidates) != 2 {
		t.Fatalf("候補数 = %d, want 2", len(candidates))
	}
	if candidates[0].url != "https://example.com/feed.rss" {
		t.Errorf("相対URLが解決されていない: %q", candidates[0].url)
	}
	if candidates[0].feedType != feedTypeRSS {
		t.Errorf("候補0の種類 = %v", candidates[0].feedType)
	}
	if candidates[0].title != "RSS" {
		t.Errorf("候補0のタイトル = %q", candidates[0].title)
	}
	if candidates[1].url != "https://feeds.example.net/atom.xml" {
		t.Errorf("候補1のURL = %q", candidates[1].url)
	}
	if candidates[1].feedType != feedTypeAtom {
		t.Errorf("候補1の種類 = %v", candidates[1].feedType)
	}
}

// TestParseFeedLinksFromHTML_NoCandidates はフィードリンクのないHTMLを検証する。
func TestParseFeedLinksFromHTML_NoCandidates(t *testing.T) {
	body := []byte(`<html><head><title>No feeds here</title></head><body></body></html>`)
	if got := parseFeedLinksFromHTML(body, "https://example.com/"); len(got) != 0 {
		t.Errorf("候補数 = %d, want 0", len(got))
	}
}

// TestSelectBestFeed は候補選択の優先順位（同一ホスト > Atom > 先頭）を検証する。
func TestSelectBestFeed(t *testing.T) {
	tests := []struct {
		name       string
		candidates []feedCandidate
		inputURL   string
		want       string
	}{
		{
			name: "同一ホストが外部ホストより優先される",
			candidates: []feedCandidate{
				{url: "https://feeds.example.net/atom.xml", feedType: feedTypeAtom},
				{url: "https://example.com/feed.rss", feedType: feedTypeRSS},
			},
			inputURL: "https://example.com/blog",
			want:     "https://example.com/feed.rss",
		},
		{
			name: "同一ホスト内ではAtomが優先される",
			candidates: []feedCandidate{
				{url: "https://example.com/feed.rss", feedType: feedTypeRSS},
				{url: "https://example.com/atom.xml", feedType: feedTypeAtom},
			},
			inputURL: "https://example.com/blog",
			want:     "https://example.com/atom.xml",
		},
		{
			name: "同点の場合は先頭が選ばれる",
			candidates: []feedCandidate{
				{url: "https://example.com/a.rss", feedType: feedTypeRSS},
				{url: "https://example.com/b.rss", feedType: feedTypeRSS},
			},
			inputURL: "https://example.com/blog",
			want:     "https://example.com/a.rss",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best := selectBestFeed(tt.candidates, tt.inputURL)
			if best == nil {
				t.Fatal("selectBestFeed() = nil")
			}
			if best.url != tt.want {
				t.Errorf("selectBestFeed() = %q, want %q", best.url, tt.want)
			}
		})
	}

	if got := selectBestFeed(nil, "https://example.com"); got != nil {
		t.Errorf("空候補でnil以外が返った: %v", got)
	}
}

// TestLooksLikeHTML はHTML判定を検証する。
func TestLooksLikeHTML(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{"text/html", "text/html; charset=utf-8", "", true},
		{"application/xhtml+xml", "application/xhtml+xml", "", true},
		{"text/xml", "text/xml", "<rss/>", false},
		{"application/rss+xml", "application/rss+xml", "", false},
		{"Content-Type不明でdoctypeあり", "", "<!DOCTYPE html><html></html>", true},
		{"text/plainでhtmlタグあり", "text/plain", "<html><head></head></html>", true},
		{"Content-Type不明でXMLボディ", "", `<?xml version="1.0"?><rss/>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeHTML(tt.contentType, []byte(tt.body)); got != tt.want {
				t.Errorf("looksLikeHTML(%q, %q) = %v, want %v", tt.contentType, tt.body, got, tt.want)
			}
		})
	}
}

package fetch

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// feedType はディスカバリで検出されたフィードの種類。
type feedType string

const (
	feedTypeRSS  feedType = "rss"
	feedTypeAtom feedType = "atom"
)

// feedCandidate はHTMLのheadから検出されたフィード候補。
type feedCandidate struct {
	url      string
	feedType feedType
	title    string
}

// looksLikeHTML はレスポンスがHTML文書かを判定する。
// Content-Typeを優先し、不明な場合はボディの先頭を検査する。
func looksLikeHTML(contentType string, body []byte) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)
	if strings.Contains(mediaType, "html") {
		return true
	}
	if mediaType != "" && mediaType != "text/plain" && mediaType != "application/octet-stream" {
		return false
	}

	checkSize := 1024
	if len(body) < checkSize {
		checkSize = len(body)
	}
	prefix := strings.ToLower(string(body[:checkSize]))
	return strings.Contains(prefix, "<html") || strings.Contains(prefix, "<!doctype html")
}

// parseFeedLinksFromHTML はHTMLのheadタグからRSS/Atomフィードリンクを検出する。
// 相対URLはbaseURLを基準に絶対URLへ解決される。body要素に達した時点で解析を打ち切る。
func parseFeedLinksFromHTML(htmlBody []byte, baseURL string) []feedCandidate {
	var candidates []feedCandidate

	baseU, err := url.Parse(baseURL)
	if err != nil {
		return candidates
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return candidates

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "head" {
				inHead = true
				continue
			}
			if tagName == "body" {
				return candidates
			}
			if !inHead || tagName != "link" || !hasAttr {
				continue
			}

			var rel, linkType, href, title string
			for {
				key, val, more := tokenizer.TagAttr()
				k := strings.ToLower(string(key))
				v := string(val)
				switch k {
				case "rel":
					rel = strings.ToLower(v)
				case "type":
					linkType = strings.ToLower(v)
				case "href":
					href = v
				case "title":
					title = v
				}
				if !more {
					break
				}
			}

			// rel="alternate" かつ RSS/Atom Content-Type のリンクのみ対象
			if rel != "alternate" || href == "" {
				continue
			}

			var ft feedType
			switch linkType {
			case "application/rss+xml":
				ft = feedTypeRSS
			case "application/atom+xml":
				ft = feedTypeAtom
			default:
				continue
			}

			resolved := resolveURL(baseU, href)
			if resolved == "" {
				continue
			}

			candidates = append(candidates, feedCandidate{
				url:      resolved,
				feedType: ft,
				title:    title,
			})

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return candidates
			}
		}
	}
}

// resolveURL は相対URLをベースURLを基準に絶対URLへ解決する。
func resolveURL(base *url.URL, rawRef string) string {
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// selectBestFeed は複数のフィード候補から最適なものを選択する。
// 優先順位: 同一ホスト > Atom > 先頭。
func selectBestFeed(candidates []feedCandidate, inputURL string) *feedCandidate {
	if len(candidates) == 0 {
		return nil
	}

	inputHost := extractHost(inputURL)

	// スコアリング: 同一ホスト(+100) + Atom(+10)。同点は先頭優先。
	bestIdx := 0
	bestScore := -1

	for i, c := range candidates {
		score := 0
		if extractHost(c.url) == inputHost {
			score += 100
		}
		if c.feedType == feedTypeAtom {
			score += 10
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	return &candidates[bestIdx]
}

// extractHost はURLからホスト名を抽出する。
func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Package opml はフィードツリーのOPML文書モデルと入出力を提供する。
// フィードのアウトライン要素はアーカイブ設定を含む全属性を保持し、
// エクスポートとインポートのラウンドトリップで構造だけでなく挙動も保存される。
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/hitoshi/feedkeeper/internal/model"
)

// Document はOPML文書のルートを表す。
type Document struct {
	XMLName xml.Name
	Version string `xml:"version,attr"`
	Head    Head   `xml:"head"`
	// Body はポインタで保持し、要素の不在と空要素を区別する。
	Body *Body `xml:"body"`
}

// Head はOPMLのメタデータを表す。
type Head struct {
	Text string `xml:"text"`
}

// Body はアウトライン要素のコンテナ。
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline は1つのアウトライン要素（フィードまたはフォルダ）を表す。
// フィードの場合はアーカイブ設定を含む全属性を保持する。
type Outline struct {
	Text    string `xml:"text,attr"`
	Title   string `xml:"title,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Version string `xml:"version,attr,omitempty"`

	// XMLURL とその表記ゆれ。歴史的事情によりxmlurl/xmlURLの別表記を
	// 受理する必要がある。エクスポート時はxmlUrlのみを使用する。
	XMLURL      string `xml:"xmlUrl,attr,omitempty"`
	XMLURLLower string `xml:"xmlurl,attr,omitempty"`
	XMLURLUpper string `xml:"xmlURL,attr,omitempty"`

	HTMLURL     string `xml:"htmlUrl,attr,omitempty"`
	Description string `xml:"description,attr,omitempty"`

	// ID はツリーノードID。0はOPMLがidを供給しなかったことを意味し、
	// インポート後に新規生成される。
	ID uint32 `xml:"id,attr,omitempty"`

	UseCustomFetchInterval string `xml:"useCustomFetchInterval,attr,omitempty"`
	FetchInterval          int    `xml:"fetchInterval,attr,omitempty"`

	ArchiveMode      string `xml:"archiveMode,attr,omitempty"`
	MaxArticleAge    int    `xml:"maxArticleAge,attr,omitempty"`
	MaxArticleNumber int    `xml:"maxArticleNumber,attr,omitempty"`

	Comment   string `xml:"comment,attr,omitempty"`
	Copyright string `xml:"copyright,attr,omitempty"`

	// 以下の3属性は設定されている場合のみ "true" として出力される。
	MarkImmediatelyAsRead string `xml:"markImmediatelyAsRead,attr,omitempty"`
	UseNotification       string `xml:"useNotification,attr,omitempty"`
	LoadLinkedWebsite     string `xml:"loadLinkedWebsite,attr,omitempty"`

	FaviconURL    string `xml:"faviconUrl,attr,omitempty"`
	FaviconWidth  int    `xml:"faviconWidth,attr,omitempty"`
	FaviconHeight int    `xml:"faviconHeight,attr,omitempty"`
	LogoURL       string `xml:"logoUrl,attr,omitempty"`
	LogoWidth     int    `xml:"logoWidth,attr,omitempty"`
	LogoHeight    int    `xml:"logoHeight,attr,omitempty"`

	// IsOpen はフォルダの展開状態（"true"/"false"）。
	IsOpen string `xml:"isOpen,attr,omitempty"`

	Outlines []Outline `xml:"outline"`
}

// FeedURL はxmlUrl属性の値を表記ゆれを考慮して返す。
// 空文字列の場合、このアウトラインはフォルダである。
func (o *Outline) FeedURL() string {
	if o.XMLURL != "" {
		return o.XMLURL
	}
	if o.XMLURLLower != "" {
		return o.XMLURLLower
	}
	return o.XMLURLUpper
}

// IsFeed はこのアウトラインがフィードかどうかを返す。
func (o *Outline) IsFeed() bool {
	return o.FeedURL() != ""
}

// DisplayTitle はtitle属性を優先し、なければtext属性を返す。
func (o *Outline) DisplayTitle() string {
	if o.Title != "" {
		return o.Title
	}
	return o.Text
}

// Parse はOPML文書を解析する。
// ルート要素はopml（大文字小文字を区別しない）でなければならず、
// body要素を欠く文書はハードエラーとなる。部分的な取り込みは行わない。
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, model.NewInvalidOPMLError(fmt.Sprintf("XMLの解析に失敗しました: %v", err))
	}

	if !strings.EqualFold(doc.XMLName.Local, "opml") {
		return nil, model.NewInvalidOPMLError(fmt.Sprintf("ルート要素がopmlではありません: %q", doc.XMLName.Local))
	}
	if doc.Body == nil {
		return nil, model.NewInvalidOPMLError("body要素が存在しません")
	}
	return &doc, nil
}

// ParseString は文字列からOPML文書を解析する。
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Format はOPML文書をXMLヘッダ付きのバイト列へシリアライズする。
func Format(doc *Document) ([]byte, error) {
	doc.XMLName = xml.Name{Local: "opml"}
	if doc.Version == "" {
		doc.Version = "1.0"
	}
	if doc.Body == nil {
		doc.Body = &Body{}
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("OPMLのシリアライズに失敗しました: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// NewDocument は指定したアウトライン群を持つOPML文書を生成する。
func NewDocument(title string, outlines []Outline) *Document {
	return &Document{
		XMLName: xml.Name{Local: "opml"},
		Version: "1.0",
		Head:    Head{Text: title},
		Body:    &Body{Outlines: outlines},
	}
}

// FormatBool はフラグ属性の文字列表現を返す。
func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ParseBool はフラグ属性の文字列を解釈する。"true"のみを真とみなす。
func ParseBool(s string) bool {
	return s == "true"
}

// Package model はドメインモデルを定義する。
package model

// ArticleStatus は記事の既読状態を表す。
type ArticleStatus int

const (
	// StatusUnread は未読記事。
	StatusUnread ArticleStatus = iota
	// StatusRead は既読記事。
	StatusRead
	// StatusNew は直近のフェッチで新規に到着した記事。
	// ユーザーが確認する前に再フェッチされた場合はUnreadに降格する。
	StatusNew
)

// String はステータスの文字列表現を返す。
func (s ArticleStatus) String() string {
	switch s {
	case StatusRead:
		return "read"
	case StatusNew:
		return "new"
	default:
		return "unread"
	}
}

// ArchiveMode はフィードごとの記事保持ポリシーを表す。
type ArchiveMode string

const (
	// ArchiveGlobalDefault はアプリケーション全体のデフォルトポリシーに従う。
	ArchiveGlobalDefault ArchiveMode = "globalDefault"
	// ArchiveKeepAll は全記事を無期限に保持する。
	ArchiveKeepAll ArchiveMode = "keepAllArticles"
	// ArchiveDisabled はアーカイブを行わない。
	ArchiveDisabled ArchiveMode = "disableArchiving"
	// ArchiveLimitNumber は記事数の上限で保持を制限する。
	ArchiveLimitNumber ArchiveMode = "limitArticleNumber"
	// ArchiveLimitAge は記事の経過日数で保持を制限する。
	ArchiveLimitAge ArchiveMode = "limitArticleAge"
)

// ParseArchiveMode は文字列をArchiveModeに変換する。
// 未知の値はArchiveGlobalDefaultとして扱う。
func ParseArchiveMode(s string) ArchiveMode {
	switch ArchiveMode(s) {
	case ArchiveKeepAll, ArchiveDisabled, ArchiveLimitNumber, ArchiveLimitAge:
		return ArchiveMode(s)
	default:
		return ArchiveGlobalDefault
	}
}

// FetchErrorCode はフェッチ失敗の分類を表す。
// プロセス障害には決してエスカレートせず、フィード単位で記録される。
type FetchErrorCode int

const (
	// FetchErrorNone はエラーなし。
	FetchErrorNone FetchErrorCode = iota
	// FetchErrorTimeout は取得タイムアウト。
	FetchErrorTimeout
	// FetchErrorUnknownHost はホスト名の解決失敗。
	FetchErrorUnknownHost
	// FetchErrorFileNotFound はフィードファイルの不在（404等）。
	FetchErrorFileNotFound
	// FetchErrorInvalidXML はXMLとして解析不能なレスポンス。
	// 自動ディスカバリの再試行トリガーとなる。
	FetchErrorInvalidXML
	// FetchErrorXMLNotAccepted はXMLではあるがフィードとして受理できない文書。
	FetchErrorXMLNotAccepted
	// FetchErrorInvalidFormat はフィード形式の不整合。
	FetchErrorInvalidFormat
	// FetchErrorAborted はユーザーまたはシャットダウンによる中断。
	// エラーコードとしては記録されない（エラーとは区別される）。
	FetchErrorAborted
)

// String はエラーコードの文字列表現を返す。
func (c FetchErrorCode) String() string {
	switch c {
	case FetchErrorNone:
		return "none"
	case FetchErrorTimeout:
		return "timeout"
	case FetchErrorUnknownHost:
		return "unknown_host"
	case FetchErrorFileNotFound:
		return "file_not_found"
	case FetchErrorInvalidXML:
		return "invalid_xml"
	case FetchErrorXMLNotAccepted:
		return "xml_not_accepted"
	case FetchErrorInvalidFormat:
		return "invalid_format"
	case FetchErrorAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Package model はドメインモデルを定義する。
package model

import "time"

// Source はポーリング対象の外部URLを表す。
// 管理操作で作成され、フィンガープリントと最終チェック時刻を保持する。
// コンベンションとの紐付けはnullableで、未マッチのソースも存在しうる。
type Source struct {
	ID                string
	Kind              SourceKind
	URL               string
	ConventionID      *string
	Enabled           bool
	Checksum          string // コンテンツのSHA-256（強いフィンガープリント）
	WeakValidator     string // ETag/Last-Modified等の弱いバリデータ
	LastCheckedAt     *time.Time
	LastChangedAt     *time.Time
	ConsecutiveErrors int
	NextCheckAt       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SourceKind はソースの種別を表す。
// 種別はチェック間隔と、リコンサイル時のフィールド優先度の両方を決める。
type SourceKind string

const (
	// SourceKindTickets はチケット販売ページ。申込枠フィールドの最優先ソース。
	SourceKindTickets SourceKind = "tickets"
	// SourceKindOfficial は公式サイト。
	SourceKindOfficial SourceKind = "official"
	// SourceKindNews はニュース記事。
	SourceKindNews SourceKind = "news"
	// SourceKindSocial はSNS投稿。最も優先度が低い。
	SourceKindSocial SourceKind = "social"
)

// ValidSourceKind は既知のソース種別かどうかを返す。
func ValidSourceKind(k SourceKind) bool {
	switch k {
	case SourceKindTickets, SourceKindOfficial, SourceKindNews, SourceKindSocial:
		return true
	default:
		return false
	}
}

// Specificity はリコンサイル時のフィールド優先度を返す。値が大きいほど優先される。
// tickets > official > news > social
func (k SourceKind) Specificity() int {
	switch k {
	case SourceKindTickets:
		return 4
	case SourceKindOfficial:
		return 3
	case SourceKindNews:
		return 2
	case SourceKindSocial:
		return 1
	default:
		return 0
	}
}

// ScrapeJob は1回のフェッチ試行の記録を表す。
// 追記型のログであり、終端状態（success/error）に達した行は以後変更されない。
type ScrapeJob struct {
	ID          string
	SourceID    string
	ScheduledAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Status      ScrapeJobStatus
	Findings    []byte // 抽出結果のJSONペイロード。成功時のみ非nil
	ErrorDetail string
	CreatedAt   time.Time
}

// ScrapeJobStatus はスクレイプジョブの状態を表す。
type ScrapeJobStatus string

const (
	// ScrapeJobStatusQueued は実行待ちの状態。
	ScrapeJobStatusQueued ScrapeJobStatus = "queued"
	// ScrapeJobStatusRunning は実行中の状態。
	ScrapeJobStatusRunning ScrapeJobStatus = "running"
	// ScrapeJobStatusSuccess は正常終了の終端状態。
	ScrapeJobStatusSuccess ScrapeJobStatus = "success"
	// ScrapeJobStatusError は異常終了の終端状態。
	ScrapeJobStatusError ScrapeJobStatus = "error"
)

// Package model はドメインモデルを定義する。
package model

import "time"

// Findings は外部の抽出コラボレーターが生成した構造化済みの事実を表す。
// スクレイプジョブのペイロードとしてJSON保存され、Reconcilerの入力となる。
// 各フィールドはnilの場合「情報なし」を意味し、既存値を上書きしない。
type Findings struct {
	Convention  *ConventionFindings `json:"convention,omitempty"`
	SignUps     []SignUpFinding     `json:"signups,omitempty"`
	ExtractedAt time.Time           `json:"extracted_at"`
}

// ConventionFindings はコンベンション本体に関する抽出候補値。
type ConventionFindings struct {
	Name                 *string         `json:"name,omitempty"`
	SiteURL              *string         `json:"site_url,omitempty"`
	StartDate            *time.Time      `json:"start_date,omitempty"`
	EndDate              *time.Time      `json:"end_date,omitempty"`
	NextEditionAnnounced *bool           `json:"next_edition_announced,omitempty"`
	Tags                 []ConventionTag `json:"tags,omitempty"`
}

// SignUpFinding は申込受付枠に関する抽出候補値。
// 同一バッチ内に同じTypeの候補が複数ある場合、Reconcilerが
// ソース種別の優先度と抽出時刻で解決する。
type SignUpFinding struct {
	Type        SignUpType    `json:"type"`
	Link        *string       `json:"link,omitempty"`
	OpenAt      *time.Time    `json:"open_at,omitempty"`
	CloseAt     *time.Time    `json:"close_at,omitempty"`
	Status      *SignUpStatus `json:"status,omitempty"`
	ExtractedAt *time.Time    `json:"extracted_at,omitempty"` // バッチ内の同点解決に使う。nilならバッチ全体の時刻
}

// Empty は適用すべき候補値が1つもないかどうかを返す。
func (f *Findings) Empty() bool {
	return f == nil || (f.Convention == nil && len(f.SignUps) == 0)
}

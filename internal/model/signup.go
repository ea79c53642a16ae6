// Package model はドメインモデルを定義する。
package model

import "time"

// SignUpWindow はコンベンションの申込受付枠を表す。
// 1つのコンベンションに対して種別ごとに最大1つ存在する。
type SignUpWindow struct {
	ID           string
	ConventionID string
	Type         SignUpType
	Link         string
	OpenAt       *time.Time
	CloseAt      *time.Time
	Status       SignUpStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SignUpType は申込受付枠の種別を表す。
type SignUpType string

const (
	// SignUpTypeAttendee は一般参加の申込枠。
	SignUpTypeAttendee SignUpType = "attendee"
	// SignUpTypePress はプレス参加の申込枠。
	SignUpTypePress SignUpType = "press"
	// SignUpTypePro は業界関係者の申込枠。
	SignUpTypePro SignUpType = "pro"
	// SignUpTypeVendor は出展者の申込枠。
	SignUpTypeVendor SignUpType = "vendor"
	// SignUpTypeArtist はアーティスト出展の申込枠。
	SignUpTypeArtist SignUpType = "artist"
)

// ValidSignUpType は既知の申込枠種別かどうかを返す。
func ValidSignUpType(t SignUpType) bool {
	switch t {
	case SignUpTypeAttendee, SignUpTypePress, SignUpTypePro, SignUpTypeVendor, SignUpTypeArtist:
		return true
	default:
		return false
	}
}

// SignUpStatus は申込受付枠の状態を表す。
// 通常は unknown → announced → open → {closed|waitlist} と単調に遷移するが、
// 外部ソースの訂正により逆行する更新も受け入れる。
type SignUpStatus string

const (
	// SignUpStatusUnknown は受付情報が未判明の状態。
	SignUpStatusUnknown SignUpStatus = "unknown"
	// SignUpStatusAnnounced は受付開始が告知された状態。
	SignUpStatusAnnounced SignUpStatus = "announced"
	// SignUpStatusOpen は受付中の状態。
	SignUpStatusOpen SignUpStatus = "open"
	// SignUpStatusClosed は受付終了の状態。
	SignUpStatusClosed SignUpStatus = "closed"
	// SignUpStatusWaitlist はキャンセル待ち受付の状態。
	SignUpStatusWaitlist SignUpStatus = "waitlist"
)

// ValidSignUpStatus は既知の受付状態かどうかを返す。
func ValidSignUpStatus(s SignUpStatus) bool {
	switch s {
	case SignUpStatusUnknown, SignUpStatusAnnounced, SignUpStatusOpen, SignUpStatusClosed, SignUpStatusWaitlist:
		return true
	default:
		return false
	}
}

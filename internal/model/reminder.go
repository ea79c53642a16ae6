// Package model はドメインモデルを定義する。
package model

import "time"

// ReminderInstance はマテリアライズ済みのリマインダーを表す。
// ユーザーが直接作成することはなく、Materializerが購読と対象の日時状態から導出する。
// 物理削除は行わず、cancelledを監査用の墓石状態として残す。
type ReminderInstance struct {
	ID             string
	SubscriptionID string
	Kind           ReminderKind
	TriggerAt      time.Time // UTCに正規化された絶対時刻
	Status         ReminderStatus
	Attempts       int
	LastError      string
	SentAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ReminderKind はリマインダーの種別を表す。
type ReminderKind string

const (
	// ReminderKindBeforeOpen は受付開始のリード日数前のリマインダー。
	ReminderKindBeforeOpen ReminderKind = "before_open"
	// ReminderKindOnOpen は受付開始時刻ちょうどのリマインダー。
	ReminderKindOnOpen ReminderKind = "on_open"
	// ReminderKindEventStart はコンベンション開催日のリマインダー。
	ReminderKindEventStart ReminderKind = "event_start"
)

// ReminderStatus はリマインダーの状態を表す。
type ReminderStatus string

const (
	// ReminderStatusPending は配信待ちの状態。
	ReminderStatusPending ReminderStatus = "pending"
	// ReminderStatusClaimed はディスパッチワーカーが配信のために確保した状態。
	// pending→claimedのCAS遷移によりワーカー間の二重配信を防ぐ。
	ReminderStatusClaimed ReminderStatus = "claimed"
	// ReminderStatusSent は配信完了の終端状態。
	ReminderStatusSent ReminderStatus = "sent"
	// ReminderStatusCancelled は再計算により打ち消された終端状態（墓石）。
	ReminderStatusCancelled ReminderStatus = "cancelled"
	// ReminderStatusFailed はリトライ上限に達した終端状態。
	ReminderStatusFailed ReminderStatus = "failed"
)

// IsActive は(subscription, kind)ごとの一意性制約の対象となる状態かを返す。
// pendingとclaimedのみがアクティブであり、同時に複数存在してはならない。
func (r *ReminderInstance) IsActive() bool {
	return r.Status == ReminderStatusPending || r.Status == ReminderStatusClaimed
}

// DueReminder は配信期限が到来したリマインダーと配信先ユーザーの組を表す。
// 配信コラボレーターはユーザーIDとインスタンスを受け取るため、
// 選択時に購読経由でユーザーIDを解決しておく。
type DueReminder struct {
	Instance *ReminderInstance
	UserID   string
}

// DesiredReminder はMaterializerが算出する「あるべきリマインダー」を表す。
// CreateIfMissingがfalseの場合、トリガー時刻が過去のため新規作成はしないが、
// 同一(kind, trigger_at)のpendingインスタンスが既に存在すればそれを維持する。
type DesiredReminder struct {
	Kind            ReminderKind
	TriggerAt       time.Time
	CreateIfMissing bool
}

// Package model はドメインモデルを定義する。
package model

import "time"

// WatchSubscription はユーザーのリマインド購読を表す。
// SignUpTypeがnilの場合はコンベンション全体（開催日）の監視、
// 非nilの場合は特定の申込受付枠の監視を意味する。
// (user, convention, signup_type) の3つ組で一意。
type WatchSubscription struct {
	ID                 string
	UserID             string
	ConventionID       string
	SignUpType         *SignUpType
	LeadDays           *int // ユーザーデフォルトを上書きするリード日数。nilなら上書きなし
	RemindOnOpen       bool
	RemindBeforeOpen   bool
	RemindOnEventStart bool // SignUpTypeがnilの場合のみ意味を持つ
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EffectiveLeadDays は購読の上書き値があればそれを、なければユーザーデフォルトを返す。
func (w *WatchSubscription) EffectiveLeadDays(userDefault int) int {
	if w.LeadDays != nil {
		return *w.LeadDays
	}
	return userDefault
}

// WatchesWholeConvention はコンベンション全体の監視かどうかを返す。
func (w *WatchSubscription) WatchesWholeConvention() bool {
	return w.SignUpType == nil
}

// WatchTarget はリマインダー再計算の対象を識別する。
// Changesetから導出され、どの購読が再計算候補かの絞り込みに使う。
type WatchTarget struct {
	ConventionID string
	SignUpType   *SignUpType // nilはコンベンション開催日の変更を表す
}

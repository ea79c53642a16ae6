// Package model はドメインモデルを定義する。
package model

import "time"

// User はリマインダーを受け取るユーザーを表す。
// このコアからは読み取り専用で、認証・登録は外部コラボレーターが行う。
type User struct {
	ID              string
	Email           string
	Name            string
	Timezone        string // IANAタイムゾーン名（例: "Asia/Tokyo"）
	DefaultLeadDays int    // 受付開始の何日前にリマインドするかのデフォルト値
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Location はユーザーのタイムゾーンをtime.Locationとして返す。
// タイムゾーン名が不正な場合はUTCにフォールバックする。
func (u *User) Location() *time.Location {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

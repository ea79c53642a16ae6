// Package model はドメインモデルを定義する。
package model

import "time"

// Convention はイベント（コンベンション）を表す。
// 名前とサイトURLの組み合わせで一意に識別される。
type Convention struct {
	ID                   string
	Name                 string
	SiteURL              string
	StartDate            *time.Time // 日付精度。未発表の場合はnil
	EndDate              *time.Time
	NextEditionAnnounced bool
	Tags                 []ConventionTag
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ConventionTag はコンベンションのカテゴリタグを表す。
type ConventionTag string

const (
	// TagAnime はアニメ系イベント。
	TagAnime ConventionTag = "anime"
	// TagGame はゲーム系イベント。
	TagGame ConventionTag = "game"
	// TagComic は漫画・同人誌系イベント。
	TagComic ConventionTag = "comic"
	// TagTech は技術系カンファレンス。
	TagTech ConventionTag = "tech"
	// TagTabletop はボードゲーム・TRPG系イベント。
	TagTabletop ConventionTag = "tabletop"
)

// HasDates は開催日程が確定しているかを返す。
func (c *Convention) HasDates() bool {
	return c.StartDate != nil
}

package scrape

import (
	"time"

	"github.com/ragedizzer/conwatch/internal/config"
	"github.com/ragedizzer/conwatch/internal/model"
)

// SchedulePolicy はソース種別ごとのチェック間隔と連続失敗時の
// 指数バックオフを決める。
type SchedulePolicy struct {
	ticketsInterval  time.Duration
	officialInterval time.Duration
	newsInterval     time.Duration
	socialInterval   time.Duration
	backoffInitial   time.Duration
	backoffMax       time.Duration
}

// NewSchedulePolicy は設定からSchedulePolicyを生成する。
func NewSchedulePolicy(cfg *config.Config) *SchedulePolicy {
	return &SchedulePolicy{
		ticketsInterval:  cfg.TicketsCheckInterval,
		officialInterval: cfg.OfficialCheckInterval,
		newsInterval:     cfg.NewsCheckInterval,
		socialInterval:   cfg.SocialCheckInterval,
		backoffInitial:   cfg.BackoffInitial,
		backoffMax:       cfg.BackoffMax,
	}
}

// Interval はソース種別の通常チェック間隔を返す。
// チケットページのような変化の速いソースほど短い間隔でチェックされる。
func (p *SchedulePolicy) Interval(kind model.SourceKind) time.Duration {
	switch kind {
	case model.SourceKindTickets:
		return p.ticketsInterval
	case model.SourceKindOfficial:
		return p.officialInterval
	case model.SourceKindNews:
		return p.newsInterval
	case model.SourceKindSocial:
		return p.socialInterval
	default:
		return p.officialInterval
	}
}

// Backoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回backoffInitial、2倍ずつ増加、backoffMaxで頭打ち。
func (p *SchedulePolicy) Backoff(consecutiveErrors int) time.Duration {
	delay := p.backoffInitial
	for i := 1; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > p.backoffMax {
			return p.backoffMax
		}
	}
	return delay
}

// NextCheckAfterSuccess は成功時の次回チェック時刻を返す。
func (p *SchedulePolicy) NextCheckAfterSuccess(kind model.SourceKind, now time.Time) time.Time {
	return now.Add(p.Interval(kind))
}

// NextCheckAfterFailure は失敗時の次回チェック時刻を返す。
// 通常間隔とバックオフ遅延の長い方を採用する。
func (p *SchedulePolicy) NextCheckAfterFailure(kind model.SourceKind, consecutiveErrors int, now time.Time) time.Time {
	delay := p.Backoff(consecutiveErrors)
	if interval := p.Interval(kind); interval > delay {
		delay = interval
	}
	return now.Add(delay)
}

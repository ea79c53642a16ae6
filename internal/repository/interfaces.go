// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/ragedizzer/conwatch/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// ユーザーの作成・認証はこのコアの範囲外のため、読み取りのみを提供する。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// ConventionRepository はコンベンションデータの永続化インターフェース。
type ConventionRepository interface {
	// FindByID は指定IDのコンベンションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Convention, error)

	// FindByNameAndSite は(name, site_url)でコンベンションを検索する。見つからない場合はnilを返す。
	FindByNameAndSite(ctx context.Context, name, siteURL string) (*model.Convention, error)

	// Create はコンベンションを作成する。
	Create(ctx context.Context, conv *model.Convention) error

	// Update はコンベンション情報を更新する。
	Update(ctx context.Context, conv *model.Convention) error

	// DeleteByID は指定IDのコンベンションを削除する。
	// 申込枠・購読・リマインダーはCASCADE削除され、sources.convention_idはNULLになる。
	DeleteByID(ctx context.Context, id string) error
}

// SignUpWindowRepository は申込受付枠データの永続化インターフェース。
type SignUpWindowRepository interface {
	// FindByConventionAndType は(convention_id, signup_type)で申込枠を取得する。
	// 見つからない場合はnilを返す。
	FindByConventionAndType(ctx context.Context, conventionID string, t model.SignUpType) (*model.SignUpWindow, error)

	// ListByConvention はコンベンションの全申込枠を返す。
	ListByConvention(ctx context.Context, conventionID string) ([]*model.SignUpWindow, error)

	// Create は申込枠を作成する。
	Create(ctx context.Context, w *model.SignUpWindow) error

	// Update は申込枠を更新する。
	Update(ctx context.Context, w *model.SignUpWindow) error
}

// WatchRepository は監視購読データの永続化インターフェース。
// 購読はユーザー操作で作成/削除され、Materializerからは読み取り専用。
type WatchRepository interface {
	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.WatchSubscription, error)

	// ListByTarget は監視対象（コンベンション、任意の申込枠種別）に一致する購読を返す。
	// target.SignUpTypeがnilの場合はコンベンション全体監視の購読のみが対象。
	ListByTarget(ctx context.Context, target model.WatchTarget) ([]*model.WatchSubscription, error)

	// ListByUserID はユーザーの購読一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.WatchSubscription, error)

	// Create は購読を作成する。(user, convention, signup_type)の重複は制約違反になる。
	Create(ctx context.Context, w *model.WatchSubscription) error

	// DeleteByID は指定IDの購読を削除する。リマインダーはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// ReminderRepository はリマインダーインスタンスの永続化インターフェース。
type ReminderRepository interface {
	// ListActiveBySubscription は購読のアクティブな（pending/claimed）インスタンスを返す。
	ListActiveBySubscription(ctx context.Context, subscriptionID string) ([]*model.ReminderInstance, error)

	// SyncForSubscription はあるべきリマインダー集合と現状の差分を1トランザクションで適用する。
	// 不要になったインスタンスはcancelledに遷移し、不足分はpendingで新規作成される。
	// (kind, trigger_at)が一致するインスタンスには触れないため、再実行は冪等。
	// 戻り値は作成数とキャンセル数。
	SyncForSubscription(ctx context.Context, subscriptionID string, desired []model.DesiredReminder) (created int, cancelled int, err error)

	// ListDue はtrigger_atが到来したpendingインスタンスを配信先ユーザーIDとともに
	// trigger_at昇順で返す。
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.DueReminder, error)

	// Claim はpending→claimedのCAS遷移を試みる。
	// 既に他のワーカーが確保済みの場合はfalseを返す。
	Claim(ctx context.Context, id string) (bool, error)

	// RequeueStaleClaims はolderThanより前に確保されたまま放置されたclaimed
	// インスタンスをpendingへ戻し、戻した件数を返す。
	// 配信中のクラッシュ等でsent/failedへ遷移できなかったインスタンスの救済措置。
	RequeueStaleClaims(ctx context.Context, olderThan time.Time) (int, error)

	// MarkSent は配信完了を記録する。claimed→sentの遷移のみ許される。
	MarkSent(ctx context.Context, id string, sentAt time.Time) error

	// MarkDeliveryFailure は配信失敗を記録する。
	// finalがfalseの場合はattemptsを加算してpendingへ戻し、trueの場合はfailedへ遷移する。
	MarkDeliveryFailure(ctx context.Context, id string, lastError string, final bool) error
}

// SourceRepository はスクレイプソースの永続化インターフェース。
type SourceRepository interface {
	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Source, error)

	// FindByURL はURLでソースを検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Source, error)

	// List は全ソースを返す（管理用）。
	List(ctx context.Context) ([]*model.Source, error)

	// Create はソースを作成する。URLの重複は制約違反になる。
	Create(ctx context.Context, src *model.Source) error

	// SetEnabled はソースの有効/無効を切り替える。
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// ListDueForCheck はチェック対象のソースを取得する。
	// enabled = true かつ next_check_at <= now() のソースを
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForCheck(ctx context.Context) ([]*model.Source, error)

	// UpdateFingerprint はフィンガープリントとチェック時刻を1文で更新する。
	// changedAtがnilの場合はlast_checked_atのみ、非nilの場合はchecksum・
	// weak_validator・last_changed_atも併せて更新する。
	UpdateFingerprint(ctx context.Context, id, checksum, weakValidator string, changedAt *time.Time, checkedAt time.Time) error

	// UpdateCheckSchedule は次回チェック時刻と連続エラー回数を更新する。
	UpdateCheckSchedule(ctx context.Context, id string, nextCheckAt time.Time, consecutiveErrors int) error
}

// ScrapeJobRepository はスクレイプジョブの追記型ログの永続化インターフェース。
type ScrapeJobRepository interface {
	// Create はqueued状態のジョブを作成する。
	Create(ctx context.Context, job *model.ScrapeJob) error

	// MarkRunning はqueued→runningの遷移を記録する。
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error

	// MarkSuccess は終端状態successと抽出結果ペイロードを記録する。
	MarkSuccess(ctx context.Context, id string, finishedAt time.Time, findings []byte) error

	// MarkError は終端状態errorとエラー詳細を記録する。
	MarkError(ctx context.Context, id string, finishedAt time.Time, detail string) error

	// ListBySource はソースのジョブ履歴を新しい順に返す（管理用）。
	ListBySource(ctx context.Context, sourceID string, limit int) ([]*model.ScrapeJob, error)
}

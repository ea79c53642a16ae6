// Package reminder はリマインダーのマテリアライズと配信を行う。
//
// Materializerは購読と監視対象の日時状態から「あるべきリマインダー集合」を
// 決定的に導出し、既存インスタンスとの差分を購読単位の1トランザクションで適用する。
// 同一入力に対する再実行は差分ゼロになるため冪等である。
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ragedizzer/conwatch/internal/metrics"
	"github.com/ragedizzer/conwatch/internal/model"
	"github.com/ragedizzer/conwatch/internal/repository"
)

// Materializer は購読ごとのリマインダー再計算を行う。
type Materializer struct {
	userRepo     repository.UserRepository
	convRepo     repository.ConventionRepository
	windowRepo   repository.SignUpWindowRepository
	watchRepo    repository.WatchRepository
	reminderRepo repository.ReminderRepository
	collector    metrics.MetricsCollector
	logger       *slog.Logger
	nowFn        func() time.Time
}

// NewMaterializer はMaterializerの新しいインスタンスを生成する。
func NewMaterializer(
	userRepo repository.UserRepository,
	convRepo repository.ConventionRepository,
	windowRepo repository.SignUpWindowRepository,
	watchRepo repository.WatchRepository,
	reminderRepo repository.ReminderRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Materializer {
	return &Materializer{
		userRepo:     userRepo,
		convRepo:     convRepo,
		windowRepo:   windowRepo,
		watchRepo:    watchRepo,
		reminderRepo: reminderRepo,
		collector:    collector,
		logger:       logger,
		nowFn:        time.Now,
	}
}

// BuildDesiredSet は購読・ユーザー・監視対象の状態から、あるべきリマインダー集合を計算する。
// 純粋関数であり、同一入力に対して常に同一の集合を返す。
//
//   - コンベンション全体監視: remind_on_event_startが有効かつstart_dateが既知なら、
//     開催日のユーザータイムゾーン00:00（UTC換算）にevent_start。
//   - 申込枠監視: remind_before_openが有効かつopen_atが既知ならopen_at − リード日数に
//     before_open、remind_on_openが有効かつopen_atが既知ならopen_atちょうどにon_open。
//   - トリガーが過去のエントリはCreateIfMissing=falseで返される。新規作成はされないが、
//     一致する既存pendingインスタンスは維持される（遡及発火はしないが黙って消しもしない）。
//   - open_atまたはstart_dateが失われた場合は該当kindが集合から消え、差分適用で
//     既存インスタンスが全てキャンセルされる。
func BuildDesiredSet(
	sub *model.WatchSubscription,
	user *model.User,
	conv *model.Convention,
	window *model.SignUpWindow,
	now time.Time,
) []model.DesiredReminder {
	var desired []model.DesiredReminder

	if sub.WatchesWholeConvention() {
		if sub.RemindOnEventStart && conv != nil && conv.StartDate != nil {
			s := conv.StartDate
			trigger := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, user.Location()).UTC()
			desired = append(desired, model.DesiredReminder{
				Kind:            model.ReminderKindEventStart,
				TriggerAt:       trigger,
				CreateIfMissing: trigger.After(now),
			})
		}
		return desired
	}

	if window == nil || window.OpenAt == nil {
		return desired
	}
	openAt := window.OpenAt.UTC()

	if sub.RemindBeforeOpen {
		leadDays := sub.EffectiveLeadDays(user.DefaultLeadDays)
		trigger := openAt.AddDate(0, 0, -leadDays)
		desired = append(desired, model.DesiredReminder{
			Kind:            model.ReminderKindBeforeOpen,
			TriggerAt:       trigger,
			CreateIfMissing: trigger.After(now),
		})
	}
	if sub.RemindOnOpen {
		desired = append(desired, model.DesiredReminder{
			Kind:            model.ReminderKindOnOpen,
			TriggerAt:       openAt,
			CreateIfMissing: openAt.After(now),
		})
	}

	return desired
}

// Materialize は1購読のリマインダーを再計算して差分を適用する。
// 購読が既に削除されている場合は、あるべき集合を空として残存インスタンスの
// キャンセルのみを行う（孤児pendingを残さない）。
func (m *Materializer) Materialize(ctx context.Context, subscriptionID string) error {
	sub, err := m.watchRepo.FindByID(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("購読の取得に失敗: %w", err)
	}
	if sub == nil {
		// 削除済み購読。CASCADE前に残ったインスタンスがあればキャンセルする
		_, cancelled, err := m.reminderRepo.SyncForSubscription(ctx, subscriptionID, nil)
		if err != nil {
			return fmt.Errorf("削除済み購読のインスタンス整理に失敗: %w", err)
		}
		if cancelled > 0 {
			m.collector.RecordRemindersMaterialized(0, cancelled)
			m.logger.Info("削除済み購読の残存インスタンスをキャンセルしました",
				slog.String("subscription_id", subscriptionID),
				slog.Int("cancelled", cancelled),
			)
		}
		return nil
	}

	desired, err := m.buildDesiredFor(ctx, sub)
	if err != nil {
		return err
	}

	created, cancelled, err := m.reminderRepo.SyncForSubscription(ctx, sub.ID, desired)
	if err != nil {
		return fmt.Errorf("リマインダー差分の適用に失敗: %w", err)
	}

	if created > 0 || cancelled > 0 {
		m.collector.RecordRemindersMaterialized(created, cancelled)
		m.logger.Info("リマインダーを再計算しました",
			slog.String("subscription_id", sub.ID),
			slog.String("convention_id", sub.ConventionID),
			slog.Int("created", created),
			slog.Int("cancelled", cancelled),
		)
	}
	return nil
}

// MaterializeForTargets はChangesetから導出された監視対象に一致する購読のみを再計算する。
// 購読テーブル全体の走査は行わない。1購読の失敗は記録して他の購読の処理を続行する。
func (m *Materializer) MaterializeForTargets(ctx context.Context, targets []model.WatchTarget) error {
	var failed int
	seen := make(map[string]bool)

	for _, target := range targets {
		subs, err := m.watchRepo.ListByTarget(ctx, target)
		if err != nil {
			return fmt.Errorf("対象購読の取得に失敗: %w", err)
		}
		for _, sub := range subs {
			if seen[sub.ID] {
				continue
			}
			seen[sub.ID] = true

			if err := m.Materialize(ctx, sub.ID); err != nil {
				failed++
				m.logger.Error("購読の再計算に失敗しました",
					slog.String("subscription_id", sub.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d件の購読の再計算に失敗", failed)
	}
	return nil
}

// buildDesiredFor は購読に必要な周辺状態を読み込み、あるべき集合を計算する。
func (m *Materializer) buildDesiredFor(ctx context.Context, sub *model.WatchSubscription) ([]model.DesiredReminder, error) {
	user, err := m.userRepo.FindByID(ctx, sub.UserID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("購読 %s のユーザー %s が見つかりません", sub.ID, sub.UserID))
	}

	conv, err := m.convRepo.FindByID(ctx, sub.ConventionID)
	if err != nil {
		return nil, fmt.Errorf("コンベンションの取得に失敗: %w", err)
	}

	var window *model.SignUpWindow
	if sub.SignUpType != nil {
		window, err = m.windowRepo.FindByConventionAndType(ctx, sub.ConventionID, *sub.SignUpType)
		if err != nil {
			return nil, fmt.Errorf("申込枠の取得に失敗: %w", err)
		}
	}

	return BuildDesiredSet(sub, user, conv, window, m.nowFn()), nil
}

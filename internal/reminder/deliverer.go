package reminder

import (
	"context"
	"log/slog"

	"github.com/ragedizzer/conwatch/internal/model"
)

// logDeliverer は配信内容を構造化ログに出力する既定実装。
// メール・プッシュ通知等の実際のトランスポートが差し込まれるまでの間、
// 配信パイプライン（確保・試行・終端遷移）を一通り動作させる。
type logDeliverer struct {
	logger *slog.Logger
}

// NewLogDeliverer はログ出力のみを行うDelivererを生成する。
func NewLogDeliverer(logger *slog.Logger) Deliverer {
	return &logDeliverer{logger: logger}
}

func (d *logDeliverer) Deliver(_ context.Context, userID string, rem *model.ReminderInstance) error {
	d.logger.Info("リマインダー配信（ログ出力）",
		slog.String("reminder_id", rem.ID),
		slog.String("user_id", userID),
		slog.String("subscription_id", rem.SubscriptionID),
		slog.String("kind", string(rem.Kind)),
		slog.Time("trigger_at", rem.TriggerAt),
	)
	return nil
}

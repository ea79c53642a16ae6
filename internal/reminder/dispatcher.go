package reminder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ragedizzer/conwatch/internal/metrics"
	"github.com/ragedizzer/conwatch/internal/model"
	"github.com/ragedizzer/conwatch/internal/repository"
)

// Deliverer はリマインダー配信コラボレーターのインターフェース。
// メール・プッシュ通知等の実体は外部にあり、このコアは成否のみを扱う。
type Deliverer interface {
	Deliver(ctx context.Context, userID string, reminder *model.ReminderInstance) error
}

// Dispatcher は期限の到来したリマインダーの選択・確保・配信を行う。
// pending→claimedのCAS遷移により、複数ワーカーが同時に動作しても
// 同一リマインダーが二重配信されることはない。
type Dispatcher struct {
	reminderRepo    repository.ReminderRepository
	deliverer       Deliverer
	collector       metrics.MetricsCollector
	logger          *slog.Logger
	batchSize       int
	maxConcurrency  int
	deliveryTimeout time.Duration
	maxAttempts     int
	nowFn           func() time.Time
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// batchSize・maxConcurrency・maxAttemptsが0以下の場合はデフォルト値を使用する。
func NewDispatcher(
	reminderRepo repository.ReminderRepository,
	deliverer Deliverer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	batchSize int,
	maxConcurrency int,
	deliveryTimeout time.Duration,
	maxAttempts int,
) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{
		reminderRepo:    reminderRepo,
		deliverer:       deliverer,
		collector:       collector,
		logger:          logger,
		batchSize:       batchSize,
		maxConcurrency:  maxConcurrency,
		deliveryTimeout: deliveryTimeout,
		maxAttempts:     maxAttempts,
		nowFn:           time.Now,
	}
}

// Start は指定間隔のティッカーでディスパッチループを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("ディスパッチループを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", d.batchSize),
		slog.Int("max_concurrency", d.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := d.RunOnce(ctx); err != nil {
		d.logger.Error("ディスパッチサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("ディスパッチループを停止しました")
			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				d.logger.Error("ディスパッチサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// claimRequeueAfter はclaimedのまま放置されたインスタンスを救済するまでの猶予。
// 配信タイムアウトより十分長く、正常な配信中のインスタンスには触れない。
const claimRequeueAfter = 10 * time.Minute

// RunOnce は期限到来のpendingリマインダーを1バッチ取得し、並列で配信を実行する。
// 冒頭で前回のクラッシュ等によりclaimedのまま残ったインスタンスをpendingへ戻す。
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	requeued, err := d.reminderRepo.RequeueStaleClaims(ctx, d.nowFn().Add(-claimRequeueAfter))
	if err != nil {
		return err
	}
	if requeued > 0 {
		d.logger.Warn("放置されたclaimedリマインダーをpendingへ戻しました",
			slog.Int("requeued", requeued),
		)
	}

	due, err := d.reminderRepo.ListDue(ctx, d.nowFn(), d.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	d.logger.Info("ディスパッチサイクルを開始します",
		slog.Int("due_count", len(due)),
	)

	sem := make(chan struct{}, d.maxConcurrency)
	var wg sync.WaitGroup

	for _, dr := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(dr *model.DueReminder) {
			defer wg.Done()
			defer func() { <-sem }()

			d.dispatchOne(ctx, dr.UserID, dr.Instance)
		}(dr)
	}

	wg.Wait()
	return nil
}

// dispatchOne は1件のリマインダーの確保と配信を行う。
// 確保に失敗した場合（他ワーカーが先に確保済み）は何もしない。
// ListDue以降に再計算でキャンセルされたリマインダーもここで弾かれる:
// ClaimのWHERE status='pending'条件が満たされずCASが失敗する。
func (d *Dispatcher) dispatchOne(ctx context.Context, userID string, rem *model.ReminderInstance) {
	claimed, err := d.reminderRepo.Claim(ctx, rem.ID)
	if err != nil {
		d.logger.Error("リマインダーの確保に失敗しました",
			slog.String("reminder_id", rem.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !claimed {
		return
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
	defer cancel()

	deliverErr := d.deliverer.Deliver(deliveryCtx, userID, rem)

	// 確保後の状態書き込みはシャットダウン中でも完了させる。
	// 呼び出し元のキャンセルで書き込みまで失敗すると、claimedのまま
	// ListDueの選択対象外となり配信もキャンセルもされない宙吊りになる
	writeCtx := context.WithoutCancel(ctx)

	if deliverErr != nil {
		d.recordFailure(writeCtx, rem, deliverErr)
		return
	}

	sentAt := d.nowFn()
	if err := d.reminderRepo.MarkSent(writeCtx, rem.ID, sentAt); err != nil {
		d.logger.Error("配信完了の記録に失敗しました",
			slog.String("reminder_id", rem.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	d.collector.RecordReminderSent()
	d.logger.Info("リマインダーを配信しました",
		slog.String("reminder_id", rem.ID),
		slog.String("user_id", userID),
		slog.String("subscription_id", rem.SubscriptionID),
		slog.String("kind", string(rem.Kind)),
		slog.Time("trigger_at", rem.TriggerAt),
	)
}

// recordFailure は配信失敗を記録する。
// 試行回数が上限に達した場合は終端状態failedへ、そうでなければpendingへ戻して
// 次のサイクルで再試行する。
func (d *Dispatcher) recordFailure(ctx context.Context, rem *model.ReminderInstance, deliverErr error) {
	attempts := rem.Attempts + 1
	final := attempts >= d.maxAttempts
	d.collector.RecordDeliveryFailure(final)

	deliveryErr := model.NewDeliveryError("リマインダー配信に失敗", deliverErr)
	if err := d.reminderRepo.MarkDeliveryFailure(ctx, rem.ID, deliveryErr.Error(), final); err != nil {
		d.logger.Error("配信失敗の記録に失敗しました",
			slog.String("reminder_id", rem.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if final {
		d.logger.Warn("リマインダーが試行上限に達したためfailedへ遷移しました",
			slog.String("reminder_id", rem.ID),
			slog.Int("attempts", attempts),
			slog.String("error", deliverErr.Error()),
		)
		return
	}

	d.logger.Warn("リマインダー配信に失敗しました。次のサイクルで再試行します",
		slog.String("reminder_id", rem.ID),
		slog.Int("attempts", attempts),
		slog.String("error", deliverErr.Error()),
	)
}

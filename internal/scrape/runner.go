package scrape

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ragedizzer/conwatch/internal/metrics"
	"github.com/ragedizzer/conwatch/internal/model"
	"github.com/ragedizzer/conwatch/internal/repository"
)

// ChangeDetector はフィンガープリント照合のインターフェース。
type ChangeDetector interface {
	CheckChanged(ctx context.Context, sourceID, checksum, weakValidator string) (bool, error)
}

// FindingApplier は抽出結果の適用インターフェース。
type FindingApplier interface {
	Apply(ctx context.Context, src *model.Source, findings *model.Findings) (*model.Changeset, error)
}

// ReminderRecomputer は影響を受けた購読のリマインダー再計算インターフェース。
type ReminderRecomputer interface {
	MaterializeForTargets(ctx context.Context, targets []model.WatchTarget) error
}

// Runner は1ソース分のスクレイプシーケンスを実行する。
// フェッチはロック外で行い、フィンガープリント照合・リコンサイル・再計算の
// シーケンスのみをソースごとのミューテックスで直列化する。
type Runner struct {
	srcRepo      repository.SourceRepository
	jobRepo      repository.ScrapeJobRepository
	fetcher      Fetcher
	extractor    Extractor
	detector     ChangeDetector
	applier      FindingApplier
	recomputer   ReminderRecomputer
	policy       *SchedulePolicy
	collector    metrics.MetricsCollector
	logger       *slog.Logger
	sourceLocks  *keyedMutex
	fetchTimeout time.Duration
	nowFn        func() time.Time
}

// NewRunner はRunnerの新しいインスタンスを生成する。
func NewRunner(
	srcRepo repository.SourceRepository,
	jobRepo repository.ScrapeJobRepository,
	fetcher Fetcher,
	extractor Extractor,
	detector ChangeDetector,
	applier FindingApplier,
	recomputer ReminderRecomputer,
	policy *SchedulePolicy,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	fetchTimeout time.Duration,
) *Runner {
	return &Runner{
		srcRepo:      srcRepo,
		jobRepo:      jobRepo,
		fetcher:      fetcher,
		extractor:    extractor,
		detector:     detector,
		applier:      applier,
		recomputer:   recomputer,
		policy:       policy,
		collector:    collector,
		logger:       logger,
		sourceLocks:  newKeyedMutex(),
		fetchTimeout: fetchTimeout,
		nowFn:        time.Now,
	}
}

// Process は1ソースのチェックを実行する。
// ScrapeJobをqueued→running→{success|error}と遷移させ、ジョブの失敗を
// 呼び出し元のエラーにはしない（記録してスケジュールを更新する）。
func (r *Runner) Process(ctx context.Context, src *model.Source) error {
	now := r.nowFn()
	job := &model.ScrapeJob{
		ID:          uuid.NewString(),
		SourceID:    src.ID,
		ScheduledAt: now,
		Status:      model.ScrapeJobStatusQueued,
	}
	if err := r.jobRepo.Create(ctx, job); err != nil {
		return err
	}
	if err := r.jobRepo.MarkRunning(ctx, job.ID, r.nowFn()); err != nil {
		return err
	}

	fetchStart := r.nowFn()
	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	result, err := r.fetcher.Fetch(fetchCtx, src)
	cancel()
	r.collector.RecordScrapeLatency(time.Since(fetchStart))

	if err != nil {
		r.recordJobFailure(ctx, src, job, err)
		return nil
	}

	if result.NotModified {
		return r.finishUnchanged(ctx, src, job, src.Checksum, result.WeakValidator, nil)
	}

	findings, err := r.extractor.Extract(ctx, src, result.Body)
	if err != nil {
		// 抽出失敗。ソースは直前の既知状態のまま保たれる
		r.recordJobFailure(ctx, src, job, model.NewExtractionError("抽出に失敗", err))
		return nil
	}

	payload, err := json.Marshal(findings)
	if err != nil {
		r.recordJobFailure(ctx, src, job, model.NewExtractionError("抽出結果のシリアライズに失敗", err))
		return nil
	}

	// フィンガープリント照合以降はソースごとに直列化する
	lock := r.sourceLocks.lockFor(src.ID)
	lock.Lock()
	defer lock.Unlock()

	changed, err := r.detector.CheckChanged(ctx, src.ID, result.Checksum, result.WeakValidator)
	if err != nil {
		r.recordJobFailure(ctx, src, job, err)
		return nil
	}

	if !changed {
		return r.finishSuccess(ctx, src, job, payload)
	}

	r.collector.RecordChangeDetected(string(src.Kind))

	changeset, err := r.applier.Apply(ctx, src, findings)
	if err != nil {
		r.recordJobFailure(ctx, src, job, err)
		return nil
	}
	r.collector.RecordReconcileChanges(len(changeset.Changes))

	if !changeset.Empty() {
		if err := r.recomputer.MaterializeForTargets(ctx, changeset.AffectedTargets()); err != nil {
			r.logger.Error("リマインダー再計算に失敗しました",
				slog.String("source_id", src.ID),
				slog.String("convention_id", changeset.ConventionID),
				slog.String("error", err.Error()),
			)
		}
	}

	return r.finishSuccess(ctx, src, job, payload)
}

// finishUnchanged は304応答のジョブを成功で終端し、フィンガープリントの
// チェック時刻のみを進める。
func (r *Runner) finishUnchanged(ctx context.Context, src *model.Source, job *model.ScrapeJob, checksum, weakValidator string, payload []byte) error {
	if _, err := r.detector.CheckChanged(ctx, src.ID, checksum, weakValidator); err != nil {
		r.recordJobFailure(ctx, src, job, err)
		return nil
	}
	return r.finishSuccess(ctx, src, job, payload)
}

// finishSuccess はジョブを成功で終端し、通常間隔で次回チェックを予約する。
func (r *Runner) finishSuccess(ctx context.Context, src *model.Source, job *model.ScrapeJob, payload []byte) error {
	now := r.nowFn()
	if err := r.jobRepo.MarkSuccess(ctx, job.ID, now, payload); err != nil {
		return err
	}
	next := r.policy.NextCheckAfterSuccess(src.Kind, now)
	if err := r.srcRepo.UpdateCheckSchedule(ctx, src.ID, next, 0); err != nil {
		return err
	}

	r.collector.RecordScrapeSuccess(string(src.Kind))
	r.logger.Info("ソースチェックが完了しました",
		slog.String("source_id", src.ID),
		slog.String("source_url", src.URL),
		slog.String("kind", string(src.Kind)),
		slog.Time("next_check_at", next),
	)
	return nil
}

// recordJobFailure はジョブをエラーで終端し、バックオフ付きで次回チェックを予約する。
func (r *Runner) recordJobFailure(ctx context.Context, src *model.Source, job *model.ScrapeJob, cause error) {
	now := r.nowFn()
	if err := r.jobRepo.MarkError(ctx, job.ID, now, cause.Error()); err != nil {
		r.logger.Error("ジョブのエラー記録に失敗しました",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	consecutive := src.ConsecutiveErrors + 1
	next := r.policy.NextCheckAfterFailure(src.Kind, consecutive, now)
	if err := r.srcRepo.UpdateCheckSchedule(ctx, src.ID, next, consecutive); err != nil {
		r.logger.Error("チェックスケジュールの更新に失敗しました",
			slog.String("source_id", src.ID),
			slog.String("error", err.Error()),
		)
	}

	reason := string(model.KindOf(cause))
	if reason == "" {
		reason = "unknown"
	}
	r.collector.RecordScrapeFailure(string(src.Kind), reason)
	r.logger.Warn("ソースチェックに失敗しました",
		slog.String("source_id", src.ID),
		slog.String("source_url", src.URL),
		slog.String("kind", string(src.Kind)),
		slog.Int("consecutive_errors", consecutive),
		slog.Time("next_check_at", next),
		slog.String("error", cause.Error()),
	)
}

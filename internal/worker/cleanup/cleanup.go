// Package cleanup は履歴データの自動削除ジョブを提供する。
// 保持期間を超過した終端状態のスクレイプジョブと、終端状態の
// リマインダーインスタンスを日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は保持期間を超過した履歴行の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
// pending/claimed/queued/runningの行には触れない。
type CleanupJob struct {
	db                    Executor
	logger                *slog.Logger
	JobRetentionDays      int // スクレイプジョブの保持日数（デフォルト: 90）
	ReminderRetentionDays int // 終端リマインダーの保持日数（デフォルト: 180）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:                    db,
		logger:                logger,
		JobRetentionDays:      90,
		ReminderRetentionDays: 180,
	}
}

// Run は保持期間を超過した履歴を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	jobsDeleted, err := j.purgeScrapeJobs(ctx)
	if err != nil {
		return err
	}

	remindersDeleted, err := j.purgeReminders(ctx)
	if err != nil {
		return err
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("scrape_jobs_deleted", jobsDeleted),
		slog.Int64("reminders_deleted", remindersDeleted),
		slog.Int("job_retention_days", j.JobRetentionDays),
		slog.Int("reminder_retention_days", j.ReminderRetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// purgeScrapeJobs は終端状態（success/error）かつ保持期間を超過したジョブを削除する。
func (j *CleanupJob) purgeScrapeJobs(ctx context.Context) (int64, error) {
	interval := fmt.Sprintf("%d days", j.JobRetentionDays)

	query := `
		DELETE FROM scrape_jobs
		WHERE status IN ('success', 'error')
		  AND created_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("スクレイプジョブのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.JobRetentionDays),
		)
		return 0, fmt.Errorf("スクレイプジョブのクリーンアップに失敗: %w", err)
	}

	return result.RowsAffected()
}

// purgeReminders は終端状態（sent/cancelled/failed）かつ保持期間を超過した
// リマインダーインスタンスを削除する。アクティブな行には触れない。
func (j *CleanupJob) purgeReminders(ctx context.Context) (int64, error) {
	interval := fmt.Sprintf("%d days", j.ReminderRetentionDays)

	query := `
		DELETE FROM reminder_instances
		WHERE status IN ('sent', 'cancelled', 'failed')
		  AND updated_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("リマインダーのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.ReminderRetentionDays),
		)
		return 0, fmt.Errorf("リマインダーのクリーンアップに失敗: %w", err)
	}

	return result.RowsAffected()
}

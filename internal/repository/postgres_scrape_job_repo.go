package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ragedizzer/conwatch/internal/model"
)

// PostgresScrapeJobRepo はPostgreSQLを使用したスクレイプジョブリポジトリ。
// ジョブは追記型のログであり、終端状態への遷移後は変更されない。
type PostgresScrapeJobRepo struct {
	db *sql.DB
}

// NewPostgresScrapeJobRepo はPostgresScrapeJobRepoを生成する。
func NewPostgresScrapeJobRepo(db *sql.DB) *PostgresScrapeJobRepo {
	return &PostgresScrapeJobRepo{db: db}
}

// Create はqueued状態のジョブを作成する。
func (r *PostgresScrapeJobRepo) Create(ctx context.Context, job *model.ScrapeJob) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scrape_jobs (id, source_id, scheduled_at, status, created_at)
		 VALUES ($1, $2, $3, 'queued', $4)`,
		job.ID, job.SourceID, job.ScheduledAt, job.CreatedAt,
	)
	if err != nil {
		return translateConstraint(err, "スクレイプジョブの作成に失敗しました")
	}
	return nil
}

// MarkRunning はqueued→runningの遷移を記録する。
func (r *PostgresScrapeJobRepo) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET status = 'running', started_at = $2
		 WHERE id = $1 AND status = 'queued'`,
		id, startedAt)
	if err != nil {
		return fmt.Errorf("ジョブの実行開始の記録に失敗しました: %w", err)
	}
	return nil
}

// MarkSuccess は終端状態successと抽出結果ペイロードを記録する。
func (r *PostgresScrapeJobRepo) MarkSuccess(ctx context.Context, id string, finishedAt time.Time, findings []byte) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET status = 'success', finished_at = $2, findings = $3
		 WHERE id = $1 AND status = 'running'`,
		id, finishedAt, findings)
	if err != nil {
		return fmt.Errorf("ジョブの成功の記録に失敗しました: %w", err)
	}
	return nil
}

// MarkError は終端状態errorとエラー詳細を記録する。
func (r *PostgresScrapeJobRepo) MarkError(ctx context.Context, id string, finishedAt time.Time, detail string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET status = 'error', finished_at = $2, error_detail = $3
		 WHERE id = $1 AND status IN ('queued', 'running')`,
		id, finishedAt, detail)
	if err != nil {
		return fmt.Errorf("ジョブの失敗の記録に失敗しました: %w", err)
	}
	return nil
}

// ListBySource はソースのジョブ履歴を新しい順に返す（管理用）。
func (r *PostgresScrapeJobRepo) ListBySource(ctx context.Context, sourceID string, limit int) ([]*model.ScrapeJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source_id, scheduled_at, started_at, finished_at,
		        status, findings, error_detail, created_at
		 FROM scrape_jobs
		 WHERE source_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("ジョブ履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var jobs []*model.ScrapeJob
	for rows.Next() {
		job := &model.ScrapeJob{}
		var startedAt, finishedAt sql.NullTime
		var findings []byte
		var errorDetail sql.NullString

		if err := rows.Scan(
			&job.ID, &job.SourceID, &job.ScheduledAt, &startedAt, &finishedAt,
			&job.Status, &findings, &errorDetail, &job.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ジョブの読み取りに失敗しました: %w", err)
		}

		job.StartedAt = nullTimeValue(startedAt)
		job.FinishedAt = nullTimeValue(finishedAt)
		job.Findings = findings
		job.ErrorDetail = nullStringValue(errorDetail)

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ジョブ履歴の走査に失敗しました: %w", err)
	}

	return jobs, nil
}

// compile-time interface check
var _ ScrapeJobRepository = (*PostgresScrapeJobRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ragedizzer/conwatch/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したスクレイプソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

const sourceColumns = `id, kind, url, convention_id, enabled, checksum, weak_validator,
         last_checked_at, last_changed_at, consecutive_errors, next_check_at,
         created_at, updated_at`

func scanSource(scan func(dest ...any) error) (*model.Source, error) {
	src := &model.Source{}
	var conventionID, checksum, weakValidator sql.NullString
	var lastCheckedAt, lastChangedAt sql.NullTime

	if err := scan(
		&src.ID, &src.Kind, &src.URL, &conventionID, &src.Enabled,
		&checksum, &weakValidator, &lastCheckedAt, &lastChangedAt,
		&src.ConsecutiveErrors, &src.NextCheckAt, &src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if conventionID.Valid {
		id := conventionID.String
		src.ConventionID = &id
	}
	src.Checksum = nullStringValue(checksum)
	src.WeakValidator = nullStringValue(weakValidator)
	src.LastCheckedAt = nullTimeValue(lastCheckedAt)
	src.LastChangedAt = nullTimeValue(lastChangedAt)

	return src, nil
}

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)

	src, err := scanSource(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	return src, nil
}

// FindByURL はURLでソースを検索する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByURL(ctx context.Context, url string) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE url = $1`, url)

	src, err := scanSource(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによるソースの検索に失敗しました: %w", err)
	}
	return src, nil
}

// List は全ソースを返す（管理用）。
func (r *PostgresSourceRepo) List(ctx context.Context) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}

	return collectSources(rows)
}

// Create はソースを作成する。URLの重複は制約違反として返る。
func (r *PostgresSourceRepo) Create(ctx context.Context, src *model.Source) error {
	var conventionID sql.NullString
	if src.ConventionID != nil {
		conventionID = sql.NullString{String: *src.ConventionID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sources (id, kind, url, convention_id, enabled,
		                      checksum, weak_validator, last_checked_at, last_changed_at,
		                      consecutive_errors, next_check_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		src.ID, src.Kind, src.URL, conventionID, src.Enabled,
		nullString(src.Checksum), nullString(src.WeakValidator),
		nullTime(src.LastCheckedAt), nullTime(src.LastChangedAt),
		src.ConsecutiveErrors, src.NextCheckAt, src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return translateConstraint(err, "ソースの作成に失敗しました")
	}
	return nil
}

// SetEnabled はソースの有効/無効を切り替える。
func (r *PostgresSourceRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET enabled = $2, updated_at = now() WHERE id = $1`,
		id, enabled)
	if err != nil {
		return fmt.Errorf("ソースの有効状態の更新に失敗しました: %w", err)
	}
	return nil
}

// ListDueForCheck はチェック対象のソースを取得する。
// enabled = true かつ next_check_at <= now() のソースを
// next_check_at昇順でFOR UPDATE SKIP LOCKEDにより排他的に取得する。
func (r *PostgresSourceRepo) ListDueForCheck(ctx context.Context) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources
		 WHERE enabled AND next_check_at <= now()
		 ORDER BY next_check_at ASC
		 FOR UPDATE SKIP LOCKED`)
	if err != nil {
		return nil, fmt.Errorf("チェック対象ソースの取得に失敗しました: %w", err)
	}

	return collectSources(rows)
}

// UpdateFingerprint はフィンガープリントとチェック時刻を1文で更新する。
// 変更なしの場合（changedAt = nil）はlast_checked_atのみを進め、
// 変更ありの場合はchecksum・weak_validator・last_changed_atも併せて更新する。
// いずれの場合も書き込みは正確に1回。
func (r *PostgresSourceRepo) UpdateFingerprint(ctx context.Context, id, checksum, weakValidator string, changedAt *time.Time, checkedAt time.Time) error {
	var err error
	if changedAt != nil {
		_, err = r.db.ExecContext(ctx,
			`UPDATE sources SET
			    checksum = $2, weak_validator = $3,
			    last_changed_at = $4, last_checked_at = $5, updated_at = now()
			 WHERE id = $1`,
			id, nullString(checksum), nullString(weakValidator), *changedAt, checkedAt)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE sources SET last_checked_at = $2, updated_at = now() WHERE id = $1`,
			id, checkedAt)
	}
	if err != nil {
		return fmt.Errorf("フィンガープリントの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateCheckSchedule は次回チェック時刻と連続エラー回数を更新する。
func (r *PostgresSourceRepo) UpdateCheckSchedule(ctx context.Context, id string, nextCheckAt time.Time, consecutiveErrors int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET next_check_at = $2, consecutive_errors = $3, updated_at = now()
		 WHERE id = $1`,
		id, nextCheckAt, consecutiveErrors)
	if err != nil {
		return fmt.Errorf("チェックスケジュールの更新に失敗しました: %w", err)
	}
	return nil
}

func collectSources(rows *sql.Rows) ([]*model.Source, error) {
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		src, err := scanSource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("ソースの読み取りに失敗しました: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の走査に失敗しました: %w", err)
	}
	return sources, nil
}

// compile-time interface check
var _ SourceRepository = (*PostgresSourceRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ragedizzer/conwatch/internal/model"
)

// PostgresConventionRepo はPostgreSQLを使用したコンベンションリポジトリ。
type PostgresConventionRepo struct {
	db *sql.DB
}

// NewPostgresConventionRepo はPostgresConventionRepoを生成する。
func NewPostgresConventionRepo(db *sql.DB) *PostgresConventionRepo {
	return &PostgresConventionRepo{db: db}
}

const conventionColumns = `id, name, site_url, start_date, end_date,
         next_edition_announced, tags, created_at, updated_at`

// scanConvention は1行分のコンベンションを読み取る。
func scanConvention(scan func(dest ...any) error) (*model.Convention, error) {
	conv := &model.Convention{}
	var startDate, endDate sql.NullTime
	var tags pq.StringArray

	if err := scan(
		&conv.ID, &conv.Name, &conv.SiteURL, &startDate, &endDate,
		&conv.NextEditionAnnounced, &tags, &conv.CreatedAt, &conv.UpdatedAt,
	); err != nil {
		return nil, err
	}

	conv.StartDate = nullTimeValue(startDate)
	conv.EndDate = nullTimeValue(endDate)
	conv.Tags = make([]model.ConventionTag, 0, len(tags))
	for _, t := range tags {
		conv.Tags = append(conv.Tags, model.ConventionTag(t))
	}

	return conv, nil
}

// FindByID は指定IDのコンベンションを取得する。見つからない場合はnilを返す。
func (r *PostgresConventionRepo) FindByID(ctx context.Context, id string) (*model.Convention, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+conventionColumns+` FROM conventions WHERE id = $1`, id)

	conv, err := scanConvention(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コンベンションの取得に失敗しました: %w", err)
	}
	return conv, nil
}

// FindByNameAndSite は(name, site_url)でコンベンションを検索する。見つからない場合はnilを返す。
func (r *PostgresConventionRepo) FindByNameAndSite(ctx context.Context, name, siteURL string) (*model.Convention, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+conventionColumns+` FROM conventions WHERE name = $1 AND site_url = $2`,
		name, siteURL)

	conv, err := scanConvention(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コンベンションの検索に失敗しました: %w", err)
	}
	return conv, nil
}

// Create はコンベンションを作成する。(name, site_url)の重複は制約違反として返る。
func (r *PostgresConventionRepo) Create(ctx context.Context, conv *model.Convention) error {
	tags := make([]string, 0, len(conv.Tags))
	for _, t := range conv.Tags {
		tags = append(tags, string(t))
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conventions (id, name, site_url, start_date, end_date,
		                          next_edition_announced, tags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		conv.ID, conv.Name, conv.SiteURL,
		nullTime(conv.StartDate), nullTime(conv.EndDate),
		conv.NextEditionAnnounced, pq.Array(tags),
		conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return translateConstraint(err, "コンベンションの作成に失敗しました")
	}
	return nil
}

// Update はコンベンション情報を更新する。
func (r *PostgresConventionRepo) Update(ctx context.Context, conv *model.Convention) error {
	tags := make([]string, 0, len(conv.Tags))
	for _, t := range conv.Tags {
		tags = append(tags, string(t))
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE conventions SET
		    name = $2, site_url = $3, start_date = $4, end_date = $5,
		    next_edition_announced = $6, tags = $7, updated_at = now()
		 WHERE id = $1`,
		conv.ID, conv.Name, conv.SiteURL,
		nullTime(conv.StartDate), nullTime(conv.EndDate),
		conv.NextEditionAnnounced, pq.Array(tags),
	)
	if err != nil {
		return translateConstraint(err, "コンベンションの更新に失敗しました")
	}
	return nil
}

// DeleteByID は指定IDのコンベンションを削除する。
// 依存エンティティの処理はスキーマのカスケード規則に従う。
func (r *PostgresConventionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conventions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("コンベンションの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ConventionRepository = (*PostgresConventionRepo)(nil)

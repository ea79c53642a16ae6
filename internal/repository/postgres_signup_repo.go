package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ragedizzer/conwatch/internal/model"
)

// PostgresSignUpWindowRepo はPostgreSQLを使用した申込受付枠リポジトリ。
type PostgresSignUpWindowRepo struct {
	db *sql.DB
}

// NewPostgresSignUpWindowRepo はPostgresSignUpWindowRepoを生成する。
func NewPostgresSignUpWindowRepo(db *sql.DB) *PostgresSignUpWindowRepo {
	return &PostgresSignUpWindowRepo{db: db}
}

const signUpWindowColumns = `id, convention_id, signup_type, link, open_at, close_at,
         status, created_at, updated_at`

func scanSignUpWindow(scan func(dest ...any) error) (*model.SignUpWindow, error) {
	w := &model.SignUpWindow{}
	var link sql.NullString
	var openAt, closeAt sql.NullTime

	if err := scan(
		&w.ID, &w.ConventionID, &w.Type, &link, &openAt, &closeAt,
		&w.Status, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}

	w.Link = nullStringValue(link)
	w.OpenAt = nullTimeValue(openAt)
	w.CloseAt = nullTimeValue(closeAt)

	return w, nil
}

// FindByConventionAndType は(convention_id, signup_type)で申込枠を取得する。
// 見つからない場合はnilを返す。
func (r *PostgresSignUpWindowRepo) FindByConventionAndType(ctx context.Context, conventionID string, t model.SignUpType) (*model.SignUpWindow, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+signUpWindowColumns+` FROM signup_windows
		 WHERE convention_id = $1 AND signup_type = $2`,
		conventionID, t)

	w, err := scanSignUpWindow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("申込枠の取得に失敗しました: %w", err)
	}
	return w, nil
}

// ListByConvention はコンベンションの全申込枠を返す。
func (r *PostgresSignUpWindowRepo) ListByConvention(ctx context.Context, conventionID string) ([]*model.SignUpWindow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+signUpWindowColumns+` FROM signup_windows
		 WHERE convention_id = $1 ORDER BY signup_type`,
		conventionID)
	if err != nil {
		return nil, fmt.Errorf("申込枠一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var windows []*model.SignUpWindow
	for rows.Next() {
		w, err := scanSignUpWindow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("申込枠の読み取りに失敗しました: %w", err)
		}
		windows = append(windows, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("申込枠一覧の走査に失敗しました: %w", err)
	}

	return windows, nil
}

// Create は申込枠を作成する。(convention_id, signup_type)の重複は制約違反として返る。
func (r *PostgresSignUpWindowRepo) Create(ctx context.Context, w *model.SignUpWindow) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO signup_windows (id, convention_id, signup_type, link,
		                             open_at, close_at, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.ConventionID, w.Type, nullString(w.Link),
		nullTime(w.OpenAt), nullTime(w.CloseAt), w.Status,
		w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return translateConstraint(err, "申込枠の作成に失敗しました")
	}
	return nil
}

// Update は申込枠を更新する。
func (r *PostgresSignUpWindowRepo) Update(ctx context.Context, w *model.SignUpWindow) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE signup_windows SET
		    link = $2, open_at = $3, close_at = $4, status = $5, updated_at = now()
		 WHERE id = $1`,
		w.ID, nullString(w.Link), nullTime(w.OpenAt), nullTime(w.CloseAt), w.Status,
	)
	if err != nil {
		return translateConstraint(err, "申込枠の更新に失敗しました")
	}
	return nil
}

// compile-time interface check
var _ SignUpWindowRepository = (*PostgresSignUpWindowRepo)(nil)

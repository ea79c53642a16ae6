package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ragedizzer/conwatch/internal/model"
)

// PostgresWatchRepo はPostgreSQLを使用した監視購読リポジトリ。
type PostgresWatchRepo struct {
	db *sql.DB
}

// NewPostgresWatchRepo はPostgresWatchRepoを生成する。
func NewPostgresWatchRepo(db *sql.DB) *PostgresWatchRepo {
	return &PostgresWatchRepo{db: db}
}

const watchColumns = `id, user_id, convention_id, signup_type, lead_days,
         remind_on_open, remind_before_open, remind_on_event_start,
         created_at, updated_at`

func scanWatch(scan func(dest ...any) error) (*model.WatchSubscription, error) {
	w := &model.WatchSubscription{}
	var signupType sql.NullString
	var leadDays sql.NullInt64

	if err := scan(
		&w.ID, &w.UserID, &w.ConventionID, &signupType, &leadDays,
		&w.RemindOnOpen, &w.RemindBeforeOpen, &w.RemindOnEventStart,
		&w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if signupType.Valid {
		t := model.SignUpType(signupType.String)
		w.SignUpType = &t
	}
	w.LeadDays = nullIntValue(leadDays)

	return w, nil
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *PostgresWatchRepo) FindByID(ctx context.Context, id string) (*model.WatchSubscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+watchColumns+` FROM watch_subscriptions WHERE id = $1`, id)

	w, err := scanWatch(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	return w, nil
}

// ListByTarget は監視対象（コンベンション、任意の申込枠種別）に一致する購読を返す。
// target.SignUpTypeがnilの場合はコンベンション全体監視の購読のみが対象。
// Changesetから導出された対象のみを引くため、購読テーブル全体の走査は発生しない。
func (r *PostgresWatchRepo) ListByTarget(ctx context.Context, target model.WatchTarget) ([]*model.WatchSubscription, error) {
	var rows *sql.Rows
	var err error

	if target.SignUpType == nil {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+watchColumns+` FROM watch_subscriptions
			 WHERE convention_id = $1 AND signup_type IS NULL`,
			target.ConventionID)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+watchColumns+` FROM watch_subscriptions
			 WHERE convention_id = $1 AND signup_type = $2`,
			target.ConventionID, *target.SignUpType)
	}
	if err != nil {
		return nil, fmt.Errorf("監視対象の購読の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectWatches(rows)
}

// ListByUserID はユーザーの購読一覧を返す。
func (r *PostgresWatchRepo) ListByUserID(ctx context.Context, userID string) ([]*model.WatchSubscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+watchColumns+` FROM watch_subscriptions
		 WHERE user_id = $1 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectWatches(rows)
}

func collectWatches(rows *sql.Rows) ([]*model.WatchSubscription, error) {
	var watches []*model.WatchSubscription
	for rows.Next() {
		w, err := scanWatch(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("購読の読み取りに失敗しました: %w", err)
		}
		watches = append(watches, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の走査に失敗しました: %w", err)
	}
	return watches, nil
}

// Create は購読を作成する。(user, convention, signup_type)の重複は制約違反として返る。
func (r *PostgresWatchRepo) Create(ctx context.Context, w *model.WatchSubscription) error {
	var signupType sql.NullString
	if w.SignUpType != nil {
		signupType = sql.NullString{String: string(*w.SignUpType), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO watch_subscriptions (id, user_id, convention_id, signup_type, lead_days,
		                                  remind_on_open, remind_before_open, remind_on_event_start,
		                                  created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.UserID, w.ConventionID, signupType, nullInt(w.LeadDays),
		w.RemindOnOpen, w.RemindBeforeOpen, w.RemindOnEventStart,
		w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return translateConstraint(err, "購読の作成に失敗しました")
	}
	return nil
}

// DeleteByID は指定IDの購読を削除する。リマインダーはCASCADE削除される。
func (r *PostgresWatchRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM watch_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ WatchRepository = (*PostgresWatchRepo)(nil)

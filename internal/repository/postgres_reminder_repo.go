package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ragedizzer/conwatch/internal/model"
)

// PostgresReminderRepo はPostgreSQLを使用したリマインダーリポジトリ。
type PostgresReminderRepo struct {
	db *sql.DB
}

// NewPostgresReminderRepo はPostgresReminderRepoを生成する。
func NewPostgresReminderRepo(db *sql.DB) *PostgresReminderRepo {
	return &PostgresReminderRepo{db: db}
}

const reminderColumns = `id, subscription_id, kind, trigger_at, status, attempts,
         last_error, sent_at, created_at, updated_at`

func scanReminder(scan func(dest ...any) error) (*model.ReminderInstance, error) {
	inst := &model.ReminderInstance{}
	var lastError sql.NullString
	var sentAt sql.NullTime

	if err := scan(
		&inst.ID, &inst.SubscriptionID, &inst.Kind, &inst.TriggerAt,
		&inst.Status, &inst.Attempts, &lastError, &sentAt,
		&inst.CreatedAt, &inst.UpdatedAt,
	); err != nil {
		return nil, err
	}

	inst.LastError = nullStringValue(lastError)
	inst.SentAt = nullTimeValue(sentAt)

	return inst, nil
}

// ListActiveBySubscription は購読のアクティブな（pending/claimed）インスタンスを返す。
func (r *PostgresReminderRepo) ListActiveBySubscription(ctx context.Context, subscriptionID string) ([]*model.ReminderInstance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminder_instances
		 WHERE subscription_id = $1 AND status IN ('pending', 'claimed')`,
		subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("アクティブなリマインダーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectReminders(rows)
}

// SyncForSubscription はあるべきリマインダー集合と現状の差分を1トランザクションで適用する。
// アクティブな行をFOR UPDATEでロックして差分を計算するため、
// 古いインスタンスと新しいインスタンスが同時にpendingで観測される瞬間は存在しない。
func (r *PostgresReminderRepo) SyncForSubscription(ctx context.Context, subscriptionID string, desired []model.DesiredReminder) (int, int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminder_instances
		 WHERE subscription_id = $1 AND status IN ('pending', 'claimed')
		 FOR UPDATE`,
		subscriptionID)
	if err != nil {
		return 0, 0, fmt.Errorf("アクティブなリマインダーのロック取得に失敗しました: %w", err)
	}

	existing, err := collectReminders(rows)
	if err != nil {
		return 0, 0, err
	}

	plan, err := model.PlanReminderSync(existing, desired)
	if err != nil {
		return 0, 0, err
	}
	if plan.Empty() {
		// 差分なし: 書き込みゼロで完了（冪等性の検証点）
		return 0, 0, tx.Commit()
	}

	if len(plan.CancelIDs) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE reminder_instances SET status = 'cancelled', updated_at = now()
			 WHERE id = ANY($1)`,
			pq.Array(plan.CancelIDs),
		); err != nil {
			return 0, 0, fmt.Errorf("リマインダーのキャンセルに失敗しました: %w", err)
		}
	}

	now := time.Now().UTC()
	for _, d := range plan.Creates {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reminder_instances (id, subscription_id, kind, trigger_at,
			                                 status, attempts, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, 'pending', 0, $5, $5)`,
			uuid.NewString(), subscriptionID, d.Kind, d.TriggerAt.UTC(), now,
		); err != nil {
			// 部分一意インデックス違反は原子的なdiff-and-replaceの下では発生し得ない。
			// 検出された場合はプログラミング上の欠陥として分類する。
			if cerr := translateConstraint(err, "リマインダーの作成に失敗しました"); model.IsKind(cerr, model.ErrKindConstraint) {
				return 0, 0, model.NewInvariantViolationError(fmt.Sprintf(
					"購読 %s のkind %s で重複するアクティブなインスタンスを検出しました", subscriptionID, d.Kind))
			}
			return 0, 0, fmt.Errorf("リマインダーの作成に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("リマインダー差分適用のコミットに失敗しました: %w", err)
	}

	return len(plan.Creates), len(plan.CancelIDs), nil
}

// ListDue はtrigger_atが到来したpendingインスタンスをtrigger_at昇順で返す。
// 早い期限から順に処理する公平性をここで保証する。
// 配信コラボレーターに渡すユーザーIDを購読とのJOINで同時に解決する。
func (r *PostgresReminderRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.DueReminder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT r.id, r.subscription_id, r.kind, r.trigger_at, r.status, r.attempts,
		        r.last_error, r.sent_at, r.created_at, r.updated_at, w.user_id
		 FROM reminder_instances r
		 JOIN watch_subscriptions w ON w.id = r.subscription_id
		 WHERE r.status = 'pending' AND r.trigger_at <= $1
		 ORDER BY r.trigger_at ASC
		 LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("配信対象リマインダーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var due []*model.DueReminder
	for rows.Next() {
		inst := &model.ReminderInstance{}
		var lastError sql.NullString
		var sentAt sql.NullTime
		var userID string

		if err := rows.Scan(
			&inst.ID, &inst.SubscriptionID, &inst.Kind, &inst.TriggerAt,
			&inst.Status, &inst.Attempts, &lastError, &sentAt,
			&inst.CreatedAt, &inst.UpdatedAt, &userID,
		); err != nil {
			return nil, fmt.Errorf("配信対象リマインダーの読み取りに失敗しました: %w", err)
		}

		inst.LastError = nullStringValue(lastError)
		inst.SentAt = nullTimeValue(sentAt)
		due = append(due, &model.DueReminder{Instance: inst, UserID: userID})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("配信対象リマインダーの走査に失敗しました: %w", err)
	}

	return due, nil
}

// Claim はpending→claimedのCAS遷移を試みる。
// WHERE句のstatus条件により、複数ワーカーが同時に呼んでも勝者は1つだけになる。
func (r *PostgresReminderRepo) Claim(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reminder_instances SET status = 'claimed', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id)
	if err != nil {
		return false, fmt.Errorf("リマインダーの確保に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("確保結果の取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// RequeueStaleClaims は確保されたまま放置されたインスタンスをpendingへ戻す。
// claimedはListDueの選択対象外のため、救済しない限り二度と配信されない。
func (r *PostgresReminderRepo) RequeueStaleClaims(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reminder_instances SET status = 'pending', updated_at = now()
		 WHERE status = 'claimed' AND updated_at < $1`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("放置されたclaimedインスタンスの復帰に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("復帰件数の取得に失敗しました: %w", err)
	}

	return int(affected), nil
}

// MarkSent は配信完了を記録する。
func (r *PostgresReminderRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE reminder_instances SET status = 'sent', sent_at = $2, updated_at = now()
		 WHERE id = $1 AND status = 'claimed'`,
		id, sentAt)
	if err != nil {
		return fmt.Errorf("配信完了の記録に失敗しました: %w", err)
	}
	return nil
}

// MarkDeliveryFailure は配信失敗を記録する。
// finalがfalseの場合はattemptsを加算してpendingへ戻し、次回の配信サイクルで再試行される。
// trueの場合は終端状態failedへ遷移し、以後再試行されない。
func (r *PostgresReminderRepo) MarkDeliveryFailure(ctx context.Context, id string, lastError string, final bool) error {
	status := "pending"
	if final {
		status = "failed"
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE reminder_instances SET
		    status = $2, attempts = attempts + 1, last_error = $3, updated_at = now()
		 WHERE id = $1 AND status = 'claimed'`,
		id, status, lastError)
	if err != nil {
		return fmt.Errorf("配信失敗の記録に失敗しました: %w", err)
	}
	return nil
}

func collectReminders(rows *sql.Rows) ([]*model.ReminderInstance, error) {
	defer rows.Close()

	var instances []*model.ReminderInstance
	for rows.Next() {
		inst, err := scanReminder(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("リマインダーの読み取りに失敗しました: %w", err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("リマインダー一覧の走査に失敗しました: %w", err)
	}
	return instances, nil
}

// compile-time interface check
var _ ReminderRepository = (*PostgresReminderRepo)(nil)

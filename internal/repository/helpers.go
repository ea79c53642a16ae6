package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/ragedizzer/conwatch/internal/model"
)

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullTimeValue はsql.NullTimeから*time.Timeを取得する。
func nullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// nullInt は*intをsql.NullInt64に変換する。
func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// nullIntValue はsql.NullInt64から*intを取得する。
func nullIntValue(ni sql.NullInt64) *int {
	if ni.Valid {
		i := int(ni.Int64)
		return &i
	}
	return nil
}

// translateConstraint はPostgreSQLの整合性制約違反（SQLSTATEクラス23）を
// 分類付きのドメインエラーに変換する。制約違反でない場合は元のエラーをそのまま返す。
// 制約違反はワーカーをクラッシュさせず、該当操作の失敗として扱う。
func translateConstraint(err error, msg string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return model.NewConstraintError(msg, err)
	}
	return err
}

// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はコアのエラー分類を表す。
// 永続層の制約違反を含むすべてのエラーは、ワーカーをクラッシュさせずに
// このいずれかの分類に変換される。
type ErrorKind string

const (
	// ErrKindTransientSource はネットワーク障害・タイムアウト等の一時的なソースエラー。
	// 次回の通常スケジュールでリトライされ、リマインダーには影響しない。
	ErrKindTransientSource ErrorKind = "transient_source"
	// ErrKindExtraction は抽出コラボレーターのパース失敗。
	// ジョブに記録され、ソースは直前の既知状態のまま保たれる。
	ErrKindExtraction ErrorKind = "extraction"
	// ErrKindConstraint は永続層の一意性・外部キー制約違反。
	// 該当操作のみが失敗し、呼び出し元で捕捉される。
	ErrKindConstraint ErrorKind = "constraint"
	// ErrKindInvariant は不変条件違反（同一kindのアクティブな重複インスタンス等）。
	// 設計上発生し得ないため、検出された場合はプログラミング上の欠陥を示す。
	ErrKindInvariant ErrorKind = "invariant"
	// ErrKindDelivery は配信コラボレーターの失敗。上限付きでリトライされる。
	ErrKindDelivery ErrorKind = "delivery"
	// ErrKindNotFound は対象エンティティの不在。
	ErrKindNotFound ErrorKind = "not_found"
)

// DomainError は分類付きのドメインエラー。
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap はラップされた原因エラーを返す。
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewTransientSourceError は一時的なソースエラーを生成する。
func NewTransientSourceError(msg string, err error) *DomainError {
	return &DomainError{Kind: ErrKindTransientSource, Message: msg, Err: err}
}

// NewExtractionError は抽出失敗エラーを生成する。
func NewExtractionError(msg string, err error) *DomainError {
	return &DomainError{Kind: ErrKindExtraction, Message: msg, Err: err}
}

// NewConstraintError は永続層の制約違反エラーを生成する。
func NewConstraintError(msg string, err error) *DomainError {
	return &DomainError{Kind: ErrKindConstraint, Message: msg, Err: err}
}

// NewInvariantViolationError は不変条件違反エラーを生成する。
func NewInvariantViolationError(msg string) *DomainError {
	return &DomainError{Kind: ErrKindInvariant, Message: msg}
}

// NewDeliveryError は配信失敗エラーを生成する。
func NewDeliveryError(msg string, err error) *DomainError {
	return &DomainError{Kind: ErrKindDelivery, Message: msg, Err: err}
}

// NewNotFoundError は対象不在エラーを生成する。
func NewNotFoundError(msg string) *DomainError {
	return &DomainError{Kind: ErrKindNotFound, Message: msg}
}

// KindOf はエラーの分類を返す。DomainErrorでない場合は空文字を返す。
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind はエラーが指定分類かどうかを返す。
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

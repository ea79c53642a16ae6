// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はスクレイプで抽出した文字列（告知文・ステータス等）を
// プレーンテキストへサニタイズし、XSS攻撃などのセキュリティリスクから
// ユーザーを保護する。抽出結果はHTMLとして扱う必要がないため、
// bluemondayのStrictPolicyで全タグを除去する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は抽出テキストのサニタイズ機能のインターフェースを定義する。
// 抽出結果の保存前（Conventions / SignUpWindowsへの反映時）に使用される。
type TextSanitizerService interface {
	// Sanitize は入力文字列からHTMLタグを全て除去し、前後の空白を取り除いて返す。
	// script, iframe, style を含む全てのタグとその属性が除去される。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを一切持たないため、入力はプレーンテキストに正規化される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力文字列からHTMLタグを除去してプレーンテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/ragedizzer/conwatch/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:    code,
		Message: message,
	})
}

// WriteDomainError はドメインエラーの種別をHTTPステータスへ対応付けて書き込む。
// 内部エラーの詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteDomainError(w http.ResponseWriter, err error) {
	switch model.KindOf(err) {
	case model.ErrKindNotFound:
		WriteErrorResponse(w, http.StatusNotFound, "not_found", "対象が見つかりません。")
	case model.ErrKindConstraint:
		WriteErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	default:
		WriteInternalServerError(w)
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, "internal_error", "内部エラーが発生しました。しばらく待ってから再度お試しください。")
}

package middleware

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/hitoshi/minglemood/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Category string            `json:"category"`
	Action   string            `json:"action"`
	Fields   map[string]string `json:"fields,omitempty"`
	Support  string            `json:"support,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeErrorBody(w, statusCode, ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Fields:   apiErr.Fields,
	})
}

// WriteInternalServerError は予期しないエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには再読み込みの案内とサポート窓口を返す。
func WriteInternalServerError(w http.ResponseWriter, supportEmail string) {
	body := ErrorResponseBody{
		Code:     model.ErrCodeInternal,
		Message:  "問題が発生しました。",
		Category: "system",
		Action:   "ページを再読み込みしてください。解決しない場合はサポートへご連絡ください。",
	}
	if supportEmail != "" {
		body.Support = (&url.URL{Scheme: "mailto", Opaque: supportEmail}).String()
	}
	writeErrorBody(w, http.StatusInternalServerError, body)
}

func writeErrorBody(w http.ResponseWriter, statusCode int, body ErrorResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

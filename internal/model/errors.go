// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, network, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // 入力検証エラーのフィールド別メッセージ（インライン表示用）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeSessionExpired      = "SESSION_EXPIRED"
	ErrCodeMetadataParseFailed = "METADATA_PARSE_FAILED"
	ErrCodeBackendUnavailable  = "BACKEND_UNAVAILABLE"
	ErrCodeBackendRejected     = "BACKEND_REJECTED"
	ErrCodeSurveyNotStarted    = "SURVEY_NOT_STARTED"
	ErrCodeUnknownSurveyField  = "UNKNOWN_SURVEY_FIELD"
	ErrCodeEventNotFound       = "EVENT_NOT_FOUND"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// ErrMetadataParse はIdPのメタデータを型付きレコードに変換できなかったことを表す。
// 回復可能なエラーとして扱い、セッションのフラグ導出は継続する。
var ErrMetadataParse = errors.New("metadata parse failed")

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewInvalidRequestError はリクエストボディ解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewValidationError は入力検証エラーを生成する。
// fieldsにはフィールド名ごとのメッセージを渡す。
func NewValidationError(fields map[string]string) *APIError {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", strings.Join(names, ", ")),
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Fields:   fields,
	}
}

// NewInvalidCredentialsError はサインイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewSessionExpiredError はリフレッシュトークン失効によるセッション切れエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れました。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewMetadataParseError はメタデータ解析失敗エラーを生成する。
func NewMetadataParseError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMetadataParseFailed,
		Message:  fmt.Sprintf("保存されたプロフィール情報を読み込めませんでした: %s", field),
		Category: "system",
		Action:   "お手数ですがプロフィールを再入力するか、サポートへご連絡ください。",
	}
}

// NewBackendUnavailableError はバックエンド呼び出しのネットワーク失敗エラーを生成する。
func NewBackendUnavailableError(endpoint string) *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnavailable,
		Message:  fmt.Sprintf("サーバーに接続できませんでした: %s", endpoint),
		Category: "network",
		Action:   "通信環境を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewBackendRejectedError はバックエンドが2xx以外を返した場合のエラーを生成する。
func NewBackendRejectedError(endpoint string, status int, detail string) *APIError {
	msg := fmt.Sprintf("サーバーがエラーを返しました (%s, status %d)", endpoint, status)
	if detail != "" {
		msg += ": " + detail
	}
	return &APIError{
		Code:     ErrCodeBackendRejected,
		Message:  msg,
		Category: "network",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSurveyNotStartedError はアンケートが開始されていない場合のエラーを生成する。
func NewSurveyNotStartedError() *APIError {
	return &APIError{
		Code:     ErrCodeSurveyNotStarted,
		Message:  "アンケートが開始されていません。",
		Category: "validation",
		Action:   "メニューから「Preferences Survey」を開いてください。",
	}
}

// NewUnknownSurveyFieldError は存在しないアンケート項目が指定された場合のエラーを生成する。
func NewUnknownSurveyFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownSurveyField,
		Message:  fmt.Sprintf("不明なアンケート項目です: %s", field),
		Category: "validation",
		Action:   "項目名を確認してください。",
	}
}

// NewEventNotFoundError はイベントが見つからない場合のエラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("指定されたイベントが見つかりません: %s", eventID),
		Category: "validation",
		Action:   "イベント一覧を再読み込みしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "メールアドレスを確認してください。",
	}
}

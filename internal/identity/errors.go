package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRefreshToken はリフレッシュトークンが無効・失効・使用済みであることを表す。
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しないことを表す。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoSession は操作にログイン中のセッションが必要なのに存在しないことを表す。
	ErrNoSession = errors.New("no active session")
)

// AuthError はIdPが返したエラーレスポンスを表す。
type AuthError struct {
	Status  int    // HTTPステータスコード
	Code    string // error_code（新しいIdP）またはerror（OAuth形式）
	Message string // msg / error_description / 平文ボディ
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider error (status %d, %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider error (status %d): %s", e.Status, e.Message)
}

// refreshTokenErrorCodes はリフレッシュトークン失効を示す構造化エラーコード。
var refreshTokenErrorCodes = map[string]bool{
	"refresh_token_not_found":    true,
	"refresh_token_already_used": true,
	"session_expired":            true,
	"session_not_found":          true,
}

// refreshTokenErrorPhrases は構造化コードを返さない古いIdP向けの互換シム。
// メッセージの部分一致でのみ判定する。
var refreshTokenErrorPhrases = []string{
	"invalid refresh token",
	"refresh token not found",
}

// isRefreshTokenRejection はIdPのエラー応答がリフレッシュトークンの拒否を表すかを判定する。
// 400/401/403以外（429や408など）は一時的な失敗としてサインアウトの対象にしない。
func isRefreshTokenRejection(e *AuthError) bool {
	switch e.Status {
	case 400, 401, 403:
	default:
		return false
	}
	if e.Code == "invalid_grant" || strings.HasPrefix(e.Code, "refresh_token_") || refreshTokenErrorCodes[e.Code] {
		return true
	}
	msg := strings.ToLower(e.Message)
	for _, phrase := range refreshTokenErrorPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// IsRefreshTokenError はエラーがリフレッシュトークン失効に起因するかを判定する。
// 判定順序: センチネルエラー → 構造化エラーコード → メッセージ部分一致。
func IsRefreshTokenError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidRefreshToken) {
		return true
	}

	var authErr *AuthError
	if errors.As(err, &authErr) && refreshTokenErrorCodes[authErr.Code] {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range refreshTokenErrorPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultLeeway はアクセストークンの有効期限判定に持たせる余裕。
// 期限直前のトークンはリフレッシュ対象とする。
const defaultLeeway = 30 * time.Second

var (
	// ErrTokenExpired はアクセストークンの有効期限が切れていることを表す。
	ErrTokenExpired = errors.New("access token expired")
	// ErrTokenInvalid はアクセストークンが不正であることを表す。
	ErrTokenInvalid = errors.New("access token invalid")
)

// AccessClaims はIdPが発行するアクセストークンのクレーム。
type AccessClaims struct {
	Email     string `json:"email"`
	SessionID string `json:"session_id,omitempty"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier はアクセストークンを検証し、期限切れかどうかを判定する。
// 署名鍵が未設定の場合は署名を検証せずにクレームのみ読む（有効性の最終判断はIdPの/userに委ねる）。
type TokenVerifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// NewTokenVerifier はTokenVerifierを生成する。
func NewTokenVerifier(secret string) *TokenVerifier {
	v := &TokenVerifier{
		leeway: defaultLeeway,
		now:    time.Now,
	}
	if secret != "" {
		v.secret = []byte(secret)
	}
	return v
}

// Verify はトークンを解析してクレームを返す。
// 期限切れ（余裕を含む）の場合はErrTokenExpiredを返す。
func (v *TokenVerifier) Verify(token string) (*AccessClaims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	claims := &AccessClaims{}
	if v.secret == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, mapJWTError(err)
		}
	} else {
		_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return v.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
		if err != nil {
			return nil, mapJWTError(err)
		}
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrTokenInvalid)
	}
	if !v.now().Add(v.leeway).Before(claims.ExpiresAt.Time) {
		return claims, ErrTokenExpired
	}
	return claims, nil
}

// mapJWTError はjwtライブラリのエラーをパッケージのエラーに変換する。
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

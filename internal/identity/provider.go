// Package identity は外部IdP（GoTrue互換の認証サーバー）との連携を提供する。
// ステートレスなREST呼び出し（Provider）と、トークンを保持して認証状態の変化を通知する
// ステートフルなクライアント（Client）を含む。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/minglemood/internal/model"
)

// maxResponseSize はIdPレスポンスの最大読み取りサイズ（1MB）。
const maxResponseSize = 1 << 20

// ProviderConfig はIdPクライアントの設定。
type ProviderConfig struct {
	BaseURL    string // 例: https://xyz.supabase.co/auth/v1
	AnonKey    string // 公開匿名キー。apikeyヘッダーとして常に送る
	HTTPClient *http.Client
}

// AuthSession はIdPが発行したトークンとユーザーの組。
type AuthSession struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         *model.Identity
}

// Provider はIdPのREST APIクライアント。状態を持たない。
type Provider struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

// NewProvider はProviderを生成する。
func NewProvider(config ProviderConfig) *Provider {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Provider{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		anonKey:    config.AnonKey,
		httpClient: httpClient,
	}
}

// tokenResponse は/tokenおよび/signupのレスポンス。
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
	User         *userJSON `json:"user"`
}

// userJSON はIdPのユーザー表現。
type userJSON struct {
	ID           string                     `json:"id"`
	Email        string                     `json:"email"`
	UserMetadata map[string]json.RawMessage `json:"user_metadata"`
}

// errorResponse はIdPのエラーレスポンス。新旧両方の形式を受け付ける。
type errorResponse struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*AuthSession, error) {
	var resp tokenResponse
	err := p.do(ctx, http.MethodPost, "/token?grant_type=password", "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) && (authErr.Status == http.StatusBadRequest || authErr.Status == http.StatusUnauthorized) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	return toAuthSession(&resp)
}

// SignUp は新規ユーザーを登録する。
// IdPがメール確認を要求する設定の場合、セッションは発行されずUserのみが返る。
func (p *Provider) SignUp(ctx context.Context, email, password string, data map[string]any) (*AuthSession, *model.Identity, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(data) > 0 {
		body["data"] = data
	}

	var raw json.RawMessage
	if err := p.do(ctx, http.MethodPost, "/signup", "", body, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to sign up: %w", err)
	}

	// セッション付きレスポンスとユーザー単体レスポンスの両方があり得る
	var resp tokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("failed to parse sign up response: %w", err)
	}
	if resp.AccessToken != "" {
		session, err := toAuthSession(&resp)
		if err != nil {
			return nil, nil, err
		}
		return session, session.User, nil
	}

	var user userJSON
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, nil, fmt.Errorf("failed to parse sign up user: %w", err)
	}
	if user.ID == "" {
		return nil, nil, fmt.Errorf("empty user id in sign up response")
	}
	return nil, toIdentity(&user), nil
}

// RefreshSession はリフレッシュトークンで新しいセッションを取得する。
// IdPがトークンを拒否した場合（400/401/403かつトークン失効を示すコードまたはメッセージ）のみ
// ErrInvalidRefreshTokenでラップする。レート制限などそれ以外のAuthErrorはそのまま返す。
func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (*AuthSession, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: empty refresh token", ErrInvalidRefreshToken)
	}

	var resp tokenResponse
	err := p.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", map[string]string{
		"refresh_token": refreshToken,
	}, &resp)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) && isRefreshTokenRejection(authErr) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return toAuthSession(&resp)
}

// GetUser はアクセストークンに対応するユーザーを取得する。
func (p *Provider) GetUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	var user userJSON
	if err := p.do(ctx, http.MethodGet, "/user", accessToken, nil, &user); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("empty user id in user response")
	}
	return toIdentity(&user), nil
}

// UpdateUserMetadata はユーザーメタデータにpatchをマージするよう要求する。
// マージはIdP側で行われ、更新後のユーザーが返る。
func (p *Provider) UpdateUserMetadata(ctx context.Context, accessToken string, patch map[string]any) (*model.Identity, error) {
	var user userJSON
	if err := p.do(ctx, http.MethodPut, "/user", accessToken, map[string]any{"data": patch}, &user); err != nil {
		return nil, fmt.Errorf("failed to update user metadata: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("empty user id in update response")
	}
	return toIdentity(&user), nil
}

// Logout はIdP側のセッションを失効させる。
func (p *Provider) Logout(ctx context.Context, accessToken string) error {
	if err := p.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

// Health はIdPの死活確認を行う。
func (p *Provider) Health(ctx context.Context) error {
	if err := p.do(ctx, http.MethodGet, "/health", "", nil, nil); err != nil {
		return fmt.Errorf("identity provider health check failed: %w", err)
	}
	return nil
}

// do はIdPへのHTTPリクエストを実行し、レスポンスをoutにデコードする。
// accessTokenが空の場合は匿名キーをBearerとして送る。
func (p *Provider) do(ctx context.Context, method, path, accessToken string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	endpoint, err := url.Parse(p.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid identity endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	bearer := accessToken
	if bearer == "" {
		bearer = p.anonKey
	}
	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to identity provider failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read identity response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAuthError(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse identity response: %w", err)
	}
	return nil
}

// parseAuthError はエラーレスポンスをAuthErrorに変換する。
// JSONでない場合は平文ボディをメッセージとして扱う。
func parseAuthError(status int, body []byte) *AuthError {
	authErr := &AuthError{Status: status}

	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		authErr.Message = strings.TrimSpace(string(body))
		return authErr
	}

	authErr.Code = er.ErrorCode
	if authErr.Code == "" {
		authErr.Code = er.Error
	}
	for _, m := range []string{er.Msg, er.ErrorDescription, er.Message} {
		if m != "" {
			authErr.Message = m
			break
		}
	}
	if authErr.Message == "" {
		authErr.Message = http.StatusText(status)
	}
	return authErr
}

// toAuthSession はトークンレスポンスをAuthSessionに変換する。
func toAuthSession(resp *tokenResponse) (*AuthSession, error) {
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}
	if resp.User == nil || resp.User.ID == "" {
		return nil, fmt.Errorf("empty user in token response")
	}

	expiresAt := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	if resp.ExpiresAt > 0 {
		expiresAt = time.Unix(resp.ExpiresAt, 0)
	}

	return &AuthSession{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         toIdentity(resp.User),
	}, nil
}

func toIdentity(u *userJSON) *model.Identity {
	return model.NewIdentity(u.ID, u.Email, u.UserMetadata)
}

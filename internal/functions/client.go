// Package functions はサーバーレスFunction（管理API・イベント・通知）のクライアントを提供する。
// すべての呼び出しはBearerトークン付きのJSONリクエストで、再試行は行わない。
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/minglemood/internal/metrics"
	"github.com/hitoshi/minglemood/internal/model"
)

// Functionのエンドポイント。
const (
	EndpointAdminStats       = "/admin/stats"
	EndpointAdminUsers       = "/admin/users"
	EndpointAdminEvents      = "/admin/events"
	EndpointAdminEmailLogs   = "/admin/email-logs"
	EndpointAdminDeleteUser  = "/admin/delete-user"
	EndpointEvents           = "/events"
	EndpointRSVP             = "/rsvp-event"
	EndpointSignup           = "/signup"
	EndpointProfileCompleted = "/profile-completed"
	EndpointSurveyCompleted  = "/survey-completed"
	EndpointHealth           = "/health"
)

const (
	// maxResponseSize はレスポンスの最大読み取りサイズ（2MB）。
	maxResponseSize = 2 << 20
	// maxErrorDetail はエラーメッセージに含めるボディの最大文字数。
	maxErrorDetail = 200
)

// CallError はFunctionが2xx以外を返したことを表す。
type CallError struct {
	Endpoint string
	Status   int
	Detail   string
}

// Error はerrorインターフェースを実装する。
func (e *CallError) Error() string {
	return fmt.Sprintf("function %s returned status %d: %s", e.Endpoint, e.Status, e.Detail)
}

// TransportError はFunctionに到達できなかったことを表す。
type TransportError struct {
	Endpoint string
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *TransportError) Error() string {
	return fmt.Sprintf("function %s unreachable: %v", e.Endpoint, e.Err)
}

// Unwrap は下位エラーを返す。
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ToAPIError はFunction呼び出しのエラーをユーザー向けのAPIErrorに変換する。
// 既にAPIErrorの場合やFunction由来でないエラーはそのまま返す。
func ToAPIError(err error) error {
	var callErr *CallError
	if errors.As(err, &callErr) {
		if callErr.Status == http.StatusUnauthorized {
			return model.NewUnauthorizedError()
		}
		if callErr.Status == http.StatusForbidden {
			return model.NewForbiddenError()
		}
		return model.NewBackendRejectedError(callErr.Endpoint, callErr.Status, callErr.Detail)
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return model.NewBackendUnavailableError(transportErr.Endpoint)
	}
	return err
}

// Config はClientの設定。
type Config struct {
	BaseURL    string // 例: https://xyz.supabase.co/functions/v1/make-server
	AnonKey    string // ログインしていない呼び出しで使う公開匿名キー
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    metrics.MetricsCollector
}

// Client はサーバーレスFunctionのクライアント。
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	newID      func() string // テスト用にリクエストID生成を差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		anonKey:    cfg.AnonKey,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		newID:      uuid.NewString,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop{}
	}
	return c
}

// AdminStats は管理ダッシュボードの集計値を取得する。
func (c *Client) AdminStats(ctx context.Context, accessToken string) (*AdminStats, error) {
	var out AdminStats
	if err := c.call(ctx, http.MethodGet, EndpointAdminStats, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminUsers は会員一覧を取得する。
func (c *Client) AdminUsers(ctx context.Context, accessToken string) ([]Member, error) {
	var out struct {
		Users []Member `json:"users"`
	}
	if err := c.call(ctx, http.MethodGet, EndpointAdminUsers, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// AdminEvents は管理用のイベント一覧を取得する。
func (c *Client) AdminEvents(ctx context.Context, accessToken string) ([]Event, error) {
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.call(ctx, http.MethodGet, EndpointAdminEvents, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// AdminEmailLogs はメール送信履歴を取得する。
func (c *Client) AdminEmailLogs(ctx context.Context, accessToken string) ([]EmailLog, error) {
	var out struct {
		Logs []EmailLog `json:"logs"`
	}
	if err := c.call(ctx, http.MethodGet, EndpointAdminEmailLogs, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// DeleteUser はメールアドレスで指定した会員をバックエンドから削除する。
func (c *Client) DeleteUser(ctx context.Context, accessToken string, req DeleteUserRequest) (*DeleteUserResult, error) {
	var out DeleteUserResult
	if err := c.call(ctx, http.MethodPost, EndpointAdminDeleteUser, accessToken, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events は会員向けのイベント一覧を取得する。
func (c *Client) Events(ctx context.Context, accessToken string) ([]Event, error) {
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.call(ctx, http.MethodGet, EndpointEvents, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// RSVP はイベントへの参加を登録する。
func (c *Client) RSVP(ctx context.Context, accessToken string, req RSVPRequest) (*RSVPResult, error) {
	var out RSVPResult
	if err := c.call(ctx, http.MethodPost, EndpointRSVP, accessToken, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NotifySignup は新規登録を通知する。
func (c *Client) NotifySignup(ctx context.Context, accessToken string, n SignupNotification) error {
	return c.call(ctx, http.MethodPost, EndpointSignup, accessToken, n, nil)
}

// NotifyProfileCompleted はプロフィール入力完了を通知する。
func (c *Client) NotifyProfileCompleted(ctx context.Context, accessToken string, n ProfileCompletedNotification) error {
	return c.call(ctx, http.MethodPost, EndpointProfileCompleted, accessToken, n, nil)
}

// NotifySurveyCompleted はアンケート送信を通知する。
func (c *Client) NotifySurveyCompleted(ctx context.Context, accessToken string, n SurveyCompletedNotification) error {
	return c.call(ctx, http.MethodPost, EndpointSurveyCompleted, accessToken, n, nil)
}

// Health はFunctionの死活確認を行う。匿名キーで呼び出す。
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, EndpointHealth, "", nil, nil)
}

// call はFunctionを呼び出し、2xxの場合はレスポンスをoutへデコードする。
// accessTokenが空の場合は匿名キーをBearerとして送る。
func (c *Client) call(ctx context.Context, method, endpoint, accessToken string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	bearer := accessToken
	if bearer == "" {
		bearer = c.anonKey
	}
	requestID := c.newID()
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordFunctionCall(endpoint, 0, time.Since(start))
		c.logger.Error("Functionの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()
	c.metrics.RecordFunctionCall(endpoint, resp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := errorDetail(respBody)
		c.logger.Warn("Functionがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.Int("http_status", resp.StatusCode),
			slog.String("detail", detail),
		)
		return &CallError{Endpoint: endpoint, Status: resp.StatusCode, Detail: detail}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		c.logger.Error("Functionのレスポンスのパースに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("レスポンスJSONのパースに失敗しました (%s): %w", endpoint, err)
	}
	return nil
}

// errorDetail はエラーボディから表示用のメッセージを取り出す。
// JSONの error / message フィールドを優先し、なければ平文を切り詰めて使う。
func errorDetail(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	detail := strings.TrimSpace(string(body))
	if r := []rune(detail); len(r) > maxErrorDetail {
		detail = string(r[:maxErrorDetail]) + "..."
	}
	return detail
}

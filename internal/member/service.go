// Package member は会員の削除と接続確認の診断ツールを提供する。
package member

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/hitoshi/minglemood/internal/functions"
	"github.com/hitoshi/minglemood/internal/model"
)

// 接続確認の対象。
const (
	CheckIdentity  = "identity"
	CheckFunctions = "functions"
)

// UserDeleter はバックエンドの会員削除。*functions.Client が実装する。
type UserDeleter interface {
	DeleteUser(ctx context.Context, accessToken string, req functions.DeleteUserRequest) (*functions.DeleteUserResult, error)
}

// SessionDeleter はブラウザセッションの一括削除インターフェース。
type SessionDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// HealthChecker は外部サービスの死活確認。
// *identity.Provider と *functions.Client が実装する。
type HealthChecker interface {
	Health(ctx context.Context) error
}

// CheckResult は1つの接続先の確認結果。
type CheckResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// BackendReport は接続確認の結果一覧。
type BackendReport struct {
	OK     bool          `json:"ok"`
	Checks []CheckResult `json:"checks"`
}

// Service は会員向け診断ツールのサービス層。
type Service struct {
	deleter  UserDeleter
	sessions SessionDeleter
	checks   []namedCheck
	logger   *slog.Logger
}

type namedCheck struct {
	name    string
	checker HealthChecker
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(deleter UserDeleter, sessions SessionDeleter, identity, fns HealthChecker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deleter:  deleter,
		sessions: sessions,
		checks: []namedCheck{
			{name: CheckIdentity, checker: identity},
			{name: CheckFunctions, checker: fns},
		},
		logger: logger,
	}
}

// DeleteUser はメールアドレスで指定した会員をバックエンドから削除し、
// その会員のブラウザセッションもすべて削除する。
func (s *Service) DeleteUser(ctx context.Context, accessToken, email string) (*functions.DeleteUserResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, model.NewValidationError(map[string]string{"email": "メールアドレスの形式が正しくありません"})
	}

	s.logger.Info("会員の削除を開始します",
		slog.String("email", email),
	)

	result, err := s.deleter.DeleteUser(ctx, accessToken, functions.DeleteUserRequest{Email: email})
	if err != nil {
		return nil, functions.ToAPIError(err)
	}
	if !result.Deleted {
		return nil, model.NewUserNotFoundError()
	}

	if result.UserID != "" && s.sessions != nil {
		if err := s.sessions.DeleteByUserID(ctx, result.UserID); err != nil {
			return nil, fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	s.logger.Info("会員の削除が完了しました",
		slog.String("email", email),
		slog.String("user_id", result.UserID),
	)
	return result, nil
}

// BackendTest はIdPとFunctionの死活確認を順に行う。
// 失敗してもエラーは返さず、結果に記録する。
func (s *Service) BackendTest(ctx context.Context) *BackendReport {
	report := &BackendReport{OK: true}
	for _, c := range s.checks {
		if c.checker == nil {
			continue
		}
		start := time.Now()
		err := c.checker.Health(ctx)
		result := CheckResult{
			Name:      c.name,
			OK:        err == nil,
			LatencyMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			result.Error = err.Error()
			report.OK = false
			s.logger.Warn("接続確認に失敗しました",
				slog.String("target", c.name),
				slog.String("error", err.Error()),
			)
		}
		report.Checks = append(report.Checks, result)
	}
	return report
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/minglemood/internal/functions"
	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/model"
	"github.com/hitoshi/minglemood/internal/onboarding"
	"github.com/hitoshi/minglemood/internal/session"
)

// SignupNotifier は新規登録の通知先。*functions.Client が実装する。
type SignupNotifier interface {
	NotifySignup(ctx context.Context, accessToken string, n functions.SignupNotification) error
}

var _ SignupNotifier = (*functions.Client)(nil)

// AuthHandler はサインイン・サインアップ・サインアウトのHTTPハンドラー。
type AuthHandler struct {
	responder
	notifier SignupNotifier
}

// NewAuthHandler はAuthHandlerを生成する。notifierがnilの場合は登録通知を送らない。
func NewAuthHandler(notifier SignupNotifier, supportEmail string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		responder: newResponder(supportEmail, logger),
		notifier:  notifier,
	}
}

// signInRequest はサインインリクエストのボディ。
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// signUpRequest はサインアップリクエストのボディ。
type signUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// signUpResponse はサインアップのAPIレスポンス。
// メール確認が必要な場合はセッションは未ログインのまま返る。
type signUpResponse struct {
	UserID               string          `json:"user_id"`
	Email                string          `json:"email"`
	ConfirmationRequired bool            `json:"confirmation_required"`
	Session              sessionResponse `json:"session"`
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}

	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		h.handleServiceError(w, r, model.NewValidationError(map[string]string{
			"credentials": "メールアドレスとパスワードを入力してください",
		}))
		return
	}

	state, err := m.Sync.SignIn(r.Context(), email, req.Password)
	if err != nil {
		h.handleServiceError(w, r, toIdentityAPIError(err))
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(state))
}

// SignUp は新規登録する。入力は登録前に検証し、登録後はウェルカム通知を送る。
// 通知の失敗は登録の成否に影響しない。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}

	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	if fields := onboarding.ValidateSignup(req.Email, req.Password, req.FirstName); len(fields) > 0 {
		h.handleServiceError(w, r, model.NewValidationError(fields))
		return
	}

	data := map[string]any{"first_name": req.FirstName}
	if req.LastName != "" {
		data["last_name"] = req.LastName
	}
	state, user, err := m.Sync.SignUp(r.Context(), req.Email, req.Password, data)
	if err != nil {
		h.handleServiceError(w, r, toIdentityAPIError(err))
		return
	}

	h.notifySignup(r.Context(), m, user, req)

	writeJSON(w, http.StatusCreated, signUpResponse{
		UserID:               user.ID,
		Email:                user.Email,
		ConfirmationRequired: !state.Session.Authenticated(),
		Session:              toSessionResponse(state),
	})
}

// Logout はサインアウトする。IdPの失敗にかかわらず認証情報は削除される。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}
	m.Sync.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のセッション状態を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}
	state := m.State()
	if !state.Session.Authenticated() {
		h.handleServiceError(w, r, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(state))
}

func (h *AuthHandler) notifySignup(ctx context.Context, m *session.Mount, user *model.Identity, req signUpRequest) {
	if h.notifier == nil || user == nil {
		return
	}
	token, err := m.AccessToken(ctx)
	if err == nil {
		err = h.notifier.NotifySignup(ctx, token, functions.SignupNotification{
			UserID:    user.ID,
			Email:     user.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		})
	}
	if err != nil {
		h.logger.Warn("新規登録の通知に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

// toIdentityAPIError はIdPのエラーをユーザー向けのAPIErrorに変換する。
func toIdentityAPIError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return model.NewInvalidCredentialsError()
	}
	var authErr *identity.AuthError
	if errors.As(err, &authErr) {
		if authErr.Status >= http.StatusBadRequest && authErr.Status < http.StatusInternalServerError {
			return model.NewValidationError(map[string]string{"email": authErr.Message})
		}
		return model.NewBackendRejectedError("identity", authErr.Status, authErr.Message)
	}
	return model.NewBackendUnavailableError("identity")
}

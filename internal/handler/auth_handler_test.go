package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/model"
)

// --- POST /auth/signin テスト ---

func TestAuthHandler_SignIn_Success(t *testing.T) {
	api := newFakeAuthAPI(t, "user-1", "member@example.com", completedProfile())
	m := newMount(t, api)
	h := NewAuthHandler(nil, "", nil)

	w := serve(t, http.HandlerFunc(h.SignIn), m, http.MethodPost, "/auth/signin", signInRequest{
		Email:    "member@example.com",
		Password: "secret1",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody[sessionResponse](t, w)
	if !resp.Authenticated {
		t.Error("サインイン後は authenticated=true であるべき")
	}
	if resp.User == nil || resp.User.ID != "user-1" {
		t.Errorf("user = %+v, want id user-1", resp.User)
	}
	if !resp.ProfileComplete {
		t.Error("profile_complete=true であるべき")
	}
	if !m.State().Session.Authenticated() {
		t.Error("Storeにもサインインが反映されるべき")
	}
}

func TestAuthHandler_SignIn_AdminFromConfiguredList(t *testing.T) {
	api := newFakeAuthAPI(t, "admin-1", "hello@minglemood.co", completedProfile())
	m := newMount(t, api, "hello@minglemood.co")
	h := NewAuthHandler(nil, "", nil)

	w := serve(t, http.HandlerFunc(h.SignIn), m, http.MethodPost, "/auth/signin", signInRequest{
		Email:    "hello@minglemood.co",
		Password: "secret1",
	})

	resp := decodeBody[sessionResponse](t, w)
	if !resp.IsAdmin {
		t.Error("管理者リストのメールアドレスは is_admin=true であるべき")
	}
}

func TestAuthHandler_SignIn_InvalidCredentials(t *testing.T) {
	api := newFakeAuthAPI(t, "user-1", "member@example.com", nil)
	api.signInErr = fmt.Errorf("%w: %w", identity.ErrInvalidCredentials, &identity.AuthError{Status: 400, Code: "invalid_grant", Message: "Invalid login credentials"})
	m := newMount(t, api)
	h := NewAuthHandler(nil, "", nil)

	w := serve(t, http.HandlerFunc(h.SignIn), m, http.MethodPost, "/auth/signin", signInRequest{
		Email:    "member@example.com",
		Password: "wrong",
	})

	assertError(t, w, http.StatusUnauthorized, model.ErrCodeInvalidCredentials)
	if m.State().Session.Authenticated() {
		t.Error("失敗したサインインでログイン状態になってはならない")
	}
}

func TestAuthHandler_SignIn_ProviderUnavailable(t *testing.T) {
	api := newFakeAuthAPI(t, "user-1", "member@example.com", nil)
	api.signInErr = fmt.Errorf("failed to sign in: %w", errBackendDown)
	m := newMount(t, api)
	h := NewAuthHandler(nil, "", nil)

	w := serve(t, http.HandlerFunc(h.SignIn), m, http.MethodPost, "/auth/signin", signInRequest{
		Email:    "member@example.com",
		Password: "secret1",
	})

	body := assertError(t, w, http.StatusServiceUnavailable, model.ErrCodeBackendUnavailable)
	if body.Category != "network" {
		t.Errorf("category = %q, want %q", body.Category, "network")
	}
}

func TestAuthHandler_SignIn_BadRequest(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"不正なJSON", "{not json", http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"メールアドレスなし", signInRequest{Password: "secret1"}, http.StatusUnprocessableEntity, model.ErrCodeValidationFailed},
		{"パスワードなし", signInRequest{Email: "member@example.com"}, http.StatusUnprocessableEntity, model.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMount(t, newFakeAuthAPI(t, "user-1", "member@example.com", nil))
			h := NewAuthHandler(nil, "", nil)

			w := serve(t, http.HandlerFunc(h.SignIn), m, http.MethodPost, "/auth/signin", tt.body)

			assertError(t, w, tt.status, tt.code)
		})
	}
}

// --- POST /auth/signup テスト ---

func TestAuthHandler_SignUp_ConfirmationRequired(t *testing.T) {
	api := newFakeAuthAPI(t, "user-new", "new@example.com", nil)
	m := newMount(t, api)
	notifier := &mockNotifier{}
	h := NewAuthHandler(notifier, "", nil)

	w := serve(t, http.HandlerFunc(h.SignUp), m, http.MethodPost, "/auth/signup", signUpRequest{
		Email:     " new@example.com ",
		Password:  "secret1",
		FirstName: " Aiko ",
		LastName:  "Sato",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusCreated, w.Body.String())
	}
	resp := decodeBody[signUpResponse](t, w)
	if resp.UserID != "user-new" {
		t.Errorf("user_id = %q, want %q", resp.UserID, "user-new")
	}
	if !resp.ConfirmationRequired {
		t.Error("セッションが発行されない場合は confirmation_required=true であるべき")
	}
	if resp.Session.Authenticated {
		t.Error("メール確認前はログイン状態にならない")
	}

	if len(api.patches) != 1 || api.patches[0]["first_name"] != "Aiko" || api.patches[0]["last_name"] != "Sato" {
		t.Errorf("IdPへ渡したメタデータ = %v", api.patches)
	}
	if len(notifier.signups) != 1 {
		t.Fatalf("登録通知の回数 = %d, want 1", len(notifier.signups))
	}
	if got := notifier.signups[0]; got.UserID != "user-new" || got.FirstName != "Aiko" {
		t.Errorf("登録通知 = %+v", got)
	}
	if notifier.tokens[0] != "" {
		t.Errorf("未ログインの通知は匿名キーで送るため空トークンであるべき: %q", notifier.tokens[0])
	}
}

func TestAuthHandler_SignUp_NotifyFailureStillCreated(t *testing.T) {
	m := newMount(t, newFakeAuthAPI(t, "user-new", "new@example.com", nil))
	notifier := &mockNotifier{err: errBackendDown}
	h := NewAuthHandler(notifier, "", nil)

	w := serve(t, http.HandlerFunc(h.SignUp), m, http.MethodPost, "/auth/signup", signUpRequest{
		Email:     "new@example.com",
		Password:  "secret1",
		FirstName: "Aiko",
	})

	if w.Code != http.StatusCreated {
		t.Errorf("通知の失敗は登録を失敗させない: status = %d", w.Code)
	}
}

func TestAuthHandler_SignUp_ValidationFailed(t *testing.T) {
	api := newFakeAuthAPI(t, "user-new", "new@example.com", nil)
	m := newMount(t, api)
	h := NewAuthHandler(nil, "", nil)

	w := serve(t, http.HandlerFunc(h.SignUp), m, http.MethodPost, "/auth/signup", signUpRequest{
		Email:    "not-an-email",
		Password: "123",
	})

	body := assertError(t, w, http.StatusUnprocessableEntity, model.ErrCodeValidationFailed)
	for _, field := range []string{"email", "password", "first_name"} {
		if body.Fields[field] == "" {
			t.Errorf("fields[%q] が設定されていない: %v", field, body.Fields)
		}
	}
	if len(api.patches) != 0 {
		t.Error("検証エラーの場合はIdPを呼び出してはならない")
	}
}

// --- POST /auth/logout, GET /auth/me テスト ---

func TestAuthHandler_Me_Authenticated(t *testing.T) {
	api := newFakeAuthAPI(t, "user-1", "member@example.com", completedProfile())
	m := newSignedInMount(t, api)
	h := NewAuthHandler(nil, "", nil)

	w := serve(t, http.HandlerFunc(h.Me), m, http.MethodGet, "/auth/me", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody[sessionResponse](t, w)
	if resp.User == nil || resp.User.Email != "member@example.com" {
		t.Errorf("user = %+v", resp.User)
	}
}

func TestAuthHandler_Logout_ClearsSession(t *testing.T) {
	api := newFakeAuthAPI(t, "user-1", "member@example.com", completedProfile())
	m := newSignedInMount(t, api)
	h := NewAuthHandler(nil, "", nil)

	w := serve(t, http.HandlerFunc(h.Logout), m, http.MethodPost, "/auth/logout", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}

	for _, key := range []string{identity.AccessTokenKey, identity.RefreshTokenKey} {
		if _, ok, _ := m.Storage().Get(t.Context(), key); ok {
			t.Errorf("サインアウト後に %s が残っている", key)
		}
	}

	w = serve(t, http.HandlerFunc(h.Me), m, http.MethodGet, "/auth/me", nil)
	assertError(t, w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
}

func TestAuthHandler_NoMount_InternalError(t *testing.T) {
	h := NewAuthHandler(nil, "hello@minglemood.co", nil)

	w := serve(t, http.HandlerFunc(h.Me), nil, http.MethodGet, "/auth/me", nil)

	body := assertError(t, w, http.StatusInternalServerError, model.ErrCodeInternal)
	if body.Support == "" {
		t.Error("500レスポンスにはサポート窓口を含めるべき")
	}
}

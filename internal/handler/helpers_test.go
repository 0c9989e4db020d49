package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/minglemood/internal/functions"
	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/middleware"
	"github.com/hitoshi/minglemood/internal/model"
	"github.com/hitoshi/minglemood/internal/session"
)

// --- モック定義 ---

// fakeAuthAPI はメタデータの更新をマージして保持するidentity.AuthAPIのモック。
type fakeAuthAPI struct {
	t *testing.T

	mu        sync.Mutex
	id        string
	email     string
	raw       map[string]json.RawMessage
	signInErr error
	patches   []map[string]any
}

var _ identity.AuthAPI = (*fakeAuthAPI)(nil)

func newFakeAuthAPI(t *testing.T, id, email string, raw map[string]json.RawMessage) *fakeAuthAPI {
	t.Helper()
	if raw == nil {
		raw = make(map[string]json.RawMessage)
	}
	return &fakeAuthAPI{t: t, id: id, email: email, raw: raw}
}

func (f *fakeAuthAPI) identity() *model.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.NewIdentity(f.id, f.email, maps.Clone(f.raw))
}

func (f *fakeAuthAPI) session() *identity.AuthSession {
	user := f.identity()
	return &identity.AuthSession{
		AccessToken:  signedAccessToken(f.t, user),
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         user,
	}
}

func (f *fakeAuthAPI) SignInWithPassword(context.Context, string, string) (*identity.AuthSession, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.session(), nil
}

func (f *fakeAuthAPI) SignUp(_ context.Context, _ string, _ string, data map[string]any) (*identity.AuthSession, *model.Identity, error) {
	f.merge(data)
	return nil, f.identity(), nil
}

func (f *fakeAuthAPI) RefreshSession(context.Context, string) (*identity.AuthSession, error) {
	return nil, identity.ErrInvalidRefreshToken
}

func (f *fakeAuthAPI) GetUser(context.Context, string) (*model.Identity, error) {
	return f.identity(), nil
}

func (f *fakeAuthAPI) UpdateUserMetadata(_ context.Context, _ string, patch map[string]any) (*model.Identity, error) {
	f.merge(patch)
	return f.identity(), nil
}

func (f *fakeAuthAPI) Logout(context.Context, string) error {
	return nil
}

func (f *fakeAuthAPI) merge(patch map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	for k, v := range patch {
		b, err := json.Marshal(v)
		if err != nil {
			f.t.Fatalf("メタデータのエンコードに失敗: %v", err)
		}
		f.raw[k] = b
	}
}

func signedAccessToken(t *testing.T, user *model.Identity) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.AccessClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return s
}

// completedProfile はプロフィール入力済み・サンクス画面確認済みのメタデータ。
func completedProfile() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		model.MetaProfileComplete: json.RawMessage("true"),
		model.MetaThankYouSeen:    json.RawMessage("true"),
	}
}

// newMount はMemoryStorageに紐づくMountを生成する。adminsは管理者のメールアドレス。
func newMount(t *testing.T, api identity.AuthAPI, admins ...string) *session.Mount {
	t.Helper()
	factory := session.NewFactory(api, nil, session.NewAdminSet(admins), nil, nil)
	m := factory.Mount(context.Background(), identity.NewMemoryStorage())
	t.Cleanup(m.Close)
	return m
}

// newSignedInMount はサインイン済みのMountを生成する。
func newSignedInMount(t *testing.T, api identity.AuthAPI, admins ...string) *session.Mount {
	t.Helper()
	m := newMount(t, api, admins...)
	if _, err := m.Sync.SignIn(context.Background(), "member@example.com", "secret1"); err != nil {
		t.Fatalf("SignIn がエラーを返した: %v", err)
	}
	return m
}

// serve はMountをコンテキストに載せてハンドラーを呼び出す。
func serve(t *testing.T, h http.Handler, m *session.Mount, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("リクエストボディのエンコードに失敗: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, target, reader)
	if m != nil {
		req = req.WithContext(middleware.ContextWithMount(req.Context(), m))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// decodeBody はレスポンスボディをJSONとして読み込む。
func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v (body=%s)", err, w.Body.String())
	}
	return v
}

// assertError はエラーレスポンスのステータスとコードを検証する。
func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) middleware.ErrorResponseBody {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, status, w.Body.String())
	}
	body := decodeBody[middleware.ErrorResponseBody](t, w)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
	return body
}

// mockNotifier はFunctionへの通知をモックする。
type mockNotifier struct {
	mu      sync.Mutex
	err     error
	signups []functions.SignupNotification
	surveys []functions.SurveyCompletedNotification
	tokens  []string
}

func (n *mockNotifier) NotifySignup(_ context.Context, token string, s functions.SignupNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, token)
	n.signups = append(n.signups, s)
	return n.err
}

func (n *mockNotifier) NotifySurveyCompleted(_ context.Context, token string, s functions.SurveyCompletedNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, token)
	n.surveys = append(n.surveys, s)
	return n.err
}

var errBackendDown = errors.New("connection refused")

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/model"
	"github.com/hitoshi/minglemood/internal/repository"
	"github.com/hitoshi/minglemood/internal/session"
)

// memSessionRepo はメモリ上のrepository.SessionRepository実装。
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.BrowserSession
	data     map[string]map[string]string
	findErr  error
	extended int
}

var _ repository.SessionRepository = (*memSessionRepo)(nil)

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{
		sessions: make(map[string]*model.BrowserSession),
		data:     make(map[string]map[string]string),
	}
}

func (r *memSessionRepo) Create(_ context.Context, s *model.BrowserSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	r.data[s.ID] = make(map[string]string)
	return nil
}

func (r *memSessionRepo) FindByID(_ context.Context, id string) (*model.BrowserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	s, ok := r.sessions[id]
	if !ok || !s.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	delete(r.data, id)
	return nil
}

func (r *memSessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
			delete(r.data, id)
		}
	}
	return nil
}

func (r *memSessionRepo) SetUserID(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.UserID = userID
	}
	return nil
}

func (r *memSessionRepo) Extend(_ context.Context, id string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extended++
	if s, ok := r.sessions[id]; ok {
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (r *memSessionRepo) LoadData(_ context.Context, id string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string)
	for k, v := range r.data[id] {
		out[k] = v
	}
	return out, nil
}

func (r *memSessionRepo) SetData(_ context.Context, id, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data[id] == nil {
		return errors.New("session not found")
	}
	r.data[id][key] = value
	return nil
}

func (r *memSessionRepo) RemoveData(_ context.Context, id string, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.data[id], k)
	}
	return nil
}

func (r *memSessionRepo) get(id string) *model.BrowserSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// stubAuthAPI はサインインすると固定ユーザーのセッションを返すidentity.AuthAPI。
// refreshErrが未設定の場合、リフレッシュはErrInvalidRefreshTokenで失敗する。
type stubAuthAPI struct {
	t          *testing.T
	user       *model.Identity
	refreshErr error
}

func (s *stubAuthAPI) SignInWithPassword(context.Context, string, string) (*identity.AuthSession, error) {
	return &identity.AuthSession{
		AccessToken:  signedAccessToken(s.t, s.user),
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         s.user,
	}, nil
}

func (s *stubAuthAPI) SignUp(context.Context, string, string, map[string]any) (*identity.AuthSession, *model.Identity, error) {
	return nil, s.user, nil
}

func (s *stubAuthAPI) RefreshSession(context.Context, string) (*identity.AuthSession, error) {
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return nil, identity.ErrInvalidRefreshToken
}

func (s *stubAuthAPI) GetUser(context.Context, string) (*model.Identity, error) {
	return s.user, nil
}

func (s *stubAuthAPI) UpdateUserMetadata(context.Context, string, map[string]any) (*model.Identity, error) {
	return s.user, nil
}

func (s *stubAuthAPI) Logout(context.Context, string) error {
	return nil
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

func testIdentity(t *testing.T, id, email string) *model.Identity {
	t.Helper()
	raw := map[string]json.RawMessage{"profile_complete": json.RawMessage("true")}
	return model.NewIdentity(id, email, raw)
}

// newTestFactory はstubAuthAPIに接続したsession.Factoryを返す。adminsは管理者のメールアドレス。
func newTestFactory(t *testing.T, user *model.Identity, admins ...string) *session.Factory {
	t.Helper()
	return session.NewFactory(&stubAuthAPI{t: t, user: user}, nil, session.NewAdminSet(admins), nil, nil)
}

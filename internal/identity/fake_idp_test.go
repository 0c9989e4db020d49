package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const testAnonKey = "anon-key"

// fakeIdP はテスト用のGoTrue互換サーバー。
type fakeIdP struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	users         map[string]*fakeUser // access token -> user
	refreshTokens map[string]string    // refresh token -> user id
	byID          map[string]*fakeUser
	passwords     map[string]string // email -> password
	calls         []string

	// refreshError が設定されている場合、リフレッシュはこのステータスとボディを返す
	refreshStatus int
	refreshBody   string
	// logoutStatus が0以外の場合、/logoutはこのステータスを返す
	logoutStatus int
}

type fakeUser struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata"`
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	f := &fakeIdP{
		t:             t,
		users:         make(map[string]*fakeUser),
		refreshTokens: make(map[string]string),
		byID:          make(map[string]*fakeUser),
		passwords:     make(map[string]string),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIdP) provider() *Provider {
	return NewProvider(ProviderConfig{BaseURL: f.server.URL, AnonKey: testAnonKey, HTTPClient: f.server.Client()})
}

// addUser はユーザーを登録し、発行済みのアクセストークンとリフレッシュトークンを返す。
func (f *fakeIdP) addUser(id, email, password string, metadata map[string]any, access string, exp time.Time) (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if metadata == nil {
		metadata = map[string]any{}
	}
	u := &fakeUser{ID: id, Email: email, Metadata: metadata}
	f.byID[id] = u
	f.passwords[email] = password
	if access == "" {
		access = signToken(f.t, testSecret, id, exp)
	}
	refresh := "refresh-" + id
	f.users[access] = u
	f.refreshTokens[refresh] = id
	return access, refresh
}

func (f *fakeIdP) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeIdP) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := r.Method + " " + r.URL.Path
	if gt := r.URL.Query().Get("grant_type"); gt != "" {
		key += "?" + gt
	}
	f.calls = append(f.calls, key)

	if r.Header.Get("apikey") != testAnonKey {
		writeFakeError(w, http.StatusUnauthorized, "no_api_key", "No API key found in request")
		return
	}

	switch key {
	case "POST /token?password":
		var body struct{ Email, Password string }
		json.NewDecoder(r.Body).Decode(&body)
		if f.passwords[body.Email] == "" || f.passwords[body.Email] != body.Password {
			writeFakeError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
			return
		}
		for _, u := range f.byID {
			if u.Email == body.Email {
				f.writeToken(w, u)
				return
			}
		}
	case "POST /token?refresh_token":
		if f.refreshStatus != 0 {
			w.WriteHeader(f.refreshStatus)
			w.Write([]byte(f.refreshBody))
			return
		}
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		id, ok := f.refreshTokens[body.RefreshToken]
		if !ok {
			writeFakeError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		delete(f.refreshTokens, body.RefreshToken)
		f.writeToken(w, f.byID[id])
	case "POST /signup":
		var body struct {
			Email, Password string
			Data            map[string]any `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if _, exists := f.passwords[body.Email]; exists {
			writeFakeError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
			return
		}
		id := "user-" + strings.Split(body.Email, "@")[0]
		u := &fakeUser{ID: id, Email: body.Email, Metadata: body.Data}
		if u.Metadata == nil {
			u.Metadata = map[string]any{}
		}
		f.byID[id] = u
		f.passwords[body.Email] = body.Password
		f.writeToken(w, u)
	case "GET /user":
		u := f.bearerUser(r)
		if u == nil {
			writeFakeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
			return
		}
		writeFakeJSON(w, u)
	case "PUT /user":
		u := f.bearerUser(r)
		if u == nil {
			writeFakeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
			return
		}
		var body struct {
			Data map[string]any `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for k, v := range body.Data {
			u.Metadata[k] = v
		}
		writeFakeJSON(w, u)
	case "POST /logout":
		if f.logoutStatus != 0 {
			writeFakeError(w, f.logoutStatus, "unexpected_failure", "logout failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "GET /health":
		writeFakeJSON(w, map[string]string{"name": "GoTrue"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeIdP) bearerUser(r *http.Request) *fakeUser {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return f.users[token]
}

// writeToken は新しいトークンを発行してレスポンスを書き込む。
func (f *fakeIdP) writeToken(w http.ResponseWriter, u *fakeUser) {
	exp := time.Now().Add(time.Hour)
	access := signToken(f.t, testSecret, u.ID, exp.Add(time.Duration(len(f.calls))*time.Second))
	refresh := "refresh-" + u.ID + "-" + time.Now().Format("150405.000000000")
	f.users[access] = u
	f.refreshTokens[refresh] = u.ID
	writeFakeJSON(w, map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    exp.Unix(),
		"refresh_token": refresh,
		"user":          u,
	})
}

func writeFakeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeFakeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": status, "error_code": code, "msg": msg})
}

package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/hitoshi/minglemood/internal/admin"
	"github.com/hitoshi/minglemood/internal/functions"
	"github.com/hitoshi/minglemood/internal/member"
	"github.com/hitoshi/minglemood/internal/model"
)

// mockAdminBackend はadmin.Backendのモック実装。失敗させる取得元をfailに指定する。
type mockAdminBackend struct {
	fail map[string]bool
}

func (b *mockAdminBackend) err(source, endpoint string) error {
	if b.fail[source] {
		return &functions.TransportError{Endpoint: endpoint, Err: errBackendDown}
	}
	return nil
}

func (b *mockAdminBackend) AdminStats(context.Context, string) (*functions.AdminStats, error) {
	if err := b.err(admin.SourceStats, "/admin/stats"); err != nil {
		return nil, err
	}
	return &functions.AdminStats{TotalUsers: 42}, nil
}

func (b *mockAdminBackend) AdminUsers(context.Context, string) ([]functions.Member, error) {
	if err := b.err(admin.SourceUsers, "/admin/users"); err != nil {
		return nil, err
	}
	return []functions.Member{{ID: "user-1", Email: "member@example.com"}}, nil
}

func (b *mockAdminBackend) AdminEvents(context.Context, string) ([]functions.Event, error) {
	if err := b.err(admin.SourceEvents, "/admin/events"); err != nil {
		return nil, err
	}
	return []functions.Event{{ID: "evt-1"}}, nil
}

func (b *mockAdminBackend) AdminEmailLogs(context.Context, string) ([]functions.EmailLog, error) {
	if err := b.err(admin.SourceEmailLogs, "/admin/email-logs"); err != nil {
		return nil, err
	}
	return []functions.EmailLog{{ID: "log-1"}}, nil
}

// mockUserDeleter はmember.UserDeleterのモック実装。
type mockUserDeleter struct {
	result *functions.DeleteUserResult
	err    error
	got    functions.DeleteUserRequest
}

func (d *mockUserDeleter) DeleteUser(_ context.Context, _ string, req functions.DeleteUserRequest) (*functions.DeleteUserResult, error) {
	d.got = req
	return d.result, d.err
}

// mockSessionDeleter はmember.SessionDeleterのモック実装。
type mockSessionDeleter struct {
	userIDs []string
}

func (d *mockSessionDeleter) DeleteByUserID(_ context.Context, userID string) error {
	d.userIDs = append(d.userIDs, userID)
	return nil
}

// mockHealth はmember.HealthCheckerのモック実装。
type mockHealth struct{ err error }

func (h mockHealth) Health(context.Context) error { return h.err }

func newTestAdminHandler(backend admin.Backend, members *member.Service) *AdminHandler {
	return NewAdminHandler(admin.NewLoader(backend, nil), members, "", nil)
}

func TestAdminHandler_Dashboard_PartialFailure(t *testing.T) {
	m := newSignedInMount(t, newFakeAuthAPI(t, "admin-1", "hello@minglemood.co", completedProfile()), "hello@minglemood.co")
	h := newTestAdminHandler(&mockAdminBackend{fail: map[string]bool{admin.SourceEmailLogs: true}}, nil)

	w := serve(t, http.HandlerFunc(h.Dashboard), m, http.MethodGet, "/api/admin/dashboard", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("一部の取得失敗でも200を返すべき: status = %d", w.Code)
	}
	d := decodeBody[admin.Dashboard](t, w)
	if d.Stats == nil || d.Stats.TotalUsers != 42 {
		t.Errorf("stats = %+v", d.Stats)
	}
	if len(d.Users) != 1 || len(d.Events) != 1 {
		t.Errorf("users = %d, events = %d, want 1, 1", len(d.Users), len(d.Events))
	}
	if d.Errors[admin.SourceEmailLogs] == "" {
		t.Errorf("errors に email_logs が含まれるべき: %v", d.Errors)
	}
	if len(d.Errors) != 1 {
		t.Errorf("errors = %v, want 1件", d.Errors)
	}
}

func TestAdminHandler_BackendTest(t *testing.T) {
	tests := []struct {
		name   string
		fnsErr error
		status int
	}{
		{"すべて成功", nil, http.StatusOK},
		{"Function失敗", errBackendDown, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members := member.NewService(nil, nil, mockHealth{}, mockHealth{err: tt.fnsErr}, nil)
			h := newTestAdminHandler(&mockAdminBackend{}, members)

			w := serve(t, http.HandlerFunc(h.BackendTest), nil, http.MethodGet, "/api/diagnostics/backend", nil)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			report := decodeBody[member.BackendReport](t, w)
			if len(report.Checks) != 2 {
				t.Fatalf("checks = %d, want 2", len(report.Checks))
			}
			if report.Checks[0].Name != member.CheckIdentity || !report.Checks[0].OK {
				t.Errorf("identity check = %+v", report.Checks[0])
			}
			if report.Checks[1].OK != (tt.fnsErr == nil) {
				t.Errorf("functions check = %+v", report.Checks[1])
			}
		})
	}
}

func TestAdminHandler_DeleteUser_Success(t *testing.T) {
	m := newSignedInMount(t, newFakeAuthAPI(t, "admin-1", "hello@minglemood.co", completedProfile()), "hello@minglemood.co")
	deleter := &mockUserDeleter{result: &functions.DeleteUserResult{UserID: "user-9", Deleted: true}}
	sessions := &mockSessionDeleter{}
	h := newTestAdminHandler(&mockAdminBackend{}, member.NewService(deleter, sessions, nil, nil, nil))

	w := serve(t, http.HandlerFunc(h.DeleteUser), m, http.MethodPost, "/api/diagnostics/delete-user", deleteUserRequest{
		Email: " Member@Example.com ",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body=%s)", w.Code, w.Body.String())
	}
	if deleter.got.Email != "member@example.com" {
		t.Errorf("削除対象 = %q, want 正規化した %q", deleter.got.Email, "member@example.com")
	}
	if len(sessions.userIDs) != 1 || sessions.userIDs[0] != "user-9" {
		t.Errorf("削除したセッションのユーザー = %v, want [user-9]", sessions.userIDs)
	}
}

func TestAdminHandler_DeleteUser_Errors(t *testing.T) {
	tests := []struct {
		name   string
		email  string
		result *functions.DeleteUserResult
		status int
		code   string
	}{
		{"不正なメールアドレス", "nobody", nil, http.StatusUnprocessableEntity, model.ErrCodeValidationFailed},
		{"存在しない会員", "ghost@example.com", &functions.DeleteUserResult{Deleted: false}, http.StatusNotFound, model.ErrCodeUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newSignedInMount(t, newFakeAuthAPI(t, "admin-1", "hello@minglemood.co", completedProfile()), "hello@minglemood.co")
			deleter := &mockUserDeleter{result: tt.result}
			h := newTestAdminHandler(&mockAdminBackend{}, member.NewService(deleter, &mockSessionDeleter{}, nil, nil, nil))

			w := serve(t, http.HandlerFunc(h.DeleteUser), m, http.MethodPost, "/api/diagnostics/delete-user", deleteUserRequest{Email: tt.email})

			assertError(t, w, tt.status, tt.code)
		})
	}
}

package survey

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/minglemood/internal/functions"
	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/model"
	"github.com/hitoshi/minglemood/internal/security"
	"github.com/hitoshi/minglemood/internal/session"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- モック ---

type mockMember struct {
	state            session.State
	storage          *identity.MemoryStorage
	updateMetadataFn func(ctx context.Context, patch map[string]any) (session.State, error)
	patches          []map[string]any
}

func newMockMember() *mockMember {
	return &mockMember{
		state: session.State{Session: model.Session{
			User:            &model.Identity{ID: "user-1", Email: "member@example.com"},
			ProfileComplete: true,
		}},
		storage: identity.NewMemoryStorage(),
	}
}

func (m *mockMember) State() session.State { return m.state }
func (m *mockMember) Storage() identity.TokenStorage { return m.storage }
func (m *mockMember) AccessToken(context.Context) (string, error) {
	return "access-1", nil
}
func (m *mockMember) UpdateMetadata(ctx context.Context, patch map[string]any) (session.State, error) {
	m.patches = append(m.patches, patch)
	if m.updateMetadataFn != nil {
		return m.updateMetadataFn(ctx, patch)
	}
	m.state.Session.SurveyCompleted = true
	return m.state, nil
}

type mockNotifier struct {
	err   error
	token string
	got   []functions.SurveyCompletedNotification
}

func (n *mockNotifier) NotifySurveyCompleted(_ context.Context, token string, note functions.SurveyCompletedNotification) error {
	n.token = token
	n.got = append(n.got, note)
	return n.err
}

type recordingMetrics struct {
	outcomes []string
}

func (m *recordingMetrics) RecordAuthEvent(string) {}
func (m *recordingMetrics) RecordForcedSignOut(string) {}
func (m *recordingMetrics) RecordView(string) {}
func (m *recordingMetrics) RecordFunctionCall(string, int, time.Duration) {}
func (m *recordingMetrics) RecordSurveySubmission(outcome string) { m.outcomes = append(m.outcomes, outcome) }

func newTestService(notifier Notifier) (*Service, *recordingMetrics, *bytes.Buffer) {
	var buf bytes.Buffer
	m := &recordingMetrics{}
	return NewService(notifier, security.NewTextSanitizer(), newTestLogger(&buf), m), m, &buf
}

func stored(t *testing.T, m *mockMember, key string) (string, bool) {
	t.Helper()
	v, ok, err := m.storage.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get がエラーを返した: %v", err)
	}
	return v, ok
}

// --- テスト ---

func TestService_StartAndResume(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(nil)
	member := newMockMember()

	w, err := svc.Start(ctx, member)
	if err != nil {
		t.Fatalf("Start がエラーを返した: %v", err)
	}
	if w.CurrentStep != 0 {
		t.Errorf("CurrentStep = %d", w.CurrentStep)
	}
	if v, _ := stored(t, member, session.ShowSurveyKey); v != "true" {
		t.Errorf("show_survey = %q, want true", v)
	}

	svc.Next(ctx, member)
	svc.Apply(ctx, member, Mutation{Field: "event_types", Toggle: "dinner"})

	resumed, err := svc.Start(ctx, member)
	if err != nil {
		t.Fatalf("Start がエラーを返した: %v", err)
	}
	if resumed.CurrentStep != 1 || len(resumed.Draft.EventTypes) != 1 {
		t.Errorf("入力途中のウィザードを再開するべき: %+v", resumed)
	}
}

func TestService_StartRequiresUser(t *testing.T) {
	svc, _, _ := newTestService(nil)
	member := newMockMember()
	member.state = session.State{}

	_, err := svc.Start(context.Background(), member)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUnauthorized {
		t.Errorf("err = %v, want UNAUTHORIZED", err)
	}
}

func TestService_NotStarted(t *testing.T) {
	svc, _, _ := newTestService(nil)

	_, err := svc.Next(context.Background(), newMockMember())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSurveyNotStarted {
		t.Errorf("err = %v, want SURVEY_NOT_STARTED", err)
	}
}

func TestService_NavigationPersistsAndClamps(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(nil)
	member := newMockMember()
	svc.Start(ctx, member)

	for i := 0; i < 8; i++ {
		svc.Next(ctx, member)
	}
	w, _ := svc.Current(ctx, member)
	if w.CurrentStep != TotalSteps-1 {
		t.Errorf("CurrentStep = %d, want %d", w.CurrentStep, TotalSteps-1)
	}
	if v := NewView(w); v.Progress != 1 || !v.IsLastStep || v.Step.Title != "Final Touches" {
		t.Errorf("view = %+v", v)
	}
}

func TestService_Submit(t *testing.T) {
	ctx := context.Background()
	notifier := &mockNotifier{}
	svc, m, _ := newTestService(notifier)
	member := newMockMember()
	svc.Start(ctx, member)

	notes := "<script>alert(1)</script>Loves <b>jazz</b>"
	svc.Apply(ctx, member, Mutation{Field: "additional_notes", Text: &notes})
	svc.Apply(ctx, member, Mutation{Field: "event_types", Toggle: "dinner"})

	state, err := svc.Submit(ctx, member)
	if err != nil {
		t.Fatalf("Submit がエラーを返した: %v", err)
	}
	if !state.Session.SurveyCompleted {
		t.Error("送信後はsurveyCompletedになるべき")
	}

	if len(member.patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(member.patches))
	}
	patch := member.patches[0]
	if patch[model.MetaSurveyCompleted] != true {
		t.Errorf("survey_completed = %v", patch[model.MetaSurveyCompleted])
	}
	data, ok := patch[model.MetaSurveyData].(model.SurveyData)
	if !ok {
		t.Fatalf("survey_data = %T", patch[model.MetaSurveyData])
	}
	if data.AdditionalNotes != "Loves jazz" {
		t.Errorf("自由記述はサニタイズされるべき: %q", data.AdditionalNotes)
	}

	if len(notifier.got) != 1 || notifier.token != "access-1" || notifier.got[0].UserID != "user-1" {
		t.Errorf("notification = %+v token=%q", notifier.got, notifier.token)
	}
	if _, ok := stored(t, member, session.SurveyWizardKey); ok {
		t.Error("送信後はウィザードを破棄するべき")
	}
	if _, ok := stored(t, member, session.ShowSurveyKey); ok {
		t.Error("送信後はアンケート表示フラグを削除するべき")
	}
	if len(m.outcomes) != 1 || m.outcomes[0] != outcomeSubmitted {
		t.Errorf("outcomes = %v", m.outcomes)
	}
}

func TestService_SubmitNotifyFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	svc, m, buf := newTestService(&mockNotifier{err: errors.New("function down")})
	member := newMockMember()
	svc.Start(ctx, member)

	if _, err := svc.Submit(ctx, member); err != nil {
		t.Fatalf("通知の失敗で送信を失敗させてはならない: %v", err)
	}
	if len(m.outcomes) != 1 || m.outcomes[0] != outcomeNotifyFailed {
		t.Errorf("outcomes = %v", m.outcomes)
	}
	if !strings.Contains(buf.String(), "function down") {
		t.Errorf("警告ログが出力されるべき: %s", buf.String())
	}
}

func TestService_SubmitMetadataFailureKeepsWizard(t *testing.T) {
	ctx := context.Background()
	notifier := &mockNotifier{}
	svc, m, _ := newTestService(notifier)
	member := newMockMember()
	member.updateMetadataFn = func(context.Context, map[string]any) (session.State, error) {
		return member.state, model.NewBackendUnavailableError("/user")
	}
	svc.Start(ctx, member)

	_, err := svc.Submit(ctx, member)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeBackendUnavailable {
		t.Fatalf("err = %v", err)
	}
	if _, ok := stored(t, member, session.SurveyWizardKey); !ok {
		t.Error("失敗時はウィザードを残すべき")
	}
	if len(notifier.got) != 0 {
		t.Error("失敗時は通知しない")
	}
	if len(m.outcomes) != 1 || m.outcomes[0] != outcomeFailed {
		t.Errorf("outcomes = %v", m.outcomes)
	}
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()
	svc, m, _ := newTestService(nil)
	member := newMockMember()
	svc.Start(ctx, member)

	svc.Cancel(ctx, member)

	if _, ok := stored(t, member, session.SurveyWizardKey); ok {
		t.Error("キャンセル後はウィザードを破棄するべき")
	}
	if _, ok := stored(t, member, session.ShowSurveyKey); ok {
		t.Error("キャンセル後はアンケート表示フラグを削除するべき")
	}
	if len(member.patches) != 0 {
		t.Error("キャンセルではメタデータを更新しない")
	}
	if len(m.outcomes) != 1 || m.outcomes[0] != outcomeCancelled {
		t.Errorf("outcomes = %v", m.outcomes)
	}
}

func TestStore_LoadBrokenWizard(t *testing.T) {
	ctx := context.Background()
	storage := identity.NewMemoryStorage()
	storage.Set(ctx, session.SurveyWizardKey, "{not json")

	if _, _, err := NewStore(storage).Load(ctx); err == nil {
		t.Error("壊れたデータはエラーになるべき")
	}

	storage.Set(ctx, session.SurveyWizardKey, `{"current_step": 42}`)
	w, ok, err := NewStore(storage).Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	if w.CurrentStep != TotalSteps-1 {
		t.Errorf("範囲外のステップは丸める: %d", w.CurrentStep)
	}
}

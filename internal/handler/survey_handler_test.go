package handler

import (
	"net/http"
	"testing"

	"github.com/hitoshi/minglemood/internal/model"
	"github.com/hitoshi/minglemood/internal/security"
	"github.com/hitoshi/minglemood/internal/survey"
)

func newTestSurveyHandler(notifier survey.Notifier) *SurveyHandler {
	return NewSurveyHandler(survey.NewService(notifier, security.NewTextSanitizer(), nil, nil), "", nil)
}

func strPtr(s string) *string { return &s }

func TestSurveyHandler_Get_NotStarted(t *testing.T) {
	m := newSignedInMount(t, newFakeAuthAPI(t, "user-1", "member@example.com", completedProfile()))
	h := newTestSurveyHandler(nil)

	w := serve(t, http.HandlerFunc(h.Get), m, http.MethodGet, "/api/survey", nil)

	assertError(t, w, http.StatusConflict, model.ErrCodeSurveyNotStarted)
}

func TestSurveyHandler_StartAndNavigate(t *testing.T) {
	m := newSignedInMount(t, newFakeAuthAPI(t, "user-1", "member@example.com", completedProfile()))
	h := newTestSurveyHandler(nil)

	w := serve(t, http.HandlerFunc(h.Start), m, http.MethodPost, "/api/survey/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body=%s)", w.Code, w.Body.String())
	}
	view := decodeBody[survey.View](t, w)
	if view.CurrentStep != 0 || view.TotalSteps != survey.TotalSteps {
		t.Errorf("開始時の view = step %d / %d", view.CurrentStep, view.TotalSteps)
	}

	// 最初のステップより前には戻らない
	w = serve(t, http.HandlerFunc(h.Previous), m, http.MethodPost, "/api/survey/previous", nil)
	if got := decodeBody[survey.View](t, w).CurrentStep; got != 0 {
		t.Errorf("先頭でPrevious後の step = %d, want 0", got)
	}

	// 最後のステップより先には進まない
	for range survey.TotalSteps + 2 {
		w = serve(t, http.HandlerFunc(h.Next), m, http.MethodPost, "/api/survey/next", nil)
	}
	view = decodeBody[survey.View](t, w)
	if view.CurrentStep != survey.TotalSteps-1 || !view.IsLastStep {
		t.Errorf("末尾でNext後の view = step %d, is_last_step %v", view.CurrentStep, view.IsLastStep)
	}
	if view.Progress != 1 {
		t.Errorf("progress = %v, want 1", view.Progress)
	}

	// 再取得しても位置は保持される
	w = serve(t, http.HandlerFunc(h.Get), m, http.MethodGet, "/api/survey", nil)
	if got := decodeBody[survey.View](t, w).CurrentStep; got != survey.TotalSteps-1 {
		t.Errorf("再取得後の step = %d, want %d", got, survey.TotalSteps-1)
	}
}

func TestSurveyHandler_UpdateDraft(t *testing.T) {
	m := newSignedInMount(t, newFakeAuthAPI(t, "user-1", "member@example.com", completedProfile()))
	h := newTestSurveyHandler(nil)
	serve(t, http.HandlerFunc(h.Start), m, http.MethodPost, "/api/survey/start", nil)

	w := serve(t, http.HandlerFunc(h.UpdateDraft), m, http.MethodPatch, "/api/survey/draft", survey.Mutation{
		Field: "zip_code",
		Text:  strPtr("11201"),
	})
	if got := decodeBody[survey.View](t, w).Draft.ZipCode; got != "11201" {
		t.Errorf("zip_code = %q, want %q", got, "11201")
	}

	// イベント種別は3つまで。4つ目は無視される
	for _, option := range []string{"dinner", "drinks", "hiking", "karaoke"} {
		w = serve(t, http.HandlerFunc(h.UpdateDraft), m, http.MethodPatch, "/api/survey/draft", survey.Mutation{
			Field:  "event_types",
			Toggle: option,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("toggle %q の status = %d (body=%s)", option, w.Code, w.Body.String())
		}
	}
	got := decodeBody[survey.View](t, w).Draft.EventTypes
	if len(got) != survey.MaxEventTypes || got[2] != "hiking" {
		t.Errorf("event_types = %v, want [dinner drinks hiking]", got)
	}
}

func TestSurveyHandler_UpdateDraft_Errors(t *testing.T) {
	value := 9
	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"未知の項目", survey.Mutation{Field: "favorite_color", Text: strPtr("blue")}, http.StatusBadRequest, model.ErrCodeUnknownSurveyField},
		{"範囲外の評価", survey.Mutation{Field: "personality_traits", Trait: "outgoing", Value: &value}, http.StatusUnprocessableEntity, model.ErrCodeValidationFailed},
		{"形式の違う値", survey.Mutation{Field: "hobbies", Text: strPtr("golf")}, http.StatusUnprocessableEntity, model.ErrCodeValidationFailed},
		{"不正なJSON", "[", http.StatusBadRequest, model.ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newSignedInMount(t, newFakeAuthAPI(t, "user-1", "member@example.com", completedProfile()))
			h := newTestSurveyHandler(nil)
			serve(t, http.HandlerFunc(h.Start), m, http.MethodPost, "/api/survey/start", nil)

			w := serve(t, http.HandlerFunc(h.UpdateDraft), m, http.MethodPatch, "/api/survey/draft", tt.body)

			assertError(t, w, tt.status, tt.code)
		})
	}
}

func TestSurveyHandler_Submit(t *testing.T) {
	api := newFakeAuthAPI(t, "user-1", "member@example.com", completedProfile())
	m := newSignedInMount(t, api)
	notifier := &mockNotifier{}
	h := newTestSurveyHandler(notifier)

	serve(t, http.HandlerFunc(h.Start), m, http.MethodPost, "/api/survey/start", nil)
	serve(t, http.HandlerFunc(h.UpdateDraft), m, http.MethodPatch, "/api/survey/draft", survey.Mutation{
		Field: "ideal_first_date",
		Text:  strPtr("<i>Jazz</i> bar"),
	})

	w := serve(t, http.HandlerFunc(h.Submit), m, http.MethodPost, "/api/survey/submit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body=%s)", w.Code, w.Body.String())
	}
	resp := decodeBody[surveySubmitResponse](t, w)
	if !resp.Session.SurveyCompleted {
		t.Error("送信後は survey_completed=true であるべき")
	}

	if len(notifier.surveys) != 1 {
		t.Fatalf("送信通知の回数 = %d, want 1", len(notifier.surveys))
	}
	if got := notifier.surveys[0].Survey.IdealFirstDate; got != "Jazz bar" {
		t.Errorf("ideal_first_date = %q, want HTMLを除いた %q", got, "Jazz bar")
	}
	if notifier.tokens[0] == "" {
		t.Error("ログイン中の通知はアクセストークンで送るべき")
	}

	// 送信後はウィザードが破棄される
	w = serve(t, http.HandlerFunc(h.Get), m, http.MethodGet, "/api/survey", nil)
	assertError(t, w, http.StatusConflict, model.ErrCodeSurveyNotStarted)
}

func TestSurveyHandler_Submit_NotifyFailureStillSucceeds(t *testing.T) {
	m := newSignedInMount(t, newFakeAuthAPI(t, "user-1", "member@example.com", completedProfile()))
	h := newTestSurveyHandler(&mockNotifier{err: errBackendDown})

	serve(t, http.HandlerFunc(h.Start), m, http.MethodPost, "/api/survey/start", nil)
	w := serve(t, http.HandlerFunc(h.Submit), m, http.MethodPost, "/api/survey/submit", nil)

	if w.Code != http.StatusOK {
		t.Errorf("通知の失敗は送信を失敗させない: status = %d", w.Code)
	}
}

func TestSurveyHandler_Cancel(t *testing.T) {
	m := newSignedInMount(t, newFakeAuthAPI(t, "user-1", "member@example.com", completedProfile()))
	h := newTestSurveyHandler(nil)

	serve(t, http.HandlerFunc(h.Start), m, http.MethodPost, "/api/survey/start", nil)
	w := serve(t, http.HandlerFunc(h.Cancel), m, http.MethodPost, "/api/survey/cancel", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}

	w = serve(t, http.HandlerFunc(h.Get), m, http.MethodGet, "/api/survey", nil)
	assertError(t, w, http.StatusConflict, model.ErrCodeSurveyNotStarted)
	if m.State().Session.SurveyCompleted {
		t.Error("キャンセルで survey_completed が立ってはならない")
	}
}

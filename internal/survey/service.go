package survey

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/minglemood/internal/functions"
	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/metrics"
	"github.com/hitoshi/minglemood/internal/model"
	"github.com/hitoshi/minglemood/internal/security"
	"github.com/hitoshi/minglemood/internal/session"
)

// 送信結果のメトリクスラベル。
const (
	outcomeSubmitted    = "submitted"
	outcomeNotifyFailed = "notify_failed"
	outcomeFailed       = "failed"
	outcomeCancelled    = "cancelled"
)

// Member はリクエスト中の会員セッションの操作。*session.Mount が実装する。
type Member interface {
	State() session.State
	Storage() identity.TokenStorage
	UpdateMetadata(ctx context.Context, patch map[string]any) (session.State, error)
	AccessToken(ctx context.Context) (string, error)
}

var _ Member = (*session.Mount)(nil)

// Notifier はアンケート送信の通知先。*functions.Client が実装する。
type Notifier interface {
	NotifySurveyCompleted(ctx context.Context, accessToken string, n functions.SurveyCompletedNotification) error
}

// View はウィザードの表示用スナップショット。
type View struct {
	CurrentStep int              `json:"current_step"`
	TotalSteps  int              `json:"total_steps"`
	Progress    float64          `json:"progress"`
	IsLastStep  bool             `json:"is_last_step"`
	Step        Step             `json:"step"`
	Draft       model.SurveyData `json:"draft"`
}

// NewView はWizardから表示用スナップショットを作る。
func NewView(w *Wizard) View {
	return View{
		CurrentStep: w.CurrentStep,
		TotalSteps:  TotalSteps,
		Progress:    w.Progress(),
		IsLastStep:  w.IsLastStep(),
		Step:        Steps()[w.CurrentStep],
		Draft:       w.Snapshot(),
	}
}

// Service はアンケートウィザードのリクエスト間の状態管理と送信を行う。
type Service struct {
	notifier  Notifier
	sanitizer security.TextSanitizer
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(notifier Notifier, sanitizer security.TextSanitizer, logger *slog.Logger, m metrics.MetricsCollector) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		notifier:  notifier,
		sanitizer: sanitizer,
		logger:    logger,
		metrics:   m,
	}
}

// Start はアンケートを開始する。入力途中のウィザードがあればそれを再開する。
// アンケート画面を表示するUIフラグも立てる。
func (s *Service) Start(ctx context.Context, m Member) (*Wizard, error) {
	if !m.State().Session.Authenticated() {
		return nil, model.NewUnauthorizedError()
	}
	store := NewStore(m.Storage())
	w, ok, err := store.Load(ctx)
	if err != nil {
		s.logger.Warn("保存されたアンケートを破棄して最初から開始します",
			slog.String("error", err.Error()),
		)
	}
	if !ok {
		w = New()
		if err := store.Save(ctx, w); err != nil {
			return nil, err
		}
	}
	if err := m.Storage().Set(ctx, session.ShowSurveyKey, "true"); err != nil {
		return nil, fmt.Errorf("アンケート表示フラグの保存に失敗しました: %w", err)
	}
	return w, nil
}

// Current は入力途中のウィザードを返す。開始していない場合はエラーを返す。
func (s *Service) Current(ctx context.Context, m Member) (*Wizard, error) {
	w, ok, err := NewStore(m.Storage()).Load(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.NewSurveyNotStartedError()
	}
	return w, nil
}

// Next は次のステップへ進める。
func (s *Service) Next(ctx context.Context, m Member) (*Wizard, error) {
	return s.update(ctx, m, func(w *Wizard) error {
		w.Next()
		return nil
	})
}

// Previous は前のステップへ戻す。
func (s *Service) Previous(ctx context.Context, m Member) (*Wizard, error) {
	return s.update(ctx, m, func(w *Wizard) error {
		w.Previous()
		return nil
	})
}

// Apply は1回分の入力を反映する。
func (s *Service) Apply(ctx context.Context, m Member, mut Mutation) (*Wizard, error) {
	return s.update(ctx, m, func(w *Wizard) error {
		return w.Apply(mut)
	})
}

// Submit は回答一式をメタデータへマージし（survey_completed=true）、送信を通知する。
// メタデータの更新に失敗した場合はウィザードを残し、再送信できるようにする。
// 通知の失敗は送信の成否に影響しない。
func (s *Service) Submit(ctx context.Context, m Member) (session.State, error) {
	state := m.State()
	if !state.Session.Authenticated() {
		return state, model.NewUnauthorizedError()
	}
	w, err := s.Current(ctx, m)
	if err != nil {
		return state, err
	}

	err = w.Submit(func(data model.SurveyData) error {
		s.sanitize(&data)

		state, err = m.UpdateMetadata(ctx, map[string]any{
			model.MetaSurveyData:      data,
			model.MetaSurveyCompleted: true,
		})
		if err != nil {
			return err
		}
		s.notify(ctx, m, state, data)
		return nil
	})
	if err != nil {
		s.metrics.RecordSurveySubmission(outcomeFailed)
		s.logger.Error("アンケートの送信に失敗しました",
			slog.String("error", err.Error()),
		)
		return state, err
	}

	s.clear(ctx, m)
	return state, nil
}

// Cancel は入力途中のウィザードを破棄し、アンケート画面を閉じる。
func (s *Service) Cancel(ctx context.Context, m Member) {
	w, ok, _ := NewStore(m.Storage()).Load(ctx)
	if !ok {
		w = New()
	}
	w.Cancel(func() {
		s.metrics.RecordSurveySubmission(outcomeCancelled)
		s.clear(ctx, m)
	})
}

func (s *Service) update(ctx context.Context, m Member, fn func(*Wizard) error) (*Wizard, error) {
	w, err := s.Current(ctx, m)
	if err != nil {
		return nil, err
	}
	if err := fn(w); err != nil {
		return nil, err
	}
	if err := NewStore(m.Storage()).Save(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// sanitize は自由記述の項目からHTMLを取り除く。
func (s *Service) sanitize(data *model.SurveyData) {
	if s.sanitizer == nil {
		return
	}
	for _, f := range fields {
		if f.FreeText {
			v := f.text(data)
			*v = s.sanitizer.Sanitize(*v)
		}
	}
}

func (s *Service) notify(ctx context.Context, m Member, state session.State, data model.SurveyData) {
	user := state.Session.User
	if s.notifier == nil || user == nil {
		s.metrics.RecordSurveySubmission(outcomeSubmitted)
		return
	}

	token, err := m.AccessToken(ctx)
	if err == nil {
		err = s.notifier.NotifySurveyCompleted(ctx, token, functions.SurveyCompletedNotification{
			UserID: user.ID,
			Email:  user.Email,
			Survey: data,
		})
	}
	if err != nil {
		s.metrics.RecordSurveySubmission(outcomeNotifyFailed)
		s.logger.Warn("アンケート送信の通知に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.metrics.RecordSurveySubmission(outcomeSubmitted)
}

// clear はウィザードとアンケート表示フラグを削除する。
func (s *Service) clear(ctx context.Context, m Member) {
	if err := NewStore(m.Storage()).Discard(ctx); err != nil {
		s.logger.Warn("アンケート状態の削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	if err := m.Storage().Remove(ctx, session.ShowSurveyKey); err != nil {
		s.logger.Warn("アンケート表示フラグの削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

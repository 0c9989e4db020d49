package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/hitoshi/minglemood/internal/functions"
	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/metrics"
	"github.com/hitoshi/minglemood/internal/model"
	"github.com/hitoshi/minglemood/internal/navigation"
	"github.com/hitoshi/minglemood/internal/profile"
	"github.com/hitoshi/minglemood/internal/security"
	"github.com/hitoshi/minglemood/internal/session"
)

// 会員登録できる年齢の範囲。
const (
	MinAge = 18
	MaxAge = 120
)

// Member はリクエスト中の会員セッションの操作。*session.Mount が実装する。
type Member interface {
	State() session.State
	Storage() identity.TokenStorage
	UpdateMetadata(ctx context.Context, patch map[string]any) (session.State, error)
	AccessToken(ctx context.Context) (string, error)
}

var _ Member = (*session.Mount)(nil)

// ProfileNotifier はプロフィール入力完了の通知先。*functions.Client が実装する。
type ProfileNotifier interface {
	NotifyProfileCompleted(ctx context.Context, accessToken string, n functions.ProfileCompletedNotification) error
}

// Query は画面決定に使うURLクエリパラメータ。
type Query struct {
	DeleteUser  bool
	TestBackend bool
	Survey      bool
}

// Service は画面決定とオンボーディングの各操作を提供する。
type Service struct {
	machine   *Machine
	notifier  ProfileNotifier
	sanitizer security.TextSanitizer
	photos    profile.PhotoChecker
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。photosがnilの場合は写真URLを確認しない。
func NewService(
	machine *Machine,
	notifier ProfileNotifier,
	sanitizer security.TextSanitizer,
	photos profile.PhotoChecker,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		machine:   machine,
		notifier:  notifier,
		sanitizer: sanitizer,
		photos:    photos,
		logger:    logger,
		metrics:   m,
	}
}

// Resolve は現在のセッションと保存されたUIフラグから画面を決める。
// ?survey=true の場合はアンケート表示フラグを保存する。
// 保存されていたタブが使えない場合は既定のタブを保存し直す。
func (s *Service) Resolve(ctx context.Context, m Member, q Query) (ViewState, error) {
	storage := m.Storage()
	if q.Survey && m.State().Session.Authenticated() {
		if err := storage.Set(ctx, session.ShowSurveyKey, "true"); err != nil {
			return ViewState{}, fmt.Errorf("アンケート表示フラグの保存に失敗しました: %w", err)
		}
	}

	flags, err := loadFlags(ctx, storage)
	if err != nil {
		return ViewState{}, err
	}
	flags.DeleteUserTool = q.DeleteUser
	flags.BackendTestTool = q.TestBackend

	view := s.machine.Reduce(m.State(), flags)
	if view.TabCorrected {
		s.logger.Info("使用できないタブを既定のタブへ戻しました",
			slog.String("tab", flags.ActiveTab),
		)
		if err := storage.Set(ctx, session.ActiveTabKey, view.ActiveTab); err != nil {
			s.logger.Warn("タブの保存に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}
	s.metrics.RecordView(string(view.Kind))
	return view, nil
}

// SetActiveTab はダッシュボードのタブを切り替える。
// アンケートのメニュー項目はタブではなくアンケート画面を開く。
func (s *Service) SetActiveTab(ctx context.Context, m Member, tab string) (ViewState, error) {
	state := m.State()
	if !state.Session.Authenticated() {
		return ViewState{}, model.NewUnauthorizedError()
	}
	sess := state.Session
	if !navigation.Contains(s.machine.menus.Items(sess.IsAdmin, sess.SurveyCompleted), tab) {
		return ViewState{}, model.NewValidationError(map[string]string{"tab": "選択できないタブです"})
	}

	key, value := session.ActiveTabKey, tab
	if tab == navigation.ItemSurvey {
		key, value = session.ShowSurveyKey, "true"
	}
	if err := m.Storage().Set(ctx, key, value); err != nil {
		return ViewState{}, fmt.Errorf("タブの保存に失敗しました: %w", err)
	}
	return s.Resolve(ctx, m, Query{})
}

// CompleteProfile はプロフィールを検証して保存し、サンクス画面へ進める。
// profile_complete=true と thank_you_seen=false を同時に書き込む。
func (s *Service) CompleteProfile(ctx context.Context, m Member, p model.ProfileData) (ViewState, error) {
	state := m.State()
	if !state.Session.Authenticated() {
		return ViewState{}, model.NewUnauthorizedError()
	}

	p = s.sanitizeProfile(p)
	if fields := ValidateProfile(p); len(fields) > 0 {
		return ViewState{}, model.NewValidationError(fields)
	}
	if p.PhotoURL != "" && s.photos != nil {
		if err := s.photos.Check(ctx, p.PhotoURL); err != nil {
			return ViewState{}, model.NewValidationError(map[string]string{"photo_url": photoErrorMessage(err)})
		}
	}

	state, err := m.UpdateMetadata(ctx, map[string]any{
		model.MetaProfileComplete: true,
		model.MetaThankYouSeen:    false,
		model.MetaProfileData:     p,
	})
	if err != nil {
		return ViewState{}, err
	}

	if user := state.Session.User; user != nil && s.notifier != nil {
		s.notifyProfileCompleted(ctx, m, user, p)
	}
	return s.Resolve(ctx, m, Query{})
}

// ContinueFromThankYou はサンクス画面を閉じる（thank_you_seen=true）。
func (s *Service) ContinueFromThankYou(ctx context.Context, m Member) (ViewState, error) {
	if !m.State().Session.Authenticated() {
		return ViewState{}, model.NewUnauthorizedError()
	}
	if _, err := m.UpdateMetadata(ctx, map[string]any{model.MetaThankYouSeen: true}); err != nil {
		return ViewState{}, err
	}
	return s.Resolve(ctx, m, Query{})
}

// ValidateProfile はプロフィールの必須項目を検証し、項目ごとのメッセージを返す。
func ValidateProfile(p model.ProfileData) map[string]string {
	fields := make(map[string]string)
	if p.FirstName == "" {
		fields["first_name"] = "名前を入力してください"
	}
	if p.Age < MinAge || p.Age > MaxAge {
		fields["age"] = fmt.Sprintf("年齢は%dから%dの範囲で入力してください", MinAge, MaxAge)
	}
	if p.Gender == "" {
		fields["gender"] = "性別を選択してください"
	}
	if p.InterestedIn == "" {
		fields["interested_in"] = "興味のある相手を選択してください"
	}
	if p.Location == "" {
		fields["location"] = "居住地を入力してください"
	}
	if len([]rune(p.Bio)) > 1000 {
		fields["bio"] = "自己紹介は1000文字以内で入力してください"
	}
	return fields
}

// ValidateSignup はサインアップフォームを検証する。
func ValidateSignup(email, password, firstName string) map[string]string {
	fields := make(map[string]string)
	// 表示名付き（"Bob <b@x.io>"）はアドレス単体と一致しないため不正とする
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields["email"] = "メールアドレスの形式が正しくありません"
	}
	if len(password) < 6 {
		fields["password"] = "パスワードは6文字以上で入力してください"
	}
	if strings.TrimSpace(firstName) == "" {
		fields["first_name"] = "名前を入力してください"
	}
	return fields
}

func (s *Service) sanitizeProfile(p model.ProfileData) model.ProfileData {
	clean := func(v string) string {
		if s.sanitizer == nil {
			return strings.TrimSpace(v)
		}
		return s.sanitizer.Sanitize(v)
	}
	p.FirstName = clean(p.FirstName)
	p.LastName = clean(p.LastName)
	p.Gender = clean(p.Gender)
	p.InterestedIn = clean(p.InterestedIn)
	p.Location = clean(p.Location)
	p.Occupation = clean(p.Occupation)
	p.Bio = clean(p.Bio)
	p.Instagram = strings.TrimPrefix(clean(p.Instagram), "@")
	p.Phone = clean(p.Phone)
	p.PhotoURL = strings.TrimSpace(p.PhotoURL)
	return p
}

func (s *Service) notifyProfileCompleted(ctx context.Context, m Member, user *model.Identity, p model.ProfileData) {
	token, err := m.AccessToken(ctx)
	if err == nil {
		err = s.notifier.NotifyProfileCompleted(ctx, token, functions.ProfileCompletedNotification{
			UserID:  user.ID,
			Email:   user.Email,
			Profile: p,
		})
	}
	if err != nil {
		s.logger.Warn("プロフィール入力完了の通知に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

func photoErrorMessage(err error) string {
	switch {
	case errors.Is(err, security.ErrUnsafeURL):
		return "このURLの写真は使用できません（httpsの公開URLを指定してください）"
	case errors.Is(err, profile.ErrPhotoNotImage):
		return "URLが画像を指していません"
	case errors.Is(err, profile.ErrPhotoTooLarge):
		return "写真のサイズが大きすぎます"
	default:
		return "写真を取得できませんでした"
	}
}

// loadFlags はストレージからUIフラグを読み込む。
func loadFlags(ctx context.Context, storage identity.TokenStorage) (UIFlags, error) {
	var flags UIFlags
	show, _, err := storage.Get(ctx, session.ShowSurveyKey)
	if err != nil {
		return flags, fmt.Errorf("UI状態の読み込みに失敗しました: %w", err)
	}
	tab, _, err := storage.Get(ctx, session.ActiveTabKey)
	if err != nil {
		return flags, fmt.Errorf("UI状態の読み込みに失敗しました: %w", err)
	}
	flags.ShowSurvey = show == "true"
	flags.ActiveTab = tab
	return flags, nil
}

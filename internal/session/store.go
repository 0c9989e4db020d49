// Package session はログイン中ユーザーの状態（Session Store）と、
// IdPの認証状態変化をStoreへ反映する同期処理（Synchronizer）を提供する。
package session

import (
	"strings"
	"sync"

	"github.com/hitoshi/minglemood/internal/model"
)

// ブラウザセッションレコードのdataに保存するUI状態のキー。
const (
	ShowSurveyKey   = "minglemood.ui.show_survey"
	ActiveTabKey    = "minglemood.ui.active_tab"
	SurveyWizardKey = "minglemood.survey.wizard"
)

// LegacyDemoKeys は旧デモモードが残したキー。起動時に必ず削除する。
var LegacyDemoKeys = []string{
	"minglemood_demo_users",
	"minglemood_demo_events",
	"minglemood_demo_mode",
	"demo_user",
}

// State はStoreのスナップショット。
type State struct {
	Session model.Session
	// Loading は初回のセッション確認が完了していないことを表す。
	Loading bool
}

// Store はログイン中ユーザーと導出フラグを保持する。
// 初期状態はLoading。書き込みは常に導出済みのSession全体を置き換える。
type Store struct {
	mu      sync.RWMutex
	session model.Session
	loading bool
}

// NewStore はLoading状態のStoreを生成する。
func NewStore() *Store {
	return &Store{loading: true}
}

// Snapshot は現在の状態を返す。
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{Session: s.session, Loading: s.loading}
}

// Set はSessionを置き換え、Loadingを解除する。
func (s *Store) Set(session model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.loading = false
}

// Reset は未ログイン状態に戻し、Loadingを解除する。
func (s *Store) Reset() {
	s.Set(model.Session{})
}

// SetLoading はLoadingフラグを設定する。
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

// AdminSet は管理者として扱うメールアドレスの集合。
// 比較は前後の空白を除いた小文字で行う。
type AdminSet map[string]struct{}

// NewAdminSet はメールアドレスの一覧からAdminSetを生成する。空の要素は無視する。
func NewAdminSet(emails []string) AdminSet {
	set := make(AdminSet, len(emails))
	for _, e := range emails {
		if key := normalizeEmail(e); key != "" {
			set[key] = struct{}{}
		}
	}
	return set
}

// Contains はメールアドレスが管理者かを返す。
func (a AdminSet) Contains(email string) bool {
	_, ok := a[normalizeEmail(email)]
	return ok
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Derive はIdentityからSessionを導出する。userがnilの場合はゼロ値を返す。
// ShowThankYouはプロフィール完了済みかつお礼画面未表示の場合のみtrueになる。
func Derive(user *model.Identity, admins AdminSet) model.Session {
	if user == nil {
		return model.Session{}
	}
	md := user.Metadata
	return model.Session{
		User:            user,
		IsAdmin:         admins.Contains(user.Email),
		ProfileComplete: md.ProfileComplete,
		ShowThankYou:    md.ProfileComplete && !md.ThankYouSeen,
		SurveyCompleted: md.SurveyCompleted,
	}
}

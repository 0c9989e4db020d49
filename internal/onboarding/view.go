// Package onboarding はセッション状態とUIフラグから表示する画面を決定する。
package onboarding

import (
	"github.com/hitoshi/minglemood/internal/model"
	"github.com/hitoshi/minglemood/internal/navigation"
	"github.com/hitoshi/minglemood/internal/session"
)

// ViewKind はトップレベルの画面の種類。
type ViewKind string

const (
	ViewDeleteUserTool    ViewKind = "delete_user_tool"
	ViewBackendTestTool   ViewKind = "backend_test_tool"
	ViewLoading           ViewKind = "loading"
	ViewUnauthenticated   ViewKind = "unauthenticated"
	ViewProfileIncomplete ViewKind = "profile_incomplete"
	ViewThankYou          ViewKind = "thank_you"
	ViewSurveyPrompt      ViewKind = "survey_prompt"
	ViewDashboard         ViewKind = "dashboard"
)

// DefaultTab はダッシュボードの既定のタブ。
const DefaultTab = navigation.ItemEvents

// UIFlags はセッションとは別に保持するUI状態。
type UIFlags struct {
	// DeleteUserTool と BackendTestTool は診断ツールを開くクエリパラメータ。
	DeleteUserTool  bool
	BackendTestTool bool
	ShowSurvey      bool
	ActiveTab       string
}

// ViewState はReduceが選んだ画面。
type ViewState struct {
	Kind      ViewKind               `json:"kind"`
	ActiveTab string                 `json:"active_tab,omitempty"`
	Menu      []model.NavigationItem `json:"menu,omitempty"`
	// TabCorrected は保存されていたタブが使えず既定のタブへ戻したことを表す。
	TabCorrected bool `json:"-"`
}

// Machine は画面決定のガードを優先順に評価する。
type Machine struct {
	menus *navigation.Builder
}

// NewMachine はMachineを生成する。
func NewMachine(menus *navigation.Builder) *Machine {
	if menus == nil {
		menus = navigation.NewBuilder()
	}
	return &Machine{menus: menus}
}

// Reduce はセッション状態とUIフラグから画面を1つ選ぶ。副作用を持たない。
// 優先順: 診断ツール、確認中、未ログイン、プロフィール未入力、サンクス、
// アンケート、ダッシュボード。
func (m *Machine) Reduce(state session.State, flags UIFlags) ViewState {
	s := state.Session

	switch {
	case flags.DeleteUserTool:
		return ViewState{Kind: ViewDeleteUserTool}
	case flags.BackendTestTool:
		return ViewState{Kind: ViewBackendTestTool}
	case state.Loading:
		return ViewState{Kind: ViewLoading}
	case !s.Authenticated():
		return ViewState{Kind: ViewUnauthenticated}
	case !s.ProfileComplete:
		return ViewState{Kind: ViewProfileIncomplete}
	case s.ShowThankYou:
		return ViewState{Kind: ViewThankYou}
	case flags.ShowSurvey:
		return ViewState{Kind: ViewSurveyPrompt, Menu: m.menus.Items(s.IsAdmin, s.SurveyCompleted)}
	}

	menu := m.menus.Items(s.IsAdmin, s.SurveyCompleted)
	view := ViewState{Kind: ViewDashboard, ActiveTab: flags.ActiveTab, Menu: menu}
	if view.ActiveTab == "" {
		view.ActiveTab = DefaultTab
	} else if !navigation.Contains(menu, view.ActiveTab) {
		view.ActiveTab = DefaultTab
		view.TabCorrected = true
	}
	return view
}

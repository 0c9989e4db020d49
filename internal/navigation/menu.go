// Package navigation はダッシュボードのメニュー項目を組み立てる。
package navigation

import (
	"sync"

	"github.com/hitoshi/minglemood/internal/model"
)

// メニュー項目のID。ダッシュボードのタブIDとしても使う。
const (
	ItemEvents      = "events"
	ItemMessages    = "messages"
	ItemMembership  = "membership"
	ItemSurvey      = "survey"
	ItemProfile     = "profile"
	ItemAdmin       = "admin"
	ItemEmailFunnel = "email-funnel"
)

// surveyIndex はPreferences Surveyを挿入する位置（My Profileの直前）。
const surveyIndex = 3

var (
	baseItems = []model.NavigationItem{
		{ID: ItemEvents, Label: "Events", Icon: "calendar"},
		{ID: ItemMessages, Label: "Messages", Icon: "message-circle"},
		{ID: ItemMembership, Label: "Membership", Icon: "crown"},
		{ID: ItemProfile, Label: "My Profile", Icon: "user"},
	}
	surveyItem = model.NavigationItem{ID: ItemSurvey, Label: "Preferences Survey", Icon: "clipboard-list"}
	adminItems = []model.NavigationItem{
		{ID: ItemAdmin, Label: "Admin", Icon: "shield"},
		{ID: ItemEmailFunnel, Label: "Email Funnel", Icon: "mail"},
	}
)

// Build は管理者フラグとアンケート完了フラグからメニュー項目を順序どおりに返す。
// 基本の4項目は常に含まれ、アンケート未完了ならPreferences Surveyを4番目に挿入し、
// 管理者ならAdminとEmail Funnelを末尾に追加する。戻り値は呼び出しごとに新しいスライス。
func Build(isAdmin, surveyCompleted bool) []model.NavigationItem {
	items := make([]model.NavigationItem, 0, len(baseItems)+1+len(adminItems))
	items = append(items, baseItems[:surveyIndex]...)
	if !surveyCompleted {
		items = append(items, surveyItem)
	}
	items = append(items, baseItems[surveyIndex:]...)
	if isAdmin {
		items = append(items, adminItems...)
	}
	return items
}

// Contains はメニューに指定したIDの項目があるかを返す。
func Contains(items []model.NavigationItem, id string) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}

type menuKey struct {
	isAdmin         bool
	surveyCompleted bool
}

// Builder はBuildの結果をフラグの組み合わせごとに保持する。
// 組み合わせは4通りしかないため上限は設けない。
type Builder struct {
	mu    sync.Mutex
	cache map[menuKey][]model.NavigationItem
}

// NewBuilder はBuilderを生成する。
func NewBuilder() *Builder {
	return &Builder{cache: make(map[menuKey][]model.NavigationItem)}
}

// Items はメニュー項目を返す。呼び出し元が変更しても保持している結果には影響しない。
func (b *Builder) Items(isAdmin, surveyCompleted bool) []model.NavigationItem {
	key := menuKey{isAdmin: isAdmin, surveyCompleted: surveyCompleted}

	b.mu.Lock()
	items, ok := b.cache[key]
	if !ok {
		items = Build(isAdmin, surveyCompleted)
		b.cache[key] = items
	}
	b.mu.Unlock()

	return append([]model.NavigationItem(nil), items...)
}

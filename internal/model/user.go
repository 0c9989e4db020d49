// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// Identity はIdPが管理するユーザーを表す。
// メタデータはIdP側では型なしJSONとして保存されるため、
// 読み込み時にMetadataへ変換し、元のバッグもRawMetadataに保持する。
type Identity struct {
	ID          string
	Email       string
	Metadata    Metadata
	RawMetadata map[string]json.RawMessage
	// MetadataErr はRawMetadataの解析に失敗した場合のエラー（回復可能）。
	MetadataErr error
}

// NewIdentity は型なしメタデータを解析してIdentityを生成する。
// 解析に失敗してもIdentityは返し、エラーはMetadataErrに保持する。
func NewIdentity(id, email string, raw map[string]json.RawMessage) *Identity {
	md, err := ParseMetadata(raw)
	return &Identity{
		ID:          id,
		Email:       email,
		Metadata:    md,
		RawMetadata: raw,
		MetadataErr: err,
	}
}

// Session はIdentityから導出されるクライアント向けの一時的なビュー。
// 永続化はしない。サインアウト時にゼロ値へリセットされる。
type Session struct {
	User            *Identity
	IsAdmin         bool
	ProfileComplete bool
	ShowThankYou    bool
	SurveyCompleted bool
}

// Authenticated はログイン中のユーザーが存在するかを返す。
func (s Session) Authenticated() bool {
	return s.User != nil
}

// BrowserSession はブラウザごとのセッションレコードを表す。
// Cookieに保存したIDで引き当て、dataカラムをブラウザのlocal/session storage相当として使う。
type BrowserSession struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NavigationItem はダッシュボードのメニュー項目を表す。
type NavigationItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

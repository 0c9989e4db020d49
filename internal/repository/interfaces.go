// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/minglemood/internal/model"
)

// SessionRepository はブラウザセッションレコードの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。dataは空のオブジェクトで初期化される。
	Create(ctx context.Context, session *model.BrowserSession) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.BrowserSession, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// SetUserID はセッションにログイン中のユーザーIDを記録する。空文字はNULLとして保存する。
	SetUserID(ctx context.Context, id, userID string) error
	// Extend はセッションの有効期限を延長する。
	Extend(ctx context.Context, id string, expiresAt time.Time) error

	SessionDataRepository
}

// SessionDataRepository はセッションレコードのdataカラム（キー・バリュー）の操作。
type SessionDataRepository interface {
	// LoadData はdataの全キーを返す。セッションが存在しない場合は空のマップを返す。
	LoadData(ctx context.Context, id string) (map[string]string, error)
	// SetData はdataのキーに値を保存する。
	SetData(ctx context.Context, id, key, value string) error
	// RemoveData はdataから指定したキーを削除する。
	RemoveData(ctx context.Context, id string, keys ...string) error
}

// SessionMaintenance はバッチジョブ向けのセッション操作。
type SessionMaintenance interface {
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
	// PurgeDataKeys は全セッションのdataから指定したキーを削除し、更新件数を返す。
	PurgeDataKeys(ctx context.Context, keys []string) (int64, error)
}

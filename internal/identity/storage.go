package identity

import (
	"context"
	"sync"
)

// 認証トークンの保存キー。ブラウザのlocal storageで使われていたキー名を踏襲する。
const (
	AccessTokenKey  = "sb-access-token"
	RefreshTokenKey = "sb-refresh-token"
)

// TokenStorage はトークンなどのキー・バリューを保存するストレージ。
// 本番ではブラウザセッションレコード（sessions.data）が実装する。
type TokenStorage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
}

// MemoryStorage はメモリ上のTokenStorage実装。
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
}

var _ TokenStorage = (*MemoryStorage)(nil)

// NewMemoryStorage はMemoryStorageを生成する。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

// Get はキーの値を返す。
func (s *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set はキーに値を保存する。
func (s *MemoryStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Remove は指定したキーを削除する。存在しないキーは無視する。
func (s *MemoryStorage) Remove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

package repository

import (
	"context"
	"sync"

	"github.com/hitoshi/minglemood/internal/identity"
)

// SessionStorage は1つのブラウザセッションのdataカラムをTokenStorageとして扱う。
// 初回のGetで全キーを読み込み、以降の読み取りはキャッシュから返す。
// 書き込みは常にデータベースへ反映してからキャッシュを更新する。
// 1リクエストの間だけ使う。
type SessionStorage struct {
	repo      SessionDataRepository
	sessionID string

	mu     sync.Mutex
	values map[string]string
}

var _ identity.TokenStorage = (*SessionStorage)(nil)

// NewSessionStorage はSessionStorageを生成する。
func NewSessionStorage(repo SessionDataRepository, sessionID string) *SessionStorage {
	return &SessionStorage{repo: repo, sessionID: sessionID}
}

// Get はキーの値を返す。
func (s *SessionStorage) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return "", false, err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

// Set はキーに値を保存する。
func (s *SessionStorage) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.SetData(ctx, s.sessionID, key, value); err != nil {
		return err
	}
	if s.values != nil {
		s.values[key] = value
	}
	return nil
}

// Remove は指定したキーを削除する。
func (s *SessionStorage) Remove(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.RemoveData(ctx, s.sessionID, keys...); err != nil {
		return err
	}
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func (s *SessionStorage) load(ctx context.Context) error {
	if s.values != nil {
		return nil
	}
	values, err := s.repo.LoadData(ctx, s.sessionID)
	if err != nil {
		return err
	}
	if values == nil {
		values = make(map[string]string)
	}
	s.values = values
	return nil
}

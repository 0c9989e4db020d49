package survey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/session"
)

// Store は入力途中のWizardをブラウザセッションのストレージに保存する。
type Store struct {
	storage identity.TokenStorage
}

// NewStore はStoreを生成する。
func NewStore(storage identity.TokenStorage) *Store {
	return &Store{storage: storage}
}

// Load は保存されたWizardを返す。保存されていない場合は nil, false を返す。
func (s *Store) Load(ctx context.Context) (*Wizard, bool, error) {
	raw, ok, err := s.storage.Get(ctx, session.SurveyWizardKey)
	if err != nil {
		return nil, false, fmt.Errorf("アンケートの読み込みに失敗しました: %w", err)
	}
	if !ok || raw == "" {
		return nil, false, nil
	}

	var w Wizard
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, false, fmt.Errorf("保存されたアンケートの解析に失敗しました: %w", err)
	}
	w.normalize()
	return &w, true, nil
}

// Save はWizardを保存する。
func (s *Store) Save(ctx context.Context, w *Wizard) error {
	b, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("アンケートのエンコードに失敗しました: %w", err)
	}
	if err := s.storage.Set(ctx, session.SurveyWizardKey, string(b)); err != nil {
		return fmt.Errorf("アンケートの保存に失敗しました: %w", err)
	}
	return nil
}

// Discard は保存されたWizardを削除する。
func (s *Store) Discard(ctx context.Context) error {
	if err := s.storage.Remove(ctx, session.SurveyWizardKey); err != nil {
		return fmt.Errorf("アンケートの削除に失敗しました: %w", err)
	}
	return nil
}

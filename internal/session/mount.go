package session

import (
	"context"
	"log/slog"

	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/metrics"
)

// Mount は1リクエストの間だけ有効なSynchronizerとIdPクライアントの組。
type Mount struct {
	Sync    *Synchronizer
	Client  *identity.Client
	storage identity.TokenStorage
}

// State は現在のセッション状態を返す。
func (m *Mount) State() State {
	return m.Sync.Store().Snapshot()
}

// Storage はブラウザセッションのストレージを返す。
func (m *Mount) Storage() identity.TokenStorage {
	return m.storage
}

// UpdateMetadata はメタデータの変更を要求し、再導出後の状態を返す。
func (m *Mount) UpdateMetadata(ctx context.Context, patch map[string]any) (State, error) {
	return m.Sync.UpdateMetadata(ctx, patch)
}

// AccessToken はFunction呼び出し用のアクセストークンを返す。
func (m *Mount) AccessToken(ctx context.Context) (string, error) {
	return m.Client.AccessToken(ctx)
}

// Close は購読を解除し、IdPクライアントを閉じる（unmount）。
func (m *Mount) Close() {
	m.Sync.Close()
	m.Client.Close()
}

// Factory はブラウザセッションごとのストレージに紐づくMountを生成する。
type Factory struct {
	api      identity.AuthAPI
	verifier *identity.TokenVerifier
	admins   AdminSet
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
}

// NewFactory はFactoryを生成する。
func NewFactory(api identity.AuthAPI, verifier *identity.TokenVerifier, admins AdminSet, logger *slog.Logger, m metrics.MetricsCollector) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Factory{
		api:      api,
		verifier: verifier,
		admins:   admins,
		logger:   logger,
		metrics:  m,
	}
}

// Mount は旧デモデータのキーを削除したうえでSynchronizerを起動し、初回のセッション確認まで行う。
// 呼び出し元はリクエストの終わりに必ずCloseする。
func (f *Factory) Mount(ctx context.Context, storage identity.TokenStorage) *Mount {
	if err := storage.Remove(ctx, LegacyDemoKeys...); err != nil {
		f.logger.Warn("旧デモデータの削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	client := identity.NewClient(f.api, storage, f.verifier, f.logger)
	synchronizer := NewSynchronizer(client, storage, NewStore(), f.admins, f.logger,
		WithMetrics(f.metrics),
		WithSignOutKeys(ShowSurveyKey, ActiveTabKey, SurveyWizardKey),
	)
	synchronizer.Start(ctx)

	return &Mount{Sync: synchronizer, Client: client, storage: storage}
}

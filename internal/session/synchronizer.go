package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/metrics"
	"github.com/hitoshi/minglemood/internal/model"
)

// forcedSignOutReason は強制サインアウトのメトリクスラベル。
const forcedSignOutReason = "refresh_token"

// IdentityClient はSynchronizerが利用するIdPクライアントの操作。
// *identity.Client が実装する。
type IdentityClient interface {
	GetSession(ctx context.Context) (*identity.AuthSession, error)
	SignIn(ctx context.Context, email, password string) (*identity.AuthSession, error)
	SignUp(ctx context.Context, email, password string, data map[string]any) (*identity.AuthSession, *model.Identity, error)
	SignOut(ctx context.Context) error
	UpdateUserMetadata(ctx context.Context, patch map[string]any) (*model.Identity, error)
	OnAuthStateChange(fn identity.AuthChangeFunc) (unsubscribe func())
}

var _ IdentityClient = (*identity.Client)(nil)

// Synchronizer はIdPの認証状態をStoreへ反映する。
// リクエストごとにStartで購読を開始し（mount）、Closeで解除する（unmount）。
// Close後に届いた通知はStoreへ書き込まない。
type Synchronizer struct {
	client  IdentityClient
	storage identity.TokenStorage
	store   *Store
	admins  AdminSet
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	// signOutKeys はサインアウト時にトークンと一緒に削除するキー
	signOutKeys []string

	alive       atomic.Bool
	mu          sync.Mutex
	unsubscribe func()
}

// Option はSynchronizerの任意設定。
type Option func(*Synchronizer)

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithSignOutKeys はサインアウト時に追加で削除するストレージキーを設定する。
func WithSignOutKeys(keys ...string) Option {
	return func(s *Synchronizer) { s.signOutKeys = append(s.signOutKeys, keys...) }
}

// NewSynchronizer はSynchronizerを生成する。
func NewSynchronizer(client IdentityClient, storage identity.TokenStorage, store *Store, admins AdminSet, logger *slog.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{
		client:  client,
		storage: storage,
		store:   store,
		admins:  admins,
		logger:  logger,
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store は同期先のStoreを返す。
func (s *Synchronizer) Store() *Store {
	return s.store
}

// Start は認証状態変化の購読を開始し、初回のセッション確認を行う。
// 購読を先に登録するため、確認中に発生した変化も取りこぼさない。
func (s *Synchronizer) Start(ctx context.Context) State {
	s.mu.Lock()
	if s.unsubscribe == nil {
		s.alive.Store(true)
		s.unsubscribe = s.client.OnAuthStateChange(s.OnAuthStateChange)
	}
	s.mu.Unlock()

	return s.CheckSession(ctx)
}

// CheckSession はIdPに現在のセッションを問い合わせてStoreへ反映する。
// リフレッシュトークン失効の場合は強制サインアウトする。
// それ以外のエラーはログに残して未ログインとして扱う。
func (s *Synchronizer) CheckSession(ctx context.Context) State {
	s.store.SetLoading(true)

	authSession, err := s.client.GetSession(ctx)
	if err != nil {
		if identity.IsRefreshTokenError(err) {
			s.logger.Warn("リフレッシュトークンが無効のためサインアウトします",
				slog.String("error", err.Error()),
			)
			s.metrics.RecordForcedSignOut(forcedSignOutReason)
			s.SignOut(ctx)
			return s.store.Snapshot()
		}
		s.logger.Error("セッションの確認に失敗しました",
			slog.String("error", err.Error()),
		)
		s.store.Reset()
		return s.store.Snapshot()
	}

	s.metrics.RecordAuthEvent(string(identity.EventInitialSession))
	if authSession == nil || authSession.User == nil {
		s.store.Reset()
		return s.store.Snapshot()
	}
	s.apply(authSession.User)
	return s.store.Snapshot()
}

// OnAuthStateChange は認証状態変化の通知を受け取ってStoreへ反映する。
// ユーザーを含むセッションなら再導出し、nilなら完全にクリアする。
// 何度呼ばれても同じ結果になる。unmount後は何もしない。
func (s *Synchronizer) OnAuthStateChange(event identity.AuthEvent, authSession *identity.AuthSession) {
	if !s.alive.Load() {
		return
	}
	s.metrics.RecordAuthEvent(string(event))

	if authSession == nil || authSession.User == nil {
		s.store.Reset()
		return
	}
	s.apply(authSession.User)
}

// SignIn はサインインしてStoreへ反映する。
// 直前に同じブラウザを使っていたユーザーのUI状態は引き継がない。
func (s *Synchronizer) SignIn(ctx context.Context, email, password string) (State, error) {
	authSession, err := s.client.SignIn(ctx, email, password)
	if err != nil {
		return s.store.Snapshot(), err
	}
	s.clearUserScopedKeys(ctx)
	s.apply(authSession.User)
	return s.store.Snapshot(), nil
}

// SignUp は新規登録する。IdPがセッションを発行した場合はStoreへ反映する。
// メール確認待ちの場合はStoreを変更せず、登録されたIdentityのみ返す。
func (s *Synchronizer) SignUp(ctx context.Context, email, password string, data map[string]any) (State, *model.Identity, error) {
	authSession, user, err := s.client.SignUp(ctx, email, password, data)
	if err != nil {
		return s.store.Snapshot(), nil, err
	}
	if authSession != nil && authSession.User != nil {
		s.clearUserScopedKeys(ctx)
		s.apply(authSession.User)
	}
	return s.store.Snapshot(), user, nil
}

// clearUserScopedKeys はサインアウト時と同じUI状態のキーを削除する。トークンは残す。
func (s *Synchronizer) clearUserScopedKeys(ctx context.Context) {
	if len(s.signOutKeys) == 0 {
		return
	}
	if err := s.storage.Remove(ctx, s.signOutKeys...); err != nil {
		s.logger.Error("UI状態の削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// SignOut はIdPへサインアウトを要求したうえで、結果にかかわらず
// Storeをリセットし、認証トークンとUI状態をストレージから削除する。
// IdPのエラーはログに残すだけで呼び出し元へは返さない。
func (s *Synchronizer) SignOut(ctx context.Context) {
	if err := s.client.SignOut(ctx); err != nil {
		s.logger.Warn("IdPへのサインアウト要求に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	s.store.Reset()

	keys := append([]string{identity.AccessTokenKey, identity.RefreshTokenKey}, s.signOutKeys...)
	if err := s.storage.Remove(ctx, keys...); err != nil {
		s.logger.Error("認証トークンの削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// UpdateMetadata はメタデータの変更をIdPへ要求し、更新後のIdentityからStoreを再導出する。
// 解析できないメタデータが返ってきた場合もStoreは更新し、エラーはログに残す。
func (s *Synchronizer) UpdateMetadata(ctx context.Context, patch map[string]any) (State, error) {
	user, err := s.client.UpdateUserMetadata(ctx, patch)
	if err != nil {
		if s.HandleBackgroundError(ctx, err) {
			return s.store.Snapshot(), model.NewSessionExpiredError()
		}
		if errors.Is(err, identity.ErrNoSession) {
			return s.store.Snapshot(), model.NewUnauthorizedError()
		}
		return s.store.Snapshot(), err
	}
	s.apply(user)
	return s.store.Snapshot(), nil
}

// HandleBackgroundError は処理されずに残ったエラーを受け取る最後の安全網。
// リフレッシュトークン失効であればサインアウトしてtrueを返す。
func (s *Synchronizer) HandleBackgroundError(ctx context.Context, err error) bool {
	if !identity.IsRefreshTokenError(err) {
		return false
	}
	s.logger.Warn("未処理のリフレッシュトークンエラーのためサインアウトします",
		slog.String("error", err.Error()),
	)
	s.metrics.RecordForcedSignOut(forcedSignOutReason)
	s.SignOut(ctx)
	return true
}

// Close は購読を解除する（unmount）。以降の通知はStoreへ反映されない。
func (s *Synchronizer) Close() {
	s.alive.Store(false)

	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// apply はIdentityからSessionを導出してStoreへ書き込む。
func (s *Synchronizer) apply(user *model.Identity) {
	if user.MetadataErr != nil {
		s.logger.Warn("ユーザーメタデータの一部を解析できませんでした",
			slog.String("user_id", user.ID),
			slog.String("error", user.MetadataErr.Error()),
		)
	}
	s.store.Set(Derive(user, s.admins))
}

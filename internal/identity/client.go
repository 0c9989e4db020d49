package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hitoshi/minglemood/internal/model"
)

// AuthEvent は認証状態変化の種類を表す。
type AuthEvent string

// 認証状態変化イベント。
const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// subscriberBuffer は購読者ごとのイベントバッファ長。
const subscriberBuffer = 8

// AuthChangeFunc は認証状態変化の通知を受け取るコールバック。
// サインアウト時はsessionがnilになる。
type AuthChangeFunc func(event AuthEvent, session *AuthSession)

// AuthAPI はIdPのREST操作を定義するインターフェース。
// *Provider が実装する。
type AuthAPI interface {
	SignInWithPassword(ctx context.Context, email, password string) (*AuthSession, error)
	SignUp(ctx context.Context, email, password string, data map[string]any) (*AuthSession, *model.Identity, error)
	RefreshSession(ctx context.Context, refreshToken string) (*AuthSession, error)
	GetUser(ctx context.Context, accessToken string) (*model.Identity, error)
	UpdateUserMetadata(ctx context.Context, accessToken string, patch map[string]any) (*model.Identity, error)
	Logout(ctx context.Context, accessToken string) error
}

var _ AuthAPI = (*Provider)(nil)

// authChange は購読者に配送されるイベント。
type authChange struct {
	event   AuthEvent
	session *AuthSession
	// handled はコールバックの完了時に閉じられる
	handled chan struct{}
}

// subscriber は1つの購読を表す。専用のgoroutineでコールバックを順に実行する。
type subscriber struct {
	ch   chan authChange
	quit chan struct{}
	done chan struct{}
}

// Client はトークンを保持し、認証状態の変化を購読者へ通知するIdPクライアント。
// ブラウザセッションごとに生成し、使い終わったらCloseする。
type Client struct {
	api      AuthAPI
	storage  TokenStorage
	verifier *TokenVerifier
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewClient はClientを生成する。
func NewClient(api AuthAPI, storage TokenStorage, verifier *TokenVerifier, logger *slog.Logger) *Client {
	if verifier == nil {
		verifier = NewTokenVerifier("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:      api,
		storage:  storage,
		verifier: verifier,
		logger:   logger,
		subs:     make(map[int]*subscriber),
	}
}

// GetSession は保存済みトークンから現在のセッションを取得する。
// アクセストークンが期限切れ・不正、またはIdPが401を返した場合は一度だけリフレッシュを試みる。
// トークンが保存されていない場合は (nil, nil) を返す。
func (c *Client) GetSession(ctx context.Context) (*AuthSession, error) {
	access, hasAccess, err := c.storage.Get(ctx, AccessTokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}
	refresh, hasRefresh, err := c.storage.Get(ctx, RefreshTokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}
	if !hasAccess && !hasRefresh {
		return nil, nil
	}

	if !hasAccess || access == "" {
		session, err := c.refresh(ctx, refresh)
		if err != nil {
			return nil, err
		}
		return session, nil
	}

	claims, verr := c.verifier.Verify(access)
	if verr != nil {
		c.logger.Debug("アクセストークンが使えないため更新します", slog.String("error", verr.Error()))
		session, err := c.refresh(ctx, refresh)
		if err != nil {
			return nil, err
		}
		return session, nil
	}

	user, err := c.api.GetUser(ctx, access)
	if err != nil && isUnauthorized(err) {
		session, rerr := c.refresh(ctx, refresh)
		if rerr != nil {
			return nil, rerr
		}
		return session, nil
	}
	if err != nil {
		return nil, err
	}

	return &AuthSession{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    claims.ExpiresAt.Time,
		User:         user,
	}, nil
}

// refresh はリフレッシュトークンで新しいセッションを取得して保存し、TOKEN_REFRESHEDを通知する。
func (c *Client) refresh(ctx context.Context, refreshToken string) (*AuthSession, error) {
	session, err := c.api.RefreshSession(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if err := c.persist(ctx, session); err != nil {
		return nil, err
	}
	c.emit(EventTokenRefreshed, session)
	return session, nil
}

// SignIn はメールアドレスとパスワードでサインインし、SIGNED_INを通知する。
func (c *Client) SignIn(ctx context.Context, email, password string) (*AuthSession, error) {
	session, err := c.api.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.persist(ctx, session); err != nil {
		return nil, err
	}
	c.emit(EventSignedIn, session)
	return session, nil
}

// SignUp は新規登録する。IdPがセッションを発行した場合はサインイン状態になる。
func (c *Client) SignUp(ctx context.Context, email, password string, data map[string]any) (*AuthSession, *model.Identity, error) {
	session, user, err := c.api.SignUp(ctx, email, password, data)
	if err != nil {
		return nil, nil, err
	}
	if session != nil {
		if err := c.persist(ctx, session); err != nil {
			return nil, nil, err
		}
		c.emit(EventSignedIn, session)
	}
	return session, user, nil
}

// SignOut はIdPへサインアウトを要求する。
// IdPの呼び出し結果にかかわらずトークンを削除してSIGNED_OUTを通知し、IdPのエラーをそのまま返す。
func (c *Client) SignOut(ctx context.Context) error {
	var logoutErr error
	access, ok, err := c.storage.Get(ctx, AccessTokenKey)
	if err != nil {
		logoutErr = fmt.Errorf("failed to read access token: %w", err)
	} else if ok && access != "" {
		logoutErr = c.api.Logout(ctx, access)
	}

	removeErr := c.storage.Remove(ctx, AccessTokenKey, RefreshTokenKey)
	c.emit(EventSignedOut, nil)

	return errors.Join(logoutErr, removeErr)
}

// UpdateUserMetadata は現在のユーザーのメタデータにpatchをマージし、USER_UPDATEDを通知する。
func (c *Client) UpdateUserMetadata(ctx context.Context, patch map[string]any) (*model.Identity, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession
	}

	user, err := c.api.UpdateUserMetadata(ctx, session.AccessToken, patch)
	if err != nil {
		return nil, err
	}

	updated := *session
	updated.User = user
	c.emit(EventUserUpdated, &updated)
	return user, nil
}

// AccessToken は保存済みのアクセストークンを返す。未保存の場合は空文字を返す。
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	access, _, err := c.storage.Get(ctx, AccessTokenKey)
	if err != nil {
		return "", fmt.Errorf("failed to read access token: %w", err)
	}
	return access, nil
}

// OnAuthStateChange は認証状態変化の購読を登録し、購読解除関数を返す。
// コールバックは購読ごとの専用goroutineで、発生順に1件ずつ呼ばれる。
// 状態を変えた操作はコールバックの完了を待ってから戻るため、コールバックからClientの操作を呼んではならない。
// 購読解除関数はgoroutineの終了を待ってから戻る。複数回呼んでもよいが、コールバック内から呼んではならない。
func (c *Client) OnAuthStateChange(fn AuthChangeFunc) (unsubscribe func()) {
	sub := &subscriber{
		ch:   make(chan authChange, subscriberBuffer),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = sub
	c.mu.Unlock()

	go func() {
		defer close(sub.done)
		for {
			select {
			case ch := <-sub.ch:
				fn(ch.event, ch.session)
				close(ch.handled)
			case <-sub.quit:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			_, ok := c.subs[id]
			delete(c.subs, id)
			c.mu.Unlock()
			// Close済みの場合はquitも閉じられている
			if ok {
				close(sub.quit)
			}
			<-sub.done
		})
	}
}

// Close はすべての購読を解除する。Close後の購読登録は何もしない。
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[int]*subscriber)
	c.mu.Unlock()

	for _, sub := range subs {
		close(sub.quit)
		<-sub.done
	}
}

// emit は購読者へイベントを配送し、各購読者の処理完了を待つ。ロック外で送信する。
func (c *Client) emit(event AuthEvent, session *AuthSession) {
	c.mu.Lock()
	subs := make([]*subscriber, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		change := authChange{event: event, session: session, handled: make(chan struct{})}
		select {
		case sub.ch <- change:
		case <-sub.quit:
			continue
		}
		select {
		case <-change.handled:
		case <-sub.done:
		}
	}
}

// persist はセッションのトークンをストレージへ保存する。
func (c *Client) persist(ctx context.Context, session *AuthSession) error {
	if err := c.storage.Set(ctx, AccessTokenKey, session.AccessToken); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if session.RefreshToken != "" {
		if err := c.storage.Set(ctx, RefreshTokenKey, session.RefreshToken); err != nil {
			return fmt.Errorf("failed to store refresh token: %w", err)
		}
	}
	return nil
}

// isUnauthorized はIdPがトークンを拒否したかを判定する。
func isUnauthorized(err error) bool {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return false
	}
	return authErr.Status == http.StatusUnauthorized || authErr.Status == http.StatusForbidden
}

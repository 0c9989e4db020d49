// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/model"
	"github.com/hitoshi/minglemood/internal/repository"
	"github.com/hitoshi/minglemood/internal/session"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	mountContextKey     = contextKey("session_mount")
	sessionIDContextKey = contextKey("session_id")
)

// MountFactory はブラウザセッションのストレージからMountを生成する。*session.Factory が実装する。
type MountFactory interface {
	Mount(ctx context.Context, storage identity.TokenStorage) *session.Mount
}

// SessionConfig はセッションCookieの設定。
type SessionConfig struct {
	MaxAge       time.Duration
	CookieSecure bool
	CookieDomain string
}

// NewSessionMiddleware はHTTP Only Cookieからブラウザセッションを読み込み、
// リクエストの間だけMountを生成してコンテキストに注入するミドルウェアを返す。
// Cookieがない、または期限切れの場合は新しいセッションを作成する。
// レスポンス後にMountを閉じ、ログイン中のユーザーIDをセッションレコードへ記録する。
func NewSessionMiddleware(repo repository.SessionRepository, factory MountFactory, config SessionConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			record, err := loadOrCreateSession(ctx, r, repo, config)
			if err != nil {
				logger.Error("セッションの読み込みに失敗しました",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewBackendUnavailableError("sessions"))
				return
			}
			if record.fresh || record.extended {
				setSessionCookie(w, record.ID, config)
			}

			storage := repository.NewSessionStorage(repo, record.ID)
			mount := factory.Mount(ctx, storage)
			defer mount.Close()
			defer syncUserID(context.WithoutCancel(ctx), repo, storage, record.BrowserSession, mount, logger)
			// 処理されずにpanicしたリフレッシュトークンエラーはサインアウトしてから上位へ伝える
			defer func() {
				if rec := recover(); rec != nil {
					if err, ok := rec.(error); ok {
						mount.Sync.HandleBackgroundError(context.WithoutCancel(ctx), err)
					}
					panic(rec)
				}
			}()

			if user := mount.State().Session.User; user != nil {
				setLogUserID(ctx, user.ID)
			}

			ctx = ContextWithMount(ctx, mount)
			ctx = context.WithValue(ctx, sessionIDContextKey, record.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type loadedSession struct {
	*model.BrowserSession
	fresh    bool
	extended bool
}

// loadOrCreateSession はCookieのセッションを取得し、なければ作成する。
// 残り期間が半分を切ったセッションは有効期限を延長する。
func loadOrCreateSession(ctx context.Context, r *http.Request, repo repository.SessionRepository, config SessionConfig) (*loadedSession, error) {
	now := time.Now()
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		record, err := repo.FindByID(ctx, cookie.Value)
		if err != nil {
			return nil, err
		}
		if record != nil {
			loaded := &loadedSession{BrowserSession: record}
			if record.ExpiresAt.Sub(now) < config.MaxAge/2 {
				record.ExpiresAt = now.Add(config.MaxAge)
				if err := repo.Extend(ctx, record.ID, record.ExpiresAt); err != nil {
					return nil, err
				}
				loaded.extended = true
			}
			return loaded, nil
		}
	}

	record := &model.BrowserSession{
		ID:        uuid.NewString(),
		ExpiresAt: now.Add(config.MaxAge),
		CreatedAt: now,
	}
	if err := repo.Create(ctx, record); err != nil {
		return nil, err
	}
	return &loadedSession{BrowserSession: record, fresh: true}, nil
}

// syncUserID はリクエスト終了時点のログインユーザーをセッションレコードへ記録する。
// サインアウトしてリフレッシュトークンも消えたセッションはレコードごと削除し、
// 次のリクエストで新しいセッションIDを発行させる。
func syncUserID(ctx context.Context, repo repository.SessionRepository, storage identity.TokenStorage, record *model.BrowserSession, mount *session.Mount, logger *slog.Logger) {
	var userID string
	if user := mount.State().Session.User; user != nil {
		userID = user.ID
		setLogUserID(ctx, userID)
	}
	if userID == record.UserID {
		return
	}

	if userID == "" && record.UserID != "" && signedOut(ctx, storage) {
		if err := repo.DeleteByID(ctx, record.ID); err != nil {
			logger.Warn("サインアウトしたセッションの削除に失敗しました",
				slog.String("session_id", record.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if err := repo.SetUserID(ctx, record.ID, userID); err != nil {
		logger.Warn("セッションのユーザーIDの更新に失敗しました",
			slog.String("session_id", record.ID),
			slog.String("error", err.Error()),
		)
	}
}

// signedOut はストレージにリフレッシュトークンが残っていないかを返す。
// 一時的な障害でユーザーを確認できなかっただけのセッションは消さない。
func signedOut(ctx context.Context, storage identity.TokenStorage) bool {
	_, ok, err := storage.Get(ctx, identity.RefreshTokenKey)
	return err == nil && !ok
}

func setSessionCookie(w http.ResponseWriter, id string, config SessionConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   int(config.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// MountFromContext はリクエストコンテキストからMountを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func MountFromContext(ctx context.Context) (*session.Mount, bool) {
	m, ok := ctx.Value(mountContextKey).(*session.Mount)
	return m, ok && m != nil
}

// ContextWithMount はコンテキストにMountを注入する。
func ContextWithMount(ctx context.Context, m *session.Mount) context.Context {
	return context.WithValue(ctx, mountContextKey, m)
}

// SessionIDFromContext はリクエストコンテキストからブラウザセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDContextKey).(string)
	return id, ok && id != ""
}

// RequireAuthenticated はログイン中のユーザーがいないリクエストを401で拒否する。
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, ok := MountFromContext(r.Context())
		if !ok || !m.State().Session.Authenticated() {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin は管理者以外のリクエストを拒否する（未ログインは401、一般会員は403）。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, ok := MountFromContext(r.Context())
		if !ok || !m.State().Session.Authenticated() {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		if !m.State().Session.IsAdmin {
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

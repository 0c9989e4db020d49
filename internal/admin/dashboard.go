// Package admin は管理ダッシュボードのデータ取得を提供する。
package admin

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/minglemood/internal/functions"
)

// データ取得元の名前。SourceErrorsのキーに使う。
const (
	SourceStats     = "stats"
	SourceUsers     = "users"
	SourceEvents    = "events"
	SourceEmailLogs = "email_logs"
)

// Backend は管理ダッシュボードのデータ取得元。*functions.Client が実装する。
type Backend interface {
	AdminStats(ctx context.Context, accessToken string) (*functions.AdminStats, error)
	AdminUsers(ctx context.Context, accessToken string) ([]functions.Member, error)
	AdminEvents(ctx context.Context, accessToken string) ([]functions.Event, error)
	AdminEmailLogs(ctx context.Context, accessToken string) ([]functions.EmailLog, error)
}

var _ Backend = (*functions.Client)(nil)

// Dashboard は取得できたデータと取得元ごとのエラー。
type Dashboard struct {
	Stats     *functions.AdminStats `json:"stats"`
	Users     []functions.Member    `json:"users"`
	Events    []functions.Event     `json:"events"`
	EmailLogs []functions.EmailLog  `json:"email_logs"`
	// Errors は失敗した取得元とユーザー向けメッセージ。
	Errors map[string]string `json:"errors,omitempty"`
}

// Loader は4つの取得元を並行に呼び出す。
type Loader struct {
	backend Backend
	logger  *slog.Logger
}

// NewLoader はLoaderを生成する。
func NewLoader(backend Backend, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{backend: backend, logger: logger}
}

// Load はダッシュボードのデータを並行に取得する。
// 1つの取得元が失敗しても他は最後まで取得し、失敗はErrorsに記録する。
// すべての取得元が失敗した場合も、エラーは返さずErrorsで伝える。
func (l *Loader) Load(ctx context.Context, accessToken string) *Dashboard {
	d := &Dashboard{}
	var mu sync.Mutex
	record := func(source string, err error) {
		l.logger.Warn("管理ダッシュボードのデータ取得に失敗しました",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		mu.Lock()
		defer mu.Unlock()
		if d.Errors == nil {
			d.Errors = make(map[string]string)
		}
		d.Errors[source] = functions.ToAPIError(err).Error()
	}

	var eg errgroup.Group
	eg.Go(func() error {
		stats, err := l.backend.AdminStats(ctx, accessToken)
		if err != nil {
			record(SourceStats, err)
			return nil
		}
		d.Stats = stats
		return nil
	})
	eg.Go(func() error {
		users, err := l.backend.AdminUsers(ctx, accessToken)
		if err != nil {
			record(SourceUsers, err)
			return nil
		}
		d.Users = users
		return nil
	})
	eg.Go(func() error {
		events, err := l.backend.AdminEvents(ctx, accessToken)
		if err != nil {
			record(SourceEvents, err)
			return nil
		}
		d.Events = events
		return nil
	})
	eg.Go(func() error {
		logs, err := l.backend.AdminEmailLogs(ctx, accessToken)
		if err != nil {
			record(SourceEmailLogs, err)
			return nil
		}
		d.EmailLogs = logs
		return nil
	})
	_ = eg.Wait()

	return d
}

// Package app は設定の読み込みから各サブコマンドの起動までを担う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/minglemood/internal/admin"
	"github.com/hitoshi/minglemood/internal/config"
	"github.com/hitoshi/minglemood/internal/database"
	"github.com/hitoshi/minglemood/internal/functions"
	"github.com/hitoshi/minglemood/internal/handler"
	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/logger"
	"github.com/hitoshi/minglemood/internal/member"
	"github.com/hitoshi/minglemood/internal/metrics"
	"github.com/hitoshi/minglemood/internal/middleware"
	"github.com/hitoshi/minglemood/internal/onboarding"
	"github.com/hitoshi/minglemood/internal/profile"
	"github.com/hitoshi/minglemood/internal/repository"
	"github.com/hitoshi/minglemood/internal/security"
	"github.com/hitoshi/minglemood/internal/session"
	"github.com/hitoshi/minglemood/internal/survey"
	"github.com/hitoshi/minglemood/internal/worker/cleanup"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}

	// 3. 設定されたログレベルで作り直す
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("初期化に失敗しました: %w", err)
	}

	slog.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// server はAPIサーバーの構成要素。
type server struct {
	router      http.Handler
	rateLimiter *middleware.RateLimiter
}

// Close はバックグラウンドのgoroutineを停止する。
func (s *server) Close() {
	s.rateLimiter.Stop()
}

// newServer は全依存関係をワイヤリングしてルーターを構築する。
// DBへの接続は行わない。
func newServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) *server {
	log := slog.Default()

	// 1. メトリクス
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 2. リポジトリ
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. 外部サービスのクライアント
	identityProvider := identity.NewProvider(identity.ProviderConfig{
		BaseURL:    cfg.IdentityURL,
		AnonKey:    cfg.IdentityAnonKey,
		HTTPClient: &http.Client{Timeout: cfg.IdentityTimeout},
	})
	var verifier *identity.TokenVerifier
	if cfg.IdentityJWTSecret != "" {
		verifier = identity.NewTokenVerifier(cfg.IdentityJWTSecret)
	}
	fns := functions.NewClient(functions.Config{
		BaseURL:    cfg.FunctionsURL,
		AnonKey:    cfg.IdentityAnonKey,
		HTTPClient: &http.Client{Timeout: cfg.FunctionsTimeout},
		Logger:     log,
		Metrics:    collector,
	})

	// 4. セキュリティ
	sanitizer := security.NewTextSanitizer()
	photos := profile.NewChecker(security.NewURLGuard(), cfg.PhotoCheckTimeout, cfg.PhotoMaxSize, log)

	// 5. ドメインサービス
	factory := session.NewFactory(identityProvider, verifier, session.NewAdminSet(cfg.AdminEmails), log, collector)
	onboardingService := onboarding.NewService(onboarding.NewMachine(nil), fns, sanitizer, photos, log, collector)
	surveyService := survey.NewService(fns, sanitizer, log, collector)
	adminLoader := admin.NewLoader(fns, log)
	members := member.NewService(fns, sessionRepo, identityProvider, fns, log)

	// 6. ミドルウェア
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg), log)

	deps := &handler.RouterDeps{
		Logger:       log,
		SupportEmail: cfg.SupportEmail,

		Sessions:     sessionRepo,
		MountFactory: factory,
		SessionConfig: middleware.SessionConfig{
			MaxAge:       cfg.SessionMaxAge,
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,

		HealthChecker: db,
		Gatherer:      reg,

		SignupNotifier: fns,
		Onboarding:     onboardingService,
		Survey:         surveyService,
		Events:         fns,
		AdminLoader:    adminLoader,
		Members:        members,
	}

	return &server{
		router:      handler.NewRouter(deps),
		rateLimiter: rateLimiter,
	}
}

// rateLimiterConfig はreq/min単位の設定をrate.Limit（req/sec）に変換する。
// バーストは1分あたりの上限と同じにする。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rl.GeneralBurst = cfg.RateLimitGeneral
	rl.SignInRate = rate.Limit(float64(cfg.RateLimitSignIn) / 60.0)
	rl.SignInBurst = cfg.RateLimitSignIn
	return rl
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("データベースに接続しました")

	srv := newServer(cfg, db, prometheus.NewRegistry())
	defer srv.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("APIサーバーを起動します",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("サーバーの起動に失敗しました: %w", err)
	case <-stop:
	}
	slog.Info("APIサーバーを停止します")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗しました: %w", err)
	}

	slog.Info("APIサーバーを正常に停止しました")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、セッションのクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("データベースに接続しました（worker）")

	job := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		select {
		case <-stop:
			slog.Info("ワーカーを停止します")
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("ワーカーを起動します",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("ワーカーを正常に停止しました")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("データベースマイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("マイグレーションに失敗しました: %w", err)
	}

	slog.Info("データベースマイグレーションが完了しました")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("ヘルスチェックに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ヘルスチェックがステータス %d を返しました", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}

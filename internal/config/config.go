// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Identity provider
	IdentityURL       string        `env:"IDENTITY_URL,required,notEmpty"`
	IdentityAnonKey   string        `env:"IDENTITY_ANON_KEY,required,notEmpty"`
	IdentityJWTSecret string        `env:"IDENTITY_JWT_SECRET"`
	IdentityTimeout   time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"10s"`

	// Functions
	FunctionsURL     string        `env:"FUNCTIONS_URL,required,notEmpty"`
	FunctionsTimeout time.Duration `env:"FUNCTIONS_TIMEOUT" envDefault:"10s"`

	// Admin
	AdminEmails []string `env:"ADMIN_EMAILS" envSeparator:","`

	// Session
	SessionMaxAge          time.Duration `env:"SESSION_MAX_AGE" envDefault:"168h"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	// Profile photo
	PhotoCheckTimeout time.Duration `env:"PHOTO_CHECK_TIMEOUT" envDefault:"5s"`
	PhotoMaxSize      int64         `env:"PHOTO_MAX_SIZE" envDefault:"5242880"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitSignIn  int `env:"RATE_LIMIT_SIGNIN" envDefault:"10"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGIN" envSeparator:"," envDefault:"http://localhost:3000"`

	// Support
	SupportEmail string `env:"SUPPORT_EMAIL" envDefault:"hello@minglemood.co"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値を解釈できない場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗しました: %w", err)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("BASE_URLが不正です: %q", cfg.BaseURL)
	}
	cfg.CookieSecure = base.Scheme == "https"

	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGEは正の値を指定してください: %s", cfg.SessionMaxAge)
	}
	if cfg.RateLimitGeneral <= 0 || cfg.RateLimitSignIn <= 0 {
		return nil, fmt.Errorf("レート制限は正の値を指定してください")
	}

	cfg.AdminEmails = compact(cfg.AdminEmails)
	cfg.CORSAllowedOrigins = compact(cfg.CORSAllowedOrigins)
	return cfg, nil
}

// compact は前後の空白を除き、空の要素を取り除く。
func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

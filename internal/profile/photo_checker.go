// Package profile はプロフィール入力の補助機能を提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/minglemood/internal/security"
)

// 写真URLの検証エラー。
var (
	ErrPhotoUnreachable = errors.New("photo unreachable")
	ErrPhotoNotImage    = errors.New("photo is not an image")
	ErrPhotoTooLarge    = errors.New("photo too large")
)

// デフォルトの取得制限。
const (
	DefaultPhotoTimeout = 5 * time.Second
	DefaultPhotoMaxSize = 5 * 1024 * 1024
)

// PhotoChecker はプロフィール写真のURLが表示できる画像を指しているかを確認する。
type PhotoChecker interface {
	Check(ctx context.Context, photoURL string) error
}

// Checker はSSRF対策済みのクライアントで写真を取得して確認するPhotoCheckerの実装。
type Checker struct {
	guard   security.URLGuard
	client  *http.Client
	maxSize int64
	logger  *slog.Logger
}

var _ PhotoChecker = (*Checker)(nil)

// NewChecker はCheckerを生成する。timeoutとmaxSizeが0以下の場合はデフォルト値を使う。
func NewChecker(guard security.URLGuard, timeout time.Duration, maxSize int64, logger *slog.Logger) *Checker {
	if timeout <= 0 {
		timeout = DefaultPhotoTimeout
	}
	if maxSize <= 0 {
		maxSize = DefaultPhotoMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		guard:   guard,
		client:  guard.NewSafeClient(timeout),
		maxSize: maxSize,
		logger:  logger,
	}
}

// Check は写真URLを取得し、2xxかつ画像で上限サイズ以内であることを確認する。
// URLの静的検証に失敗した場合は security.ErrUnsafeURL を返す。
func (c *Checker) Check(ctx context.Context, photoURL string) error {
	if err := c.guard.ValidateURL(photoURL); err != nil {
		c.logger.Warn("写真URLがブロックされました",
			slog.String("url", photoURL),
			slog.String("error", err.Error()),
		)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, photoURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPhotoUnreachable, err)
	}
	req.Header.Set("User-Agent", "MingleMood/1.0 PhotoCheck")
	req.Header.Set("Accept", "image/*")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("写真の取得に失敗しました",
			slog.String("url", photoURL),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrPhotoUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrPhotoUnreachable, resp.StatusCode)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("%w: %q", ErrPhotoNotImage, mediaType)
	}

	if resp.ContentLength > c.maxSize {
		return fmt.Errorf("%w: %d bytes", ErrPhotoTooLarge, resp.ContentLength)
	}
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPhotoUnreachable, err)
	}
	if n > c.maxSize {
		return fmt.Errorf("%w: more than %d bytes", ErrPhotoTooLarge, c.maxSize)
	}
	return nil
}

// Package cleanup はブラウザセッションの定期メンテナンスジョブを提供する。
// 期限切れのセッションレコードを削除し、旧デモモードが残したキーを
// 全セッションのdataから取り除く。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/minglemood/internal/repository"
	"github.com/hitoshi/minglemood/internal/session"
)

// DefaultInterval はジョブの既定の実行間隔。
const DefaultInterval = time.Hour

// Result は1回の実行結果。
type Result struct {
	DeletedSessions int64
	PurgedSessions  int64
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 何度実行しても結果は変わらない。
type CleanupJob struct {
	store  repository.SessionMaintenance
	logger *slog.Logger
	// PurgeKeys は全セッションから削除するdataのキー。
	PurgeKeys []string
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(store repository.SessionMaintenance, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		store:     store,
		logger:    logger,
		PurgeKeys: session.LegacyDemoKeys,
	}
}

// Run は期限切れセッションの削除と旧デモデータの一括削除を1回実行する。
// 期限切れセッションの削除に失敗した場合は一括削除を行わない。
func (j *CleanupJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	deleted, err := j.store.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return res, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}
	res.DeletedSessions = deleted

	purged, err := j.store.PurgeDataKeys(ctx, j.PurgeKeys)
	if err != nil {
		j.logger.Error("旧デモデータの一括削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return res, fmt.Errorf("旧デモデータの一括削除に失敗: %w", err)
	}
	res.PurgedSessions = purged

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", res.DeletedSessions),
		slog.Int64("purged_count", res.PurgedSessions),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを繰り返す。
// ctxがキャンセルされるまでブロックする。実行時のエラーはログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	_, _ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_, _ = j.Run(ctx)
		}
	}
}

// Package cleanup はモデレーション待ちコメントの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超えて未承認のまま残ったコメントを削除する。
// 公開済みコメントは対象にしない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は未承認コメントの保持日数のデフォルト値。
const DefaultRetentionDays = 30

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PendingCommentPurge は保持期間を超過した未承認コメントの削除ジョブ。
// 何度実行しても結果は変わらない。
type PendingCommentPurge struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int
}

// NewPendingCommentPurge はPendingCommentPurgeを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使う。
func NewPendingCommentPurge(db Executor, retentionDays int, logger *slog.Logger) *PendingCommentPurge {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingCommentPurge{
		db:            db,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run は保持期間を超過した未承認コメントを削除し、削除件数を返す。
func (j *PendingCommentPurge) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM comments WHERE published = FALSE AND created_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("未承認コメントの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, fmt.Errorf("failed to purge pending comments: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get purged count: %w", err)
	}

	j.logger.Info("未承認コメントの削除が完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return deleted, nil
}

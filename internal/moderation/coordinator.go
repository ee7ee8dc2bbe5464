// Package moderation はコメントのモデレーション（承認・却下）を提供する。
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hitoshi/inkpost/internal/metrics"
	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/repository"
)

// MaxBulkItems は一括モデレーションで1リクエストに指定できる最大件数。
const MaxBulkItems = 100

// Config はCoordinatorの設定。
type Config struct {
	// Concurrency は一括処理で同時に実行する件数の上限（デフォルト: 8）。
	Concurrency int
	// OpsPerSecond はデータストアへの操作の秒間上限（デフォルト: 20）。0以下で無制限。
	OpsPerSecond float64
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		Concurrency:  8,
		OpsPerSecond: 20,
	}
}

// Coordinator はコメント単位・一括のモデレーションを実行する。
type Coordinator struct {
	repo        repository.CommentRepository
	pacer       *rate.Limiter
	concurrency int
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
}

// NewCoordinator はCoordinatorを生成する。
func NewCoordinator(
	repo repository.CommentRepository,
	config Config,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *Coordinator {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	limit := rate.Inf
	if config.OpsPerSecond > 0 {
		limit = rate.Limit(config.OpsPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}

	return &Coordinator{
		repo:        repo,
		pacer:       rate.NewLimiter(limit, config.Concurrency),
		concurrency: config.Concurrency,
		logger:      logger,
		metrics:     collector,
	}
}

// Moderate はコメント1件を承認または却下する。
// 却下はコメントを削除しnilを返す。承認は公開フラグを設定し更新後のコメントを返す。
// publishedがnilの場合の承認はtrueを設定する。対象が無い場合はNotFoundを返す。
func (c *Coordinator) Moderate(ctx context.Context, id string, action model.ModerationAction, published *bool) (*model.Comment, error) {
	switch action {
	case model.ActionReject:
		deleted, err := c.repo.Delete(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to delete comment %s: %w", id, err)
		}
		if !deleted {
			return nil, model.NewCommentNotFoundError(id)
		}
		return nil, nil

	case model.ActionApprove:
		value := true
		if published != nil {
			value = *published
		}
		comment, err := c.repo.SetPublished(ctx, id, value)
		if err != nil {
			return nil, fmt.Errorf("failed to update comment %s: %w", id, err)
		}
		if comment == nil {
			return nil, model.NewCommentNotFoundError(id)
		}
		return comment, nil

	default:
		return nil, model.NewBadRequestError("不正な操作です。", map[string]string{
			"action": "approve または reject を指定してください。",
		})
	}
}

// ValidateBulk は一括モデレーションの入力を検証する。
// 不正な入力は1件も処理する前にBadRequestとして返す。
func ValidateBulk(req model.ModerationRequest) error {
	fields := map[string]string{}

	switch {
	case len(req.CommentIDs) == 0:
		fields["commentIds"] = "1件以上のコメントIDを指定してください。"
	case len(req.CommentIDs) > MaxBulkItems:
		fields["commentIds"] = fmt.Sprintf("一度に指定できるコメントIDは%d件までです。", MaxBulkItems)
	default:
		for _, id := range req.CommentIDs {
			if strings.TrimSpace(id) == "" {
				fields["commentIds"] = "空のコメントIDは指定できません。"
				break
			}
		}
	}
	if !req.Action.Valid() {
		fields["action"] = "approve または reject を指定してください。"
	}

	if len(fields) > 0 {
		return model.NewBadRequestError("入力内容に誤りがあります。", fields)
	}
	return nil
}

// BulkModerate は複数コメントに同じ操作を並行して適用する。
// 1件の失敗で全体を中断せず、結果は入力IDと同じ順序・同じ件数で返す。
func (c *Coordinator) BulkModerate(ctx context.Context, req model.ModerationRequest) (*model.ModerationResult, error) {
	if err := ValidateBulk(req); err != nil {
		return nil, err
	}

	results := make([]model.ModerationItemResult, len(req.CommentIDs))

	// 各ゴルーチンは自分の添字にだけ書き込む
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, id := range req.CommentIDs {
		g.Go(func() error {
			results[i] = c.moderateItem(gctx, id, req.Action, req.Published)
			return nil
		})
	}
	_ = g.Wait()

	summary := model.Summarize(results)
	c.logger.Info("一括モデレーションを実行しました",
		slog.String("action", string(req.Action)),
		slog.Int("total", summary.Total),
		slog.Int("success", summary.Success),
		slog.Int("failed", summary.Failed),
	)

	return &model.ModerationResult{Results: results, Summary: summary}, nil
}

// moderateItem は1件を処理し、失敗を結果として捕捉する。
func (c *Coordinator) moderateItem(ctx context.Context, id string, action model.ModerationAction, published *bool) model.ModerationItemResult {
	result := model.ModerationItemResult{ID: id}

	err := c.pacer.Wait(ctx)
	if err == nil {
		_, err = c.Moderate(ctx, id, action, published)
	}

	c.metrics.RecordModerationItem(string(action), err == nil)
	if err != nil {
		result.Error = itemErrorMessage(err)
		c.logger.Warn("コメントのモデレーションに失敗しました",
			slog.String("comment_id", id),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
		return result
	}

	result.Success = true
	return result
}

// itemErrorMessage は明細に載せるエラーメッセージを返す。
// 内部エラーの詳細はログにのみ出力する。
func itemErrorMessage(err error) string {
	var appErr *model.AppError
	if errors.As(err, &appErr) && appErr.Kind != model.KindInternal {
		return appErr.Message
	}
	return "コメントの処理に失敗しました。"
}

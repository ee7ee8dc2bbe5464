// Package comment は読者によるコメント投稿と公開済みコメントの参照を提供する。
package comment

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/repository"
	"github.com/hitoshi/inkpost/internal/security"
)

const (
	// MaxAuthorNameLength は投稿者名の最大文字数。
	MaxAuthorNameLength = 50
	// MaxContentLength はコメント本文の最大文字数。
	MaxContentLength = 2000
	// DefaultListLimit は一覧取得件数の既定値。
	DefaultListLimit = 100
	// MaxModerationListLimit はモデレーション一覧の最大取得件数。
	MaxModerationListLimit = 200
)

// SubmitInput はコメント投稿の入力。
type SubmitInput struct {
	ArticleID  string
	AuthorName string
	Content    string
}

// CommentService はコメント投稿・参照のサービス。
type CommentService struct {
	comments  repository.CommentRepository
	articles  repository.ArticleRepository
	sanitizer security.ContentSanitizer
	now       func() time.Time
}

// NewCommentService はCommentServiceの新しいインスタンスを生成する。
func NewCommentService(
	comments repository.CommentRepository,
	articles repository.ArticleRepository,
	sanitizer security.ContentSanitizer,
) *CommentService {
	return &CommentService{
		comments:  comments,
		articles:  articles,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Submit はコメントを未公開状態で保存する。公開には管理者の承認が必要。
// 対象記事が存在しないか未公開の場合はNotFoundを返す。
func (s *CommentService) Submit(ctx context.Context, in SubmitInput) (*model.Comment, error) {
	name := s.sanitizer.SanitizePlain(in.AuthorName)
	content := s.sanitizer.SanitizeBody(in.Content)

	// サニタイズ後の値で検証する
	fields := map[string]string{}
	switch {
	case name == "":
		fields["authorName"] = "名前を入力してください。"
	case utf8.RuneCountInString(name) > MaxAuthorNameLength:
		fields["authorName"] = fmt.Sprintf("名前は%d文字以内で入力してください。", MaxAuthorNameLength)
	}
	switch {
	case content == "":
		fields["content"] = "コメントを入力してください。"
	case utf8.RuneCountInString(content) > MaxContentLength:
		fields["content"] = fmt.Sprintf("コメントは%d文字以内で入力してください。", MaxContentLength)
	}
	if len(fields) > 0 {
		return nil, model.NewBadRequestError("入力内容に誤りがあります。", fields)
	}

	published, err := s.articles.IsPublished(ctx, in.ArticleID)
	if err != nil {
		return nil, fmt.Errorf("failed to check article: %w", err)
	}
	if !published {
		return nil, model.NewArticleNotFoundError(in.ArticleID)
	}

	now := s.now().UTC()
	c := &model.Comment{
		ID:         uuid.NewString(),
		ArticleID:  in.ArticleID,
		AuthorName: name,
		Content:    content,
		Published:  false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.comments.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	return c, nil
}

// ListPublished は記事の公開済みコメントを投稿順に返す。
func (s *CommentService) ListPublished(ctx context.Context, articleID string) ([]*model.Comment, error) {
	published, err := s.articles.IsPublished(ctx, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to check article: %w", err)
	}
	if !published {
		return nil, model.NewArticleNotFoundError(articleID)
	}

	comments, err := s.comments.ListPublishedByArticle(ctx, articleID, DefaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}

// ListForModeration はモデレーション待ち等のコメントを新しい順に返す。
// 不正なstatusはBadRequest。limitは1〜MaxModerationListLimitに丸める。
func (s *CommentService) ListForModeration(ctx context.Context, status string, limit int) ([]*model.Comment, error) {
	st := model.CommentStatus(status)
	if status == "" {
		st = model.CommentStatusPending
	}
	switch st {
	case model.CommentStatusPending, model.CommentStatusPublished, model.CommentStatusAll:
	default:
		return nil, model.NewBadRequestError("不正なステータスです。", map[string]string{
			"status": "pending, published, all のいずれかを指定してください。",
		})
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxModerationListLimit {
		limit = MaxModerationListLimit
	}

	comments, err := s.comments.ListForModeration(ctx, st, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments for moderation: %w", err)
	}
	return comments, nil
}

// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/inkpost/internal/model"
)

// CommentRepository はコメントの永続化インターフェース。
// IDがUUIDとして不正な場合は「存在しない」として扱う。
type CommentRepository interface {
	// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Comment, error)

	// ListPublishedByArticle は記事の公開済みコメントを投稿順に返す。
	ListPublishedByArticle(ctx context.Context, articleID string, limit int) ([]*model.Comment, error)

	// ListForModeration はモデレーション画面向けに状態で絞り込んだコメントを新しい順に返す。
	ListForModeration(ctx context.Context, status model.CommentStatus, limit int) ([]*model.Comment, error)

	// Create はコメントを作成する。
	Create(ctx context.Context, comment *model.Comment) error

	// SetPublished は公開フラグを更新し、更新後のコメントを返す。
	// 見つからない場合はnilを返す。同じ値への更新も成功として扱う。
	SetPublished(ctx context.Context, id string, published bool) (*model.Comment, error)

	// Delete はコメントを削除する。削除した場合にtrueを返す。
	Delete(ctx context.Context, id string) (bool, error)
}

// ArticleRepository は記事の参照インターフェース。
// 記事の作成・編集は管理画面の外部コンポーネントが行う。
type ArticleRepository interface {
	// IsPublished は公開済みの記事が存在するかを返す。
	IsPublished(ctx context.Context, id string) (bool, error)
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/inkpost/internal/model"
)

const commentColumns = `id, article_id, author_name, content, published, created_at, updated_at`

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db, now: time.Now}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(s rowScanner) (*model.Comment, error) {
	c := &model.Comment{}
	if err := s.Scan(&c.ID, &c.ArticleID, &c.AuthorName, &c.Content, &c.Published, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	if !validID(id) {
		return nil, nil
	}

	c, err := scanComment(r.db.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	return c, nil
}

// ListPublishedByArticle は記事の公開済みコメントを投稿順に返す。
func (r *PostgresCommentRepo) ListPublishedByArticle(ctx context.Context, articleID string, limit int) ([]*model.Comment, error) {
	if !validID(articleID) {
		return []*model.Comment{}, nil
	}
	return r.list(ctx,
		`SELECT `+commentColumns+` FROM comments
		 WHERE article_id = $1 AND published = TRUE
		 ORDER BY created_at ASC LIMIT $2`,
		articleID, limit,
	)
}

// ListForModeration はモデレーション画面向けに状態で絞り込んだコメントを新しい順に返す。
func (r *PostgresCommentRepo) ListForModeration(ctx context.Context, status model.CommentStatus, limit int) ([]*model.Comment, error) {
	switch status {
	case model.CommentStatusPending:
		return r.list(ctx,
			`SELECT `+commentColumns+` FROM comments WHERE published = FALSE
			 ORDER BY created_at DESC LIMIT $1`, limit)
	case model.CommentStatusPublished:
		return r.list(ctx,
			`SELECT `+commentColumns+` FROM comments WHERE published = TRUE
			 ORDER BY created_at DESC LIMIT $1`, limit)
	default:
		return r.list(ctx,
			`SELECT `+commentColumns+` FROM comments
			 ORDER BY created_at DESC LIMIT $1`, limit)
	}
}

func (r *PostgresCommentRepo) list(ctx context.Context, query string, args ...any) ([]*model.Comment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("コメント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	comments := []*model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("コメント行の読み取りに失敗しました: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コメント一覧の走査に失敗しました: %w", err)
	}
	return comments, nil
}

// Create はコメントを作成する。
func (r *PostgresCommentRepo) Create(ctx context.Context, c *model.Comment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (`+commentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.ArticleID, c.AuthorName, c.Content, c.Published, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("コメントの作成に失敗しました: %w", err)
	}
	return nil
}

// SetPublished は公開フラグを更新し、更新後のコメントを返す。見つからない場合はnilを返す。
// 値が変わらない場合はupdated_atを更新しない。
func (r *PostgresCommentRepo) SetPublished(ctx context.Context, id string, published bool) (*model.Comment, error) {
	if !validID(id) {
		return nil, nil
	}

	c, err := scanComment(r.db.QueryRowContext(ctx,
		`UPDATE comments
		 SET published = $2,
		     updated_at = CASE WHEN published = $2 THEN updated_at ELSE $3 END
		 WHERE id = $1
		 RETURNING `+commentColumns,
		id, published, r.now(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コメントの公開状態の更新に失敗しました: %w", err)
	}
	return c, nil
}

// Delete はコメントを削除する。削除した場合にtrueを返す。
func (r *PostgresCommentRepo) Delete(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("コメントの削除に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

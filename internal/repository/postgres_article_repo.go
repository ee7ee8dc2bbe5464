package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresArticleRepo はPostgreSQLを使用した記事の参照リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// IsPublished は公開済みの記事が存在するかを返す。
func (r *PostgresArticleRepo) IsPublished(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}

	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM articles WHERE id = $1 AND published = TRUE)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("記事の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

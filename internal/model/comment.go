package model

import "time"

// Comment は記事に投稿されたコメントを表す。
// Publishedがfalseのものはモデレーション待ち。
type Comment struct {
	ID         string    `json:"id"`
	ArticleID  string    `json:"articleId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	Published  bool      `json:"published"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CommentStatus はモデレーション一覧の絞り込み条件。
type CommentStatus string

const (
	CommentStatusPending   CommentStatus = "pending"
	CommentStatusPublished CommentStatus = "published"
	CommentStatusAll       CommentStatus = "all"
)

// ModerationAction はモデレーション操作の種類。
type ModerationAction string

const (
	// ActionApprove は公開フラグを立てる（既定はtrue）。
	ActionApprove ModerationAction = "approve"
	// ActionReject はコメントを削除する。
	ActionReject ModerationAction = "reject"
)

// Valid は定義済みのアクションかどうかを返す。
func (a ModerationAction) Valid() bool {
	return a == ActionApprove || a == ActionReject
}

// ModerationRequest は一括モデレーションの入力。
type ModerationRequest struct {
	CommentIDs []string
	Action     ModerationAction
	Published  *bool // approve時の公開フラグ。nilの場合はtrue
}

// ModerationItemResult は1件ごとの処理結果。
type ModerationItemResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ModerationSummary は一括処理の集計。
type ModerationSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// ModerationResult は一括モデレーションの結果。
// Resultsは入力IDと同じ順序・同じ件数で並ぶ。
type ModerationResult struct {
	Results []ModerationItemResult `json:"results"`
	Summary ModerationSummary      `json:"summary"`
}

// Summarize は結果明細から集計を導出する。
func Summarize(results []ModerationItemResult) ModerationSummary {
	s := ModerationSummary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Success++
		} else {
			s.Failed++
		}
	}
	return s
}

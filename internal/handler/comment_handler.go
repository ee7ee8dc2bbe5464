package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/inkpost/internal/comment"
	"github.com/hitoshi/inkpost/internal/middleware"
	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/moderation"
)

// Moderator はモデレーションハンドラーが必要とするインターフェース。
type Moderator interface {
	Moderate(ctx context.Context, id string, action model.ModerationAction, published *bool) (*model.Comment, error)
	BulkModerate(ctx context.Context, req model.ModerationRequest) (*model.ModerationResult, error)
}

// CommentServiceInterface はコメントハンドラーが必要とするサービスインターフェース。
type CommentServiceInterface interface {
	Submit(ctx context.Context, in comment.SubmitInput) (*model.Comment, error)
	ListPublished(ctx context.Context, articleID string) ([]*model.Comment, error)
	ListForModeration(ctx context.Context, status string, limit int) ([]*model.Comment, error)
}

// CommentHandler はコメント関連のHTTPハンドラー。
// 各メソッドはパイプラインの内側で実行されるmiddleware.HandlerFuncを返す。
type CommentHandler struct {
	moderator Moderator
	service   CommentServiceInterface
}

// NewCommentHandler はCommentHandlerを生成する。
func NewCommentHandler(moderator Moderator, service CommentServiceInterface) *CommentHandler {
	return &CommentHandler{
		moderator: moderator,
		service:   service,
	}
}

// --- リクエストボディ ---

// patchCommentRequest は PATCH /admin/comments/{id} のボディ。
// action="delete"の場合は却下、それ以外は公開フラグの設定。
type patchCommentRequest struct {
	Published *bool  `json:"published"`
	Action    string `json:"action"`
}

// Validate はmiddleware.Validatorを実装する。
func (b patchCommentRequest) Validate() map[string]string {
	if b.Action != "" && b.Action != "delete" {
		return map[string]string{"action": "delete のみ指定できます。"}
	}
	return nil
}

// AllowEmptyBody はmiddleware.EmptyBodyAllowedを実装する。空のボディは承認として扱う。
func (patchCommentRequest) AllowEmptyBody() bool { return true }

// bulkModerationRequest は POST /admin/comments/bulk のボディ。
type bulkModerationRequest struct {
	CommentIDs []string `json:"commentIds"`
	Action     string   `json:"action"`
	Published  *bool    `json:"published"`
}

func (b bulkModerationRequest) toModel() model.ModerationRequest {
	return model.ModerationRequest{
		CommentIDs: b.CommentIDs,
		Action:     model.ModerationAction(b.Action),
		Published:  b.Published,
	}
}

// Validate はmiddleware.Validatorを実装する。
// 不正な一括リクエストは1件も処理せずに拒否する。
func (b bulkModerationRequest) Validate() map[string]string {
	return fieldsOf(moderation.ValidateBulk(b.toModel()))
}

// submitCommentRequest は POST /api/articles/{articleID}/comments のボディ。
type submitCommentRequest struct {
	AuthorName string `json:"authorName"`
	Content    string `json:"content"`
}

// Validate はmiddleware.Validatorを実装する。
// サニタイズ後の検証はサービス側で行う。
func (b submitCommentRequest) Validate() map[string]string {
	fields := map[string]string{}
	if strings.TrimSpace(b.AuthorName) == "" {
		fields["authorName"] = "名前を入力してください。"
	}
	if strings.TrimSpace(b.Content) == "" {
		fields["content"] = "コメントを入力してください。"
	}
	return fields
}

// --- 管理者向け ---

// ModerateOne は PATCH / DELETE /admin/comments/{id} を処理する。
func (h *CommentHandler) ModerateOne(ctx context.Context, req *middleware.Request) (middleware.Result, error) {
	id := chi.URLParam(req.Request, "id")

	if req.Method == http.MethodDelete {
		if _, err := h.moderator.Moderate(ctx, id, model.ActionReject, nil); err != nil {
			return middleware.Result{}, err
		}
		return middleware.Result{Message: "コメントを削除しました。"}, nil
	}

	body, _ := middleware.BodyAs[patchCommentRequest](req)
	if body.Action == "delete" {
		if _, err := h.moderator.Moderate(ctx, id, model.ActionReject, nil); err != nil {
			return middleware.Result{}, err
		}
		return middleware.Result{Message: "コメントを削除しました。"}, nil
	}

	c, err := h.moderator.Moderate(ctx, id, model.ActionApprove, body.Published)
	if err != nil {
		return middleware.Result{}, err
	}
	return middleware.Result{Data: c, Message: "コメントを更新しました。"}, nil
}

// BulkModerate は POST /admin/comments/bulk を処理する。
// 個別の失敗は結果データとして返し、エンベロープは成功とする。
func (h *CommentHandler) BulkModerate(ctx context.Context, req *middleware.Request) (middleware.Result, error) {
	body, _ := middleware.BodyAs[bulkModerationRequest](req)

	result, err := h.moderator.BulkModerate(ctx, body.toModel())
	if err != nil {
		return middleware.Result{}, err
	}
	return middleware.Result{Data: result}, nil
}

// ListForModeration は GET /admin/comments を処理する。
func (h *CommentHandler) ListForModeration(ctx context.Context, req *middleware.Request) (middleware.Result, error) {
	q := req.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return middleware.Result{}, model.NewBadRequestError("不正なパラメータです。",
				map[string]string{"limit": "正の整数を指定してください。"})
		}
		limit = n
	}

	comments, err := h.service.ListForModeration(ctx, q.Get("status"), limit)
	if err != nil {
		return middleware.Result{}, err
	}
	return middleware.Result{Data: comments}, nil
}

// --- 公開API ---

// Submit は POST /api/articles/{articleID}/comments を処理する。
func (h *CommentHandler) Submit(ctx context.Context, req *middleware.Request) (middleware.Result, error) {
	body, _ := middleware.BodyAs[submitCommentRequest](req)

	c, err := h.service.Submit(ctx, comment.SubmitInput{
		ArticleID:  chi.URLParam(req.Request, "articleID"),
		AuthorName: body.AuthorName,
		Content:    body.Content,
	})
	if err != nil {
		return middleware.Result{}, err
	}
	return middleware.Result{Data: c, Message: "コメントを受け付けました。承認後に公開されます。"}, nil
}

// ListPublished は GET /api/articles/{articleID}/comments を処理する。
func (h *CommentHandler) ListPublished(ctx context.Context, req *middleware.Request) (middleware.Result, error) {
	comments, err := h.service.ListPublished(ctx, chi.URLParam(req.Request, "articleID"))
	if err != nil {
		return middleware.Result{}, err
	}
	return middleware.Result{Data: comments}, nil
}

// fieldsOf は入力検証エラーからフィールド別メッセージを取り出す。
func fieldsOf(err error) map[string]string {
	if err == nil {
		return nil
	}
	var appErr *model.AppError
	if errors.As(err, &appErr) && len(appErr.Fields) > 0 {
		return appErr.Fields
	}
	return map[string]string{"body": err.Error()}
}

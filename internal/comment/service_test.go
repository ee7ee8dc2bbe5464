package comment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/repository"
	"github.com/hitoshi/inkpost/internal/security"
)

// mockCommentRepo はテスト用のCommentRepositoryモック。
type mockCommentRepo struct {
	createFn            func(ctx context.Context, c *model.Comment) error
	listPublishedFn     func(ctx context.Context, articleID string, limit int) ([]*model.Comment, error)
	listForModerationFn func(ctx context.Context, status model.CommentStatus, limit int) ([]*model.Comment, error)

	created []*model.Comment
}

var _ repository.CommentRepository = (*mockCommentRepo)(nil)

func (m *mockCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	return nil, nil
}

func (m *mockCommentRepo) ListPublishedByArticle(ctx context.Context, articleID string, limit int) ([]*model.Comment, error) {
	if m.listPublishedFn != nil {
		return m.listPublishedFn(ctx, articleID, limit)
	}
	return []*model.Comment{}, nil
}

func (m *mockCommentRepo) ListForModeration(ctx context.Context, status model.CommentStatus, limit int) ([]*model.Comment, error) {
	if m.listForModerationFn != nil {
		return m.listForModerationFn(ctx, status, limit)
	}
	return []*model.Comment{}, nil
}

func (m *mockCommentRepo) Create(ctx context.Context, c *model.Comment) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, c); err != nil {
			return err
		}
	}
	m.created = append(m.created, c)
	return nil
}

func (m *mockCommentRepo) SetPublished(ctx context.Context, id string, published bool) (*model.Comment, error) {
	return nil, nil
}

func (m *mockCommentRepo) Delete(ctx context.Context, id string) (bool, error) {
	return false, nil
}

// mockArticleRepo はテスト用のArticleRepositoryモック。
type mockArticleRepo struct {
	isPublishedFn func(ctx context.Context, id string) (bool, error)
}

func (m *mockArticleRepo) IsPublished(ctx context.Context, id string) (bool, error) {
	if m.isPublishedFn != nil {
		return m.isPublishedFn(ctx, id)
	}
	return true, nil
}

func newTestService(comments *mockCommentRepo, articles *mockArticleRepo) *CommentService {
	s := NewCommentService(comments, articles, security.NewCommentSanitizer())
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s
}

func TestSubmit_StoresUnpublishedSanitizedComment(t *testing.T) {
	comments := &mockCommentRepo{}
	s := newTestService(comments, &mockArticleRepo{})

	c, err := s.Submit(context.Background(), SubmitInput{
		ArticleID:  "article-1",
		AuthorName: "<b>読者</b>",
		Content:    `<p>良い記事です</p><script>alert(1)</script>`,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if c.Published {
		t.Error("submitted comment must be unpublished")
	}
	if _, err := uuid.Parse(c.ID); err != nil {
		t.Errorf("ID = %q, want uuid", c.ID)
	}
	if c.AuthorName != "読者" {
		t.Errorf("AuthorName = %q", c.AuthorName)
	}
	if strings.Contains(c.Content, "script") || !strings.Contains(c.Content, "良い記事です") {
		t.Errorf("Content = %q", c.Content)
	}
	if !c.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", c.CreatedAt)
	}
	if len(comments.created) != 1 {
		t.Errorf("created = %d, want 1", len(comments.created))
	}
}

func TestSubmit_ValidationUsesSanitizedValues(t *testing.T) {
	tests := []struct {
		name  string
		in    SubmitInput
		field string
	}{
		{"empty name", SubmitInput{AuthorName: "", Content: "本文"}, "authorName"},
		{"markup-only name", SubmitInput{AuthorName: "<i></i>", Content: "本文"}, "authorName"},
		{"long name", SubmitInput{AuthorName: strings.Repeat("あ", MaxAuthorNameLength+1), Content: "本文"}, "authorName"},
		{"script-only content", SubmitInput{AuthorName: "読者", Content: "<script>x</script>"}, "content"},
		{"long content", SubmitInput{AuthorName: "読者", Content: strings.Repeat("a", MaxContentLength+1)}, "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comments := &mockCommentRepo{}
			articleChecked := false
			s := newTestService(comments, &mockArticleRepo{
				isPublishedFn: func(ctx context.Context, id string) (bool, error) {
					articleChecked = true
					return true, nil
				},
			})

			_, err := s.Submit(context.Background(), tt.in)
			var appErr *model.AppError
			if !errors.As(err, &appErr) || appErr.Kind != model.KindBadRequest {
				t.Fatalf("error = %v, want BadRequest", err)
			}
			if _, ok := appErr.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want %q", appErr.Fields, tt.field)
			}
			if articleChecked || len(comments.created) != 0 {
				t.Error("no lookups or writes should happen on invalid input")
			}
		})
	}
}

func TestSubmit_UnpublishedArticleIsNotFound(t *testing.T) {
	comments := &mockCommentRepo{}
	s := newTestService(comments, &mockArticleRepo{
		isPublishedFn: func(ctx context.Context, id string) (bool, error) { return false, nil },
	})

	_, err := s.Submit(context.Background(), SubmitInput{ArticleID: "draft", AuthorName: "読者", Content: "本文"})
	if model.KindOf(err) != model.KindNotFound {
		t.Errorf("kind = %v, want NotFound", model.KindOf(err))
	}
	if len(comments.created) != 0 {
		t.Error("comment should not be created")
	}
}

func TestSubmit_StoreFailureIsInternal(t *testing.T) {
	comments := &mockCommentRepo{
		createFn: func(ctx context.Context, c *model.Comment) error { return errors.New("disk full") },
	}
	s := newTestService(comments, &mockArticleRepo{})

	_, err := s.Submit(context.Background(), SubmitInput{ArticleID: "a", AuthorName: "読者", Content: "本文"})
	if model.KindOf(err) != model.KindInternal {
		t.Errorf("kind = %v, want Internal", model.KindOf(err))
	}
}

func TestListPublished(t *testing.T) {
	want := []*model.Comment{{ID: "c1", Published: true}}
	var gotLimit int
	comments := &mockCommentRepo{
		listPublishedFn: func(ctx context.Context, articleID string, limit int) ([]*model.Comment, error) {
			gotLimit = limit
			return want, nil
		},
	}
	s := newTestService(comments, &mockArticleRepo{})

	got, err := s.ListPublished(context.Background(), "a")
	if err != nil {
		t.Fatalf("ListPublished() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" || gotLimit != DefaultListLimit {
		t.Errorf("got %v (limit %d)", got, gotLimit)
	}
}

func TestListPublished_MissingArticle(t *testing.T) {
	s := newTestService(&mockCommentRepo{}, &mockArticleRepo{
		isPublishedFn: func(ctx context.Context, id string) (bool, error) { return false, nil },
	})

	if _, err := s.ListPublished(context.Background(), "nope"); model.KindOf(err) != model.KindNotFound {
		t.Errorf("kind = %v, want NotFound", model.KindOf(err))
	}
}

func TestListForModeration_DefaultsAndClamps(t *testing.T) {
	var gotStatus model.CommentStatus
	var gotLimit int
	comments := &mockCommentRepo{
		listForModerationFn: func(ctx context.Context, status model.CommentStatus, limit int) ([]*model.Comment, error) {
			gotStatus, gotLimit = status, limit
			return []*model.Comment{}, nil
		},
	}
	s := newTestService(comments, &mockArticleRepo{})

	if _, err := s.ListForModeration(context.Background(), "", 0); err != nil {
		t.Fatalf("error = %v", err)
	}
	if gotStatus != model.CommentStatusPending || gotLimit != DefaultListLimit {
		t.Errorf("status=%s limit=%d", gotStatus, gotLimit)
	}

	if _, err := s.ListForModeration(context.Background(), "all", 10000); err != nil {
		t.Fatalf("error = %v", err)
	}
	if gotStatus != model.CommentStatusAll || gotLimit != MaxModerationListLimit {
		t.Errorf("status=%s limit=%d", gotStatus, gotLimit)
	}
}

func TestListForModeration_InvalidStatus(t *testing.T) {
	s := newTestService(&mockCommentRepo{}, &mockArticleRepo{})

	if _, err := s.ListForModeration(context.Background(), "spam", 10); model.KindOf(err) != model.KindBadRequest {
		t.Errorf("kind = %v, want BadRequest", model.KindOf(err))
	}
}

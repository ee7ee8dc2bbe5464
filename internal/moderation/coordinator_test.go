package moderation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/repository"
)

// mockCommentRepo はテスト用のCommentRepositoryモック。
type mockCommentRepo struct {
	setPublishedFn func(ctx context.Context, id string, published bool) (*model.Comment, error)
	deleteFn       func(ctx context.Context, id string) (bool, error)

	mu    sync.Mutex
	calls []string
}

var _ repository.CommentRepository = (*mockCommentRepo)(nil)

func (m *mockCommentRepo) record(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
}

func (m *mockCommentRepo) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	return nil, nil
}

func (m *mockCommentRepo) ListPublishedByArticle(ctx context.Context, articleID string, limit int) ([]*model.Comment, error) {
	return nil, nil
}

func (m *mockCommentRepo) ListForModeration(ctx context.Context, status model.CommentStatus, limit int) ([]*model.Comment, error) {
	return nil, nil
}

func (m *mockCommentRepo) Create(ctx context.Context, comment *model.Comment) error {
	return nil
}

func (m *mockCommentRepo) SetPublished(ctx context.Context, id string, published bool) (*model.Comment, error) {
	m.record(id)
	if m.setPublishedFn != nil {
		return m.setPublishedFn(ctx, id, published)
	}
	return &model.Comment{ID: id, Published: published}, nil
}

func (m *mockCommentRepo) Delete(ctx context.Context, id string) (bool, error) {
	m.record(id)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return true, nil
}

// recordingMetrics はモデレーション結果の記録を数える。
type recordingMetrics struct {
	mu       sync.Mutex
	success  int
	failures int
}

func (r *recordingMetrics) RecordHTTPStatus(int)         {}
func (r *recordingMetrics) RecordRateLimited()           {}
func (r *recordingMetrics) RecordRateLimitStoreFailure() {}
func (r *recordingMetrics) RecordAuthFailure(string)     {}
func (r *recordingMetrics) RecordModerationItem(action string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.success++
	} else {
		r.failures++
	}
}

func newTestCoordinator(repo repository.CommentRepository) *Coordinator {
	return NewCoordinator(repo, Config{Concurrency: 4}, slog.New(slog.NewJSONHandler(io.Discard, nil)), nil)
}

func boolPtr(b bool) *bool { return &b }

func TestModerate_ApproveDefaultsToPublished(t *testing.T) {
	var gotPublished bool
	repo := &mockCommentRepo{
		setPublishedFn: func(ctx context.Context, id string, published bool) (*model.Comment, error) {
			gotPublished = published
			return &model.Comment{ID: id, Published: published}, nil
		},
	}
	c := newTestCoordinator(repo)

	comment, err := c.Moderate(context.Background(), "c1", model.ActionApprove, nil)
	if err != nil {
		t.Fatalf("Moderate() error = %v", err)
	}
	if !gotPublished || comment == nil || !comment.Published {
		t.Errorf("approve without flag should publish, got %+v", comment)
	}
}

func TestModerate_ApproveWithExplicitFlag(t *testing.T) {
	gotPublished := true
	repo := &mockCommentRepo{
		setPublishedFn: func(ctx context.Context, id string, published bool) (*model.Comment, error) {
			gotPublished = published
			return &model.Comment{ID: id, Published: published}, nil
		},
	}
	c := newTestCoordinator(repo)

	if _, err := c.Moderate(context.Background(), "c1", model.ActionApprove, boolPtr(false)); err != nil {
		t.Fatalf("Moderate() error = %v", err)
	}
	if gotPublished {
		t.Error("published=false should be passed through")
	}
}

func TestModerate_ApproveAlreadyApprovedIsSuccess(t *testing.T) {
	stored := &model.Comment{ID: "c1", Published: true}
	repo := &mockCommentRepo{
		setPublishedFn: func(ctx context.Context, id string, published bool) (*model.Comment, error) {
			return stored, nil
		},
	}
	c := newTestCoordinator(repo)

	for i := 0; i < 2; i++ {
		comment, err := c.Moderate(context.Background(), "c1", model.ActionApprove, nil)
		if err != nil {
			t.Fatalf("approve #%d error = %v", i+1, err)
		}
		if !comment.Published {
			t.Errorf("approve #%d: comment should stay published", i+1)
		}
	}
}

func TestModerate_RejectDeletes(t *testing.T) {
	repo := &mockCommentRepo{}
	c := newTestCoordinator(repo)

	comment, err := c.Moderate(context.Background(), "c1", model.ActionReject, nil)
	if err != nil {
		t.Fatalf("Moderate() error = %v", err)
	}
	if comment != nil {
		t.Errorf("reject should return nil comment, got %+v", comment)
	}
	if repo.callCount() != 1 {
		t.Errorf("delete calls = %d, want 1", repo.callCount())
	}
}

func TestModerate_AbsentCommentIsNotFound(t *testing.T) {
	repo := &mockCommentRepo{
		setPublishedFn: func(ctx context.Context, id string, published bool) (*model.Comment, error) {
			return nil, nil
		},
		deleteFn: func(ctx context.Context, id string) (bool, error) {
			return false, nil
		},
	}
	c := newTestCoordinator(repo)

	for _, action := range []model.ModerationAction{model.ActionApprove, model.ActionReject} {
		_, err := c.Moderate(context.Background(), "missing", action, nil)
		if model.KindOf(err) != model.KindNotFound {
			t.Errorf("%s: kind = %v, want NotFound", action, model.KindOf(err))
		}
	}
}

func TestModerate_StoreFailureIsInternal(t *testing.T) {
	repo := &mockCommentRepo{
		deleteFn: func(ctx context.Context, id string) (bool, error) {
			return false, errors.New("connection reset")
		},
	}
	c := newTestCoordinator(repo)

	_, err := c.Moderate(context.Background(), "c1", model.ActionReject, nil)
	if model.KindOf(err) != model.KindInternal {
		t.Errorf("kind = %v, want Internal", model.KindOf(err))
	}
}

func TestBulkModerate_PartialFailure(t *testing.T) {
	repo := &mockCommentRepo{
		setPublishedFn: func(ctx context.Context, id string, published bool) (*model.Comment, error) {
			if id == "b" {
				return nil, errors.New("boom")
			}
			return &model.Comment{ID: id, Published: true}, nil
		},
	}
	collector := &recordingMetrics{}
	c := NewCoordinator(repo, Config{Concurrency: 3}, slog.New(slog.NewJSONHandler(io.Discard, nil)), collector)

	result, err := c.BulkModerate(context.Background(), model.ModerationRequest{
		CommentIDs: []string{"a", "b", "c"},
		Action:     model.ActionApprove,
	})
	if err != nil {
		t.Fatalf("BulkModerate() error = %v", err)
	}

	if len(result.Results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(result.Results))
	}
	want := []struct {
		id      string
		success bool
	}{{"a", true}, {"b", false}, {"c", true}}
	for i, w := range want {
		got := result.Results[i]
		if got.ID != w.id || got.Success != w.success {
			t.Errorf("results[%d] = %+v, want id=%s success=%v", i, got, w.id, w.success)
		}
	}
	if result.Results[1].Error == "" {
		t.Error("failed item should carry a message")
	}
	if result.Summary != (model.ModerationSummary{Total: 3, Success: 2, Failed: 1}) {
		t.Errorf("summary = %+v", result.Summary)
	}
	if collector.success != 2 || collector.failures != 1 {
		t.Errorf("metrics success=%d failures=%d", collector.success, collector.failures)
	}
}

func TestBulkModerate_InternalDetailsNotExposed(t *testing.T) {
	repo := &mockCommentRepo{
		deleteFn: func(ctx context.Context, id string) (bool, error) {
			return false, errors.New("pq: password authentication failed")
		},
	}
	c := newTestCoordinator(repo)

	result, err := c.BulkModerate(context.Background(), model.ModerationRequest{
		CommentIDs: []string{"a"},
		Action:     model.ActionReject,
	})
	if err != nil {
		t.Fatalf("BulkModerate() error = %v", err)
	}
	if msg := result.Results[0].Error; msg != "コメントの処理に失敗しました。" {
		t.Errorf("error message = %q", msg)
	}
}

func TestBulkModerate_PreservesInputOrder(t *testing.T) {
	// 先頭の要素ほど遅く完了させる
	ids := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	delays := map[string]time.Duration{}
	for i, id := range ids {
		delays[id] = time.Duration(len(ids)-i) * 5 * time.Millisecond
	}
	repo := &mockCommentRepo{
		deleteFn: func(ctx context.Context, id string) (bool, error) {
			time.Sleep(delays[id])
			return id != "c4", nil
		},
	}
	c := NewCoordinator(repo, Config{Concurrency: len(ids)}, slog.New(slog.NewJSONHandler(io.Discard, nil)), nil)

	result, err := c.BulkModerate(context.Background(), model.ModerationRequest{
		CommentIDs: ids,
		Action:     model.ActionReject,
	})
	if err != nil {
		t.Fatalf("BulkModerate() error = %v", err)
	}
	for i, id := range ids {
		if result.Results[i].ID != id {
			t.Errorf("results[%d].ID = %s, want %s", i, result.Results[i].ID, id)
		}
	}
	if result.Results[3].Success {
		t.Error("c4 should be reported as not found")
	}
}

func TestBulkModerate_CountsMatchInput(t *testing.T) {
	var n atomic.Int32
	repo := &mockCommentRepo{
		setPublishedFn: func(ctx context.Context, id string, published bool) (*model.Comment, error) {
			if n.Add(1)%3 == 0 {
				return nil, nil
			}
			return &model.Comment{ID: id}, nil
		},
	}
	c := newTestCoordinator(repo)

	// 重複IDもそれぞれ1件として処理する
	ids := []string{"x", "y", "x", "z", "w", "x", "v"}
	result, err := c.BulkModerate(context.Background(), model.ModerationRequest{
		CommentIDs: ids,
		Action:     model.ActionApprove,
	})
	if err != nil {
		t.Fatalf("BulkModerate() error = %v", err)
	}

	s := result.Summary
	if len(result.Results) != len(ids) || s.Total != len(ids) || s.Success+s.Failed != len(ids) {
		t.Errorf("results=%d summary=%+v, want all equal to %d", len(result.Results), s, len(ids))
	}
	if s.Failed != 2 {
		t.Errorf("failed = %d, want 2", s.Failed)
	}
}

func TestBulkModerate_ValidationBeforeSideEffects(t *testing.T) {
	tooMany := make([]string, MaxBulkItems+1)
	for i := range tooMany {
		tooMany[i] = "id"
	}

	tests := []struct {
		name  string
		req   model.ModerationRequest
		field string
	}{
		{"empty ids", model.ModerationRequest{Action: model.ActionApprove}, "commentIds"},
		{"too many ids", model.ModerationRequest{CommentIDs: tooMany, Action: model.ActionApprove}, "commentIds"},
		{"blank id", model.ModerationRequest{CommentIDs: []string{"a", " "}, Action: model.ActionReject}, "commentIds"},
		{"invalid action", model.ModerationRequest{CommentIDs: []string{"a"}, Action: "publish"}, "action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockCommentRepo{}
			c := newTestCoordinator(repo)

			result, err := c.BulkModerate(context.Background(), tt.req)
			if result != nil {
				t.Error("result should be nil for invalid request")
			}
			var appErr *model.AppError
			if !errors.As(err, &appErr) || appErr.Kind != model.KindBadRequest {
				t.Fatalf("error = %v, want BadRequest", err)
			}
			if _, ok := appErr.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want key %q", appErr.Fields, tt.field)
			}
			if repo.callCount() != 0 {
				t.Errorf("store was called %d times before validation", repo.callCount())
			}
		})
	}
}

func TestBulkModerate_MaxItemsAccepted(t *testing.T) {
	ids := make([]string, MaxBulkItems)
	for i := range ids {
		ids[i] = "id"
	}
	repo := &mockCommentRepo{}
	c := NewCoordinator(repo, Config{Concurrency: 8}, slog.New(slog.NewJSONHandler(io.Discard, nil)), nil)

	result, err := c.BulkModerate(context.Background(), model.ModerationRequest{CommentIDs: ids, Action: model.ActionApprove})
	if err != nil {
		t.Fatalf("BulkModerate() error = %v", err)
	}
	if result.Summary.Success != MaxBulkItems || repo.callCount() != MaxBulkItems {
		t.Errorf("summary = %+v, calls = %d", result.Summary, repo.callCount())
	}
}

func TestBulkModerate_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	repo := &mockCommentRepo{
		setPublishedFn: func(ctx context.Context, id string, published bool) (*model.Comment, error) {
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return &model.Comment{ID: id}, nil
		},
	}
	c := NewCoordinator(repo, Config{Concurrency: 2}, slog.New(slog.NewJSONHandler(io.Discard, nil)), nil)

	ids := []string{"a", "b", "c", "d", "e", "f"}
	if _, err := c.BulkModerate(context.Background(), model.ModerationRequest{CommentIDs: ids, Action: model.ActionApprove}); err != nil {
		t.Fatalf("BulkModerate() error = %v", err)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestBulkModerate_CancelledContextFailsItems(t *testing.T) {
	repo := &mockCommentRepo{}
	c := NewCoordinator(repo, Config{Concurrency: 1, OpsPerSecond: 0.001}, slog.New(slog.NewJSONHandler(io.Discard, nil)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := c.BulkModerate(ctx, model.ModerationRequest{CommentIDs: []string{"a", "b"}, Action: model.ActionApprove})
	if err != nil {
		t.Fatalf("BulkModerate() error = %v", err)
	}
	if result.Summary.Failed != 2 || len(result.Results) != 2 {
		t.Errorf("summary = %+v", result.Summary)
	}
}

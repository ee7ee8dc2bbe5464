package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセスローカルなバケットストア。
// マルチプロセス構成では近似値になるが、単一プロセス内では加算の取りこぼしはない。
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket

	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

type memoryBucket struct {
	count       int64
	windowStart time.Time
	window      time.Duration
}

// NewMemoryStore は新しいMemoryStoreを生成する。
// cleanupIntervalが正の場合、バックグラウンドで期限切れバケットのクリーンアップを開始する。
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		buckets:         make(map[string]*memoryBucket),
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop()
	}
	return s
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Increment はkeyのバケットを加算する。ウィンドウが満了していれば1から数え直す。
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || now.Sub(b.windowStart) >= window {
		b = &memoryBucket{count: 1, windowStart: now, window: window}
		s.buckets[key] = b
		return Bucket{Count: 1, WindowStart: now}, nil
	}

	b.count++
	return Bucket{Count: b.count, WindowStart: b.windowStart}, nil
}

// Len は現在保持しているバケット数を返す。テストおよびメトリクス用。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// cleanupLoop はバックグラウンドで期限切れバケットを定期的に削除する。
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.sweep(now)
		case <-s.stopCh:
			return
		}
	}
}

// sweep はnow時点でウィンドウが満了したバケットを削除する。
func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, b := range s.buckets {
		if now.Sub(b.windowStart) >= b.window {
			delete(s.buckets, key)
		}
	}
}

var _ Store = (*MemoryStore)(nil)

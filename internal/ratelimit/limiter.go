// Package ratelimit はクライアントアドレス単位の固定ウィンドウ方式レート制限を提供する。
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/inkpost/internal/metrics"
)

// Bucket はキーごとのカウンタとウィンドウ開始時刻を保持する。
type Bucket struct {
	Count       int64
	WindowStart time.Time
}

// Store はバケットの保存先。
// Incrementはキー単位でアトミックに「ウィンドウ満了ならリセットして1、そうでなければ+1」を行う。
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Bucket, error)
}

// Config はレート制限の設定を保持する。
type Config struct {
	Max    int64         // ウィンドウあたりの上限リクエスト数
	Window time.Duration // ウィンドウ長
}

// DefaultConfig はデフォルトのレート制限設定を返す（60 req/min/クライアント）。
func DefaultConfig() Config {
	return Config{
		Max:    60,
		Window: time.Minute,
	}
}

// Decision は1リクエストに対する判定結果。
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration // 拒否時のみ設定される
}

// Limiter は固定ウィンドウ方式のレートリミッター。
type Limiter struct {
	config  Config
	store   Store
	now     func() time.Time
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// Option はLimiterのオプション。
type Option func(*Limiter)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithMetrics はメトリクスコレクタを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(l *Limiter) { l.metrics = m }
}

// NewLimiter はLimiterを生成する。
// Max・Windowが0以下の場合はデフォルト値を使用する。
func NewLimiter(config Config, store Store, opts ...Option) *Limiter {
	def := DefaultConfig()
	if config.Max <= 0 {
		config.Max = def.Max
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	l := &Limiter{
		config:  config,
		store:   store,
		now:     time.Now,
		logger:  slog.Default(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow はclientKeyのリクエストを許可するかどうかを返す。
func (l *Limiter) Allow(ctx context.Context, clientKey string) bool {
	return l.Decide(ctx, clientKey).Allowed
}

// Decide はclientKeyのバケットを加算し、上限と比較した判定を返す。
// ストア障害時は許可側に倒す（インフラ障害で正規のトラフィックを止めない）。
func (l *Limiter) Decide(ctx context.Context, clientKey string) Decision {
	now := l.now()

	bucket, err := l.store.Increment(ctx, clientKey, l.config.Window, now)
	if err != nil {
		l.logger.Warn("rate limit store failure, allowing request",
			slog.String("client_key", clientKey),
			slog.String("error", err.Error()),
		)
		l.metrics.RecordRateLimitStoreFailure()
		return Decision{Allowed: true, Remaining: l.config.Max}
	}

	if bucket.Count > l.config.Max {
		retryAfter := bucket.WindowStart.Add(l.config.Window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		l.logger.Warn("rate limit exceeded",
			slog.String("client_key", clientKey),
			slog.Int64("count", bucket.Count),
		)
		l.metrics.RecordRateLimited()
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	return Decision{
		Allowed:   true,
		Remaining: l.config.Max - bucket.Count,
	}
}

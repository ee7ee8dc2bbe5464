// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// レートリミッター、パイプライン、モデレーションから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRateLimited()
	RecordRateLimitStoreFailure()
	RecordAuthFailure(kind string)
	RecordModerationItem(action string, success bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus       *prometheus.CounterVec
	rateLimited      prometheus.Counter
	rateLimitFailure prometheus.Counter
	authFailure      *prometheus.CounterVec
	moderationItems  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkpost_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkpost_rate_limited_total",
			Help: "レート制限で拒否したリクエスト数",
		}),
		rateLimitFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkpost_rate_limit_store_failures_total",
			Help: "バケットストア障害により許可側に倒したリクエスト数",
		}),
		authFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkpost_auth_failures_total",
			Help: "認可失敗の種別ごとの件数",
		}, []string{"kind"}),
		moderationItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkpost_moderation_items_total",
			Help: "モデレーション対象コメントの処理結果",
		}, []string{"action", "outcome"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.rateLimited,
		c.rateLimitFailure,
		c.authFailure,
		c.moderationItems,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// RecordRateLimitStoreFailure はバケットストア障害を記録する。
func (c *Collector) RecordRateLimitStoreFailure() {
	c.rateLimitFailure.Inc()
}

// RecordAuthFailure は認可失敗を記録する。
func (c *Collector) RecordAuthFailure(kind string) {
	c.authFailure.WithLabelValues(kind).Inc()
}

// RecordModerationItem はコメント1件のモデレーション結果を記録する。
func (c *Collector) RecordModerationItem(action string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.moderationItems.WithLabelValues(action, outcome).Inc()
}

// Nop は何も記録しないMetricsCollector。
// テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRateLimited()                 {}
func (Nop) RecordRateLimitStoreFailure()       {}
func (Nop) RecordAuthFailure(string)           {}
func (Nop) RecordModerationItem(string, bool) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

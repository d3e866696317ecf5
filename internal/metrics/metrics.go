// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// フェッチキューのオブザーバとワーカーループから利用する。
type MetricsCollector interface {
	RecordFetchSuccess()
	RecordFetchError(errorCode string)
	RecordFetchLatency(duration time.Duration)
	RecordArticlesNew(count int)
	RecordArticlesUpdated(count int)
	RecordArticlesExpired(count int)
	SetTotalUnread(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess    prometheus.Counter
	fetchError      *prometheus.CounterVec
	fetchLatency    prometheus.Histogram
	articlesNew     prometheus.Counter
	articlesUpdated prometheus.Counter
	articlesExpired prometheus.Counter
	totalUnread     prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedkeeper_fetch_success_total",
			Help: "フィードフェッチ成功の合計数",
		}),
		fetchError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedkeeper_fetch_error_total",
			Help: "エラー分類別のフィードフェッチ失敗数",
		}, []string{"error_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedkeeper_fetch_latency_seconds",
			Help:    "フィードフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		articlesNew: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedkeeper_articles_new_total",
			Help: "リコンサイルで新規に取り込まれた記事の合計数",
		}),
		articlesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedkeeper_articles_updated_total",
			Help: "リコンサイルで内容更新を検出した記事の合計数",
		}),
		articlesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedkeeper_articles_expired_total",
			Help: "期限切れ削除された記事の合計数",
		}),
		totalUnread: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedkeeper_unread_articles",
			Help: "フィードリスト全体の現在の未読数",
		}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchError,
		c.fetchLatency,
		c.articlesNew,
		c.articlesUpdated,
		c.articlesExpired,
		c.totalUnread,
	)

	return c
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess() {
	c.fetchSuccess.Inc()
}

// RecordFetchError はフェッチ失敗をエラー分類とともに記録する。
func (c *Collector) RecordFetchError(errorCode string) {
	c.fetchError.WithLabelValues(errorCode).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordArticlesNew は新規記事数を記録する。
func (c *Collector) RecordArticlesNew(count int) {
	c.articlesNew.Add(float64(count))
}

// RecordArticlesUpdated は更新記事数を記録する。
func (c *Collector) RecordArticlesUpdated(count int) {
	c.articlesUpdated.Add(float64(count))
}

// RecordArticlesExpired は期限切れ削除された記事数を記録する。
func (c *Collector) RecordArticlesExpired(count int) {
	c.articlesExpired.Add(float64(count))
}

// SetTotalUnread は全体未読数のゲージを更新する。
func (c *Collector) SetTotalUnread(count int) {
	c.totalUnread.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

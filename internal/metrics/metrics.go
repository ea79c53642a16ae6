// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// スクレイプワーカーとディスパッチループから利用する。
type MetricsCollector interface {
	RecordScrapeSuccess(kind string)
	RecordScrapeFailure(kind string, reason string)
	RecordScrapeLatency(duration time.Duration)
	RecordChangeDetected(kind string)
	RecordReconcileChanges(count int)
	RecordRemindersMaterialized(created, cancelled int)
	RecordReminderSent()
	RecordDeliveryFailure(final bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	scrapeSuccess      *prometheus.CounterVec
	scrapeFail         *prometheus.CounterVec
	scrapeLatency      prometheus.Histogram
	changesDetected    *prometheus.CounterVec
	reconcileChanges   prometheus.Counter
	remindersCreated   prometheus.Counter
	remindersCancelled prometheus.Counter
	remindersSent      prometheus.Counter
	deliveryFailures   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		scrapeSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conwatch_scrape_success_total",
			Help: "ソース種別ごとのスクレイプ成功の合計数",
		}, []string{"kind"}),
		scrapeFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conwatch_scrape_fail_total",
			Help: "ソース種別・失敗理由ごとのスクレイプ失敗の合計数",
		}, []string{"kind", "reason"}),
		scrapeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conwatch_scrape_latency_seconds",
			Help:    "ソースフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		changesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conwatch_changes_detected_total",
			Help: "ソース種別ごとのコンテンツ変更検出の合計数",
		}, []string{"kind"}),
		reconcileChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conwatch_reconcile_field_changes_total",
			Help: "リコンサイルで適用されたフィールド変更の合計数",
		}),
		remindersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conwatch_reminders_created_total",
			Help: "マテリアライズで作成されたリマインダーの合計数",
		}),
		remindersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conwatch_reminders_cancelled_total",
			Help: "マテリアライズでキャンセルされたリマインダーの合計数",
		}),
		remindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conwatch_reminders_sent_total",
			Help: "配信完了したリマインダーの合計数",
		}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conwatch_delivery_failures_total",
			Help: "リマインダー配信失敗の合計数（finalは試行上限到達）",
		}, []string{"final"}),
	}

	reg.MustRegister(
		c.scrapeSuccess,
		c.scrapeFail,
		c.scrapeLatency,
		c.changesDetected,
		c.reconcileChanges,
		c.remindersCreated,
		c.remindersCancelled,
		c.remindersSent,
		c.deliveryFailures,
	)

	return c
}

// RecordScrapeSuccess はスクレイプ成功を記録する。
func (c *Collector) RecordScrapeSuccess(kind string) {
	c.scrapeSuccess.WithLabelValues(kind).Inc()
}

// RecordScrapeFailure はスクレイプ失敗を記録する。
func (c *Collector) RecordScrapeFailure(kind string, reason string) {
	c.scrapeFail.WithLabelValues(kind, reason).Inc()
}

// RecordScrapeLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordScrapeLatency(duration time.Duration) {
	c.scrapeLatency.Observe(duration.Seconds())
}

// RecordChangeDetected はコンテンツ変更の検出を記録する。
func (c *Collector) RecordChangeDetected(kind string) {
	c.changesDetected.WithLabelValues(kind).Inc()
}

// RecordReconcileChanges は適用されたフィールド変更数を記録する。
func (c *Collector) RecordReconcileChanges(count int) {
	c.reconcileChanges.Add(float64(count))
}

// RecordRemindersMaterialized はマテリアライズの作成/キャンセル数を記録する。
func (c *Collector) RecordRemindersMaterialized(created, cancelled int) {
	c.remindersCreated.Add(float64(created))
	c.remindersCancelled.Add(float64(cancelled))
}

// RecordReminderSent はリマインダー配信完了を記録する。
func (c *Collector) RecordReminderSent() {
	c.remindersSent.Inc()
}

// RecordDeliveryFailure はリマインダー配信失敗を記録する。
func (c *Collector) RecordDeliveryFailure(final bool) {
	label := "false"
	if final {
		label = "true"
	}
	c.deliveryFailures.WithLabelValues(label).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

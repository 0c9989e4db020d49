// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッション同期、オンボーディング、外部Function呼び出しから利用する。
type MetricsCollector interface {
	RecordAuthEvent(event string)
	RecordForcedSignOut(reason string)
	RecordView(kind string)
	RecordFunctionCall(endpoint string, statusCode int, duration time.Duration)
	RecordSurveySubmission(outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authEvents        *prometheus.CounterVec
	forcedSignOuts    *prometheus.CounterVec
	views             *prometheus.CounterVec
	functionCalls     *prometheus.CounterVec
	functionLatency   *prometheus.HistogramVec
	surveySubmissions *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minglemood_auth_events_total",
			Help: "認証状態変化イベントの合計数",
		}, []string{"event"}),
		forcedSignOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minglemood_forced_sign_outs_total",
			Help: "リフレッシュトークン失効などによる強制サインアウトの合計数",
		}, []string{"reason"}),
		views: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minglemood_view_selections_total",
			Help: "オンボーディングで選択された画面別の回数",
		}, []string{"view"}),
		functionCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minglemood_function_calls_total",
			Help: "サーバーレスFunction呼び出しのエンドポイント・ステータス別の回数",
		}, []string{"endpoint", "status_code"}),
		functionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "minglemood_function_latency_seconds",
			Help:    "サーバーレスFunction呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		surveySubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minglemood_survey_submissions_total",
			Help: "Preferences Surveyの送信結果別の回数",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.authEvents,
		c.forcedSignOuts,
		c.views,
		c.functionCalls,
		c.functionLatency,
		c.surveySubmissions,
	)

	return c
}

// RecordAuthEvent は認証状態変化イベントを記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordForcedSignOut は強制サインアウトを記録する。
func (c *Collector) RecordForcedSignOut(reason string) {
	c.forcedSignOuts.WithLabelValues(reason).Inc()
}

// RecordView は選択された画面を記録する。
func (c *Collector) RecordView(kind string) {
	c.views.WithLabelValues(kind).Inc()
}

// RecordFunctionCall はFunction呼び出しのステータスとレイテンシを記録する。
// 通信エラーの場合statusCodeは0。
func (c *Collector) RecordFunctionCall(endpoint string, statusCode int, duration time.Duration) {
	c.functionCalls.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.functionLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordSurveySubmission はサーベイ送信の結果を記録する。
func (c *Collector) RecordSurveySubmission(outcome string) {
	c.surveySubmissions.WithLabelValues(outcome).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordAuthEvent(string) {}
func (Nop) RecordForcedSignOut(string) {}
func (Nop) RecordView(string) {}
func (Nop) RecordFunctionCall(string, int, time.Duration) {}
func (Nop) RecordSurveySubmission(string) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 退会処理の結果ラベル。
const (
	ResultSuccess         = "success"
	ResultPartial         = "partial"
	ResultIdentityFailure = "identity_failure"
	ResultInvalid         = "invalid"
	ResultFailure         = "failure" // ワーカー再開時の失敗
)

// Collector はPrometheusメトリクスを収集する実装。
// 認証ゲート（middleware.GateMetrics）と退会処理（account.Metrics）の両方を満たす。
type Collector struct {
	gateDecisions    *prometheus.CounterVec
	gateDegraded     prometheus.Counter
	sessionRotations prometheus.Counter
	deletions        *prometheus.CounterVec
	stepFailures     *prometheus.CounterVec
	deletionDuration prometheus.Histogram
	resumes          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshelf_gate_decisions_total",
			Help: "認証ゲートの判定結果別リクエスト数",
		}, []string{"outcome"}),
		gateDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookshelf_gate_degraded_total",
			Help: "Identity Providerに到達できずフェイルオープンしたリクエスト数",
		}),
		sessionRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookshelf_session_rotations_total",
			Help: "リフレッシュによりセッションCookieを書き換えた回数",
		}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshelf_account_deletions_total",
			Help: "退会処理の結果別件数",
		}, []string{"result"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshelf_deletion_step_failures_total",
			Help: "カスケード削除のステップ別失敗数",
		}, []string{"step"}),
		deletionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bookshelf_account_deletion_duration_seconds",
			Help:    "退会処理全体の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		resumes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshelf_deletion_resumes_total",
			Help: "ワーカーによる中断済み退会処理の再開結果別件数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.gateDecisions,
		c.gateDegraded,
		c.sessionRotations,
		c.deletions,
		c.stepFailures,
		c.deletionDuration,
		c.resumes,
	)

	return c
}

// RecordGateDecision はゲートの判定（allow / redirect / fail_open）を記録する。
func (c *Collector) RecordGateDecision(outcome string) {
	c.gateDecisions.WithLabelValues(outcome).Inc()
}

// RecordGateDegraded はフェイルオープンを記録する。
func (c *Collector) RecordGateDegraded() {
	c.gateDegraded.Inc()
}

// RecordSessionRotation はセッションのローテーションを記録する。
func (c *Collector) RecordSessionRotation() {
	c.sessionRotations.Inc()
}

// RecordAccountDeletion は退会処理の結果と所要時間を記録する。
func (c *Collector) RecordAccountDeletion(result string, duration time.Duration) {
	c.deletions.WithLabelValues(result).Inc()
	c.deletionDuration.Observe(duration.Seconds())
}

// RecordDeletionStepFailure はカスケード削除ステップの失敗を記録する。
func (c *Collector) RecordDeletionStepFailure(step string) {
	c.stepFailures.WithLabelValues(step).Inc()
}

// RecordDeletionResume はワーカーによる再開の結果を記録する。
func (c *Collector) RecordDeletionResume(result string) {
	c.resumes.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントのみを提供するHTTPハンドラーを返す。
// APIサーバーを持たないワーカープロセスで使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

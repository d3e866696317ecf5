package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue はレジストリから指定カウンタの値を取り出す。
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("メトリクスの収集に失敗: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				sum += m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				sum += m.GetGauge().GetValue()
			}
		}
		return sum
	}
	t.Fatalf("メトリクス %s が見つからない", name)
	return 0
}

// TestCollector_Counters は各カウンタの増加を検証する。
func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchSuccess()
	c.RecordFetchSuccess()
	c.RecordFetchError("timeout")
	c.RecordFetchError("invalidXML")
	c.RecordFetchError("timeout")
	c.RecordArticlesNew(3)
	c.RecordArticlesUpdated(1)
	c.RecordArticlesExpired(5)

	if got := counterValue(t, reg, "feedkeeper_fetch_success_total"); got != 2 {
		t.Errorf("fetch_success_total = %v, want 2", got)
	}
	if got := counterValue(t, reg, "feedkeeper_fetch_error_total"); got != 3 {
		t.Errorf("fetch_error_total = %v, want 3", got)
	}
	if got := counterValue(t, reg, "feedkeeper_articles_new_total"); got != 3 {
		t.Errorf("articles_new_total = %v, want 3", got)
	}
	if got := counterValue(t, reg, "feedkeeper_articles_updated_total"); got != 1 {
		t.Errorf("articles_updated_total = %v, want 1", got)
	}
	if got := counterValue(t, reg, "feedkeeper_articles_expired_total"); got != 5 {
		t.Errorf("articles_expired_total = %v, want 5", got)
	}
}

// TestCollector_UnreadGauge は未読数ゲージが最後の値を保持することを検証する。
func TestCollector_UnreadGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetTotalUnread(10)
	c.SetTotalUnread(7)

	if got := counterValue(t, reg, "feedkeeper_unread_articles"); got != 7 {
		t.Errorf("unread_articles = %v, want 7", got)
	}
}

// TestCollector_Latency はレイテンシヒストグラムへの記録を検証する。
func TestCollector_Latency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchLatency(250 * time.Millisecond)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("メトリクスの収集に失敗: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == "feedkeeper_fetch_latency_seconds" {
			if count := mf.GetMetric()[0].GetHistogram().GetSampleCount(); count != 1 {
				t.Errorf("サンプル数 = %d, want 1", count)
			}
			return
		}
	}
	t.Error("feedkeeper_fetch_latency_seconds が見つからない")
}

// TestHandler_ServesMetrics はハンドラーが登録済みメトリクスを返すことを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordFetchSuccess()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "feedkeeper_fetch_success_total") {
		t.Error("レスポンスにfeedkeeper_fetch_success_totalが含まれていない")
	}
}

// TestCollectorInterface はMetricsCollectorインターフェースの適合を検証する。
func TestCollectorInterface(t *testing.T) {
	var _ MetricsCollector = NewCollector(prometheus.NewRegistry())
}

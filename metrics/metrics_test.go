package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestRecordAudio(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAudioSent(8192)
	m.RecordAudioSent(8192)
	m.RecordFrameDropped()

	if got := counterValue(t, m.FramesSent); got != 2 {
		t.Errorf("FramesSent = %v, want 2", got)
	}
	if got := counterValue(t, m.BytesSent); got != 16384 {
		t.Errorf("BytesSent = %v, want 16384", got)
	}
	if got := counterValue(t, m.FramesDropped); got != 1 {
		t.Errorf("FramesDropped = %v, want 1", got)
	}
}

func TestSetStatus(t *testing.T) {
	m := New(prometheus.NewRegistry())
	all := []string{"idle", "connecting", "capturing"}

	m.SetStatus("connecting", all)
	m.SetStatus("capturing", all)

	want := map[string]float64{"idle": 0, "connecting": 0, "capturing": 1}
	for status, v := range want {
		if got := gaugeValue(t, m.SessionStatus.WithLabelValues(status)); got != v {
			t.Errorf("status %s = %v, want %v", status, got, v)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordAudioSent(1)
	m.RecordFrameDropped()
	m.RecordMessage("status")
	m.RecordParseError()
	m.RecordSessionStarted()
	m.RecordConnectionFailure()
	m.SetStatus("idle", []string{"idle"})
	m.SetCapturing(true)
	m.RecordHTTPRequest("GET", "/status", "200")
}

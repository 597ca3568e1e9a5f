package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/tutu-network/infergate/internal/domain"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestObserveRecovery_SetsGaugePerTransport(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.ObserveRecovery(domain.TransportTCP, domain.RecoveryActive)

	g, err := reg.RecoveryState.GetMetricWithLabelValues(domain.TransportTCP.String())
	if err != nil {
		t.Fatalf("get metric: %v", err)
	}
	if got := gaugeValue(t, g); got != float64(domain.RecoveryActive) {
		t.Errorf("recovery_state = %v, want %v", got, domain.RecoveryActive)
	}
}

func TestObserveInvocation_IncrementsCounterAndHistogram(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.ObserveInvocation("is_running", true, 0.01)
	reg.ObserveInvocation("run", false, 0.25)

	c, err := reg.RequestsTotal.GetMetricWithLabelValues("is_running", "ok")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	var m dto.Metric
	c.Write(&m)
	if m.GetCounter().GetValue() != 1 {
		t.Errorf("requests_total{is_running,ok} = %v, want 1", m.GetCounter().GetValue())
	}

	h, err := reg.RequestDuration.GetMetricWithLabelValues("run")
	if err != nil {
		t.Fatalf("get histogram: %v", err)
	}
	var hm dto.Metric
	h.(prometheus.Metric).Write(&hm)
	if hm.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("request_duration_seconds{run} sample count = %d, want 1", hm.GetHistogram().GetSampleCount())
	}
}

package recovery

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tutu-network/infergate/internal/domain"
)

type fakeRestarter struct {
	mu    sync.Mutex
	calls int32
	err   error
}

func (f *fakeRestarter) Restart(transport domain.TransportKind) error {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func TestBackoffDelay_GrowsExponentiallyAndCaps(t *testing.T) {
	policy := domain.BackoffPolicy{MaxRetries: 10, BaseIntervalMS: 100, Multiplier: 2.0, MaxIntervalMS: 1000}
	cases := []struct {
		n    int
		want time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, 1000 * time.Millisecond}, // 1600 capped to 1000
	}
	for _, c := range cases {
		got := backoffDelay(policy, c.n)
		if got != c.want {
			t.Errorf("backoffDelay(n=%d) = %s, want %s", c.n, got, c.want)
		}
	}
}

func TestReportFailure_RecoverableSchedulesRestart(t *testing.T) {
	restarter := &fakeRestarter{}
	sup := New(restarter).WithQuiescentPeriod(20 * time.Millisecond)
	sup.records[domain.TransportTCP] = &domain.RecoveryRecord{
		Transport: domain.TransportTCP,
		State:     domain.RecoveryIdle,
		Policy:    domain.BackoffPolicy{MaxRetries: 3, BaseIntervalMS: 1, Multiplier: 1, MaxIntervalMS: 5},
	}

	sup.ReportFailure(domain.TransportTCP, domain.FailureConnectionLost, "peer reset")

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&restarter.calls) == 0 {
		select {
		case <-deadline:
			t.Fatal("restart was never attempted")
		case <-time.After(time.Millisecond):
		}
	}

	// Immediately after a successful restart the record holds
	// RecoverySuccess, not RecoveryIdle — the state machine observes a
	// quiescent period before settling.
	deadline = time.After(time.Second)
	for sup.Record(domain.TransportTCP).State != domain.RecoverySuccess {
		select {
		case <-deadline:
			t.Fatalf("state never reached success, got %s", sup.Record(domain.TransportTCP).State)
		case <-time.After(time.Millisecond):
		}
	}

	// After the quiescent period elapses, it settles to RecoveryIdle.
	deadline = time.After(time.Second)
	for sup.Record(domain.TransportTCP).State != domain.RecoveryIdle {
		select {
		case <-deadline:
			t.Fatalf("state never settled to idle, got %s", sup.Record(domain.TransportTCP).State)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestReportFailure_NonRecoverableMarksFailed(t *testing.T) {
	sup := New(&fakeRestarter{})
	sup.ReportFailure(domain.TransportHTTP, domain.FailurePermissionDenied, "EACCES")
	rec := sup.Record(domain.TransportHTTP)
	if rec.State != domain.RecoveryFailed {
		t.Errorf("state = %s, want failed", rec.State)
	}
	if rec.ConsecutiveFailureCount != 1 {
		t.Errorf("count = %d, want 1", rec.ConsecutiveFailureCount)
	}
}

func TestReportFailure_ExhaustsRetriesAndFails(t *testing.T) {
	restarter := &fakeRestarter{err: errors.New("still down")}
	sup := New(restarter)
	sup.records[domain.TransportUDP] = &domain.RecoveryRecord{
		Transport: domain.TransportUDP,
		State:     domain.RecoveryIdle,
		Policy:    domain.BackoffPolicy{MaxRetries: 1, BaseIntervalMS: 1, Multiplier: 1, MaxIntervalMS: 2},
	}
	sup.ReportFailure(domain.TransportUDP, domain.FailureTimeout, "no response")
	time.Sleep(50 * time.Millisecond)

	sup.ReportFailure(domain.TransportUDP, domain.FailureTimeout, "no response again")
	rec := sup.Record(domain.TransportUDP)
	if rec.State != domain.RecoveryFailed {
		t.Errorf("state = %s, want failed once retries exhausted", rec.State)
	}
}

func TestReportSuccess_ResetsCount(t *testing.T) {
	sup := New(&fakeRestarter{})
	sup.ReportFailure(domain.TransportWebSocket, domain.FailurePermissionDenied, "denied")
	sup.ReportSuccess(domain.TransportWebSocket)
	rec := sup.Record(domain.TransportWebSocket)
	if rec.ConsecutiveFailureCount != 0 {
		t.Errorf("count = %d, want 0 after success", rec.ConsecutiveFailureCount)
	}
	if rec.State != domain.RecoverySuccess {
		t.Errorf("state = %s, want success", rec.State)
	}
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	// Exercise helpers; they should work only after Register
	IncStart()
	IncStart()
	IncStop()
	IncKill()
	IncSpawnFailure()
	SetRunning(true)
	SetUptimeSeconds(12.5)
	SetOutcomeRecords(4, 2)
	IncTailRequest()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	// Very basic assertions that our metric names exist and have samples
	wantNames := map[string]bool{
		"warden_worker_starts_total":         false,
		"warden_worker_stops_total":          false,
		"warden_worker_kills_total":          false,
		"warden_worker_spawn_failures_total": false,
		"warden_worker_running":              false,
		"warden_worker_uptime_seconds":       false,
		"warden_outcome_records":             false,
		"warden_http_tail_requests_total":    false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Ensure collectors are registered with the default registry used by Handler().
	// Reset regOK gate to allow registration in this test regardless of previous tests.
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	// touch some metrics
	IncStart()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "warden_worker_starts_total") {
		t.Fatalf("metrics output missing starts_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncStart()
			IncStop()
			SetRunning(true)
		}()
	}
	wg.Wait()
	// Ensure gather succeeds under race detector
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestSampleWorkerSelf(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterUsage(reg); err != nil {
		t.Fatalf("register usage: %v", err)
	}
	// Sample this test process; it certainly exists.
	self := os.Getpid()
	u, err := SampleWorker(self)
	if err != nil {
		t.Fatalf("sample self: %v", err)
	}
	if u.PID != self {
		t.Fatalf("expected pid %d, got %d", self, u.PID)
	}
	if u.MemoryMB <= 0 {
		t.Fatalf("expected positive memory sample, got %v", u.MemoryMB)
	}
	ClearWorkerUsage()
}

func TestSampleWorkerInvalidPID(t *testing.T) {
	if _, err := SampleWorker(0); err == nil {
		t.Fatalf("expected error for pid 0")
	}
}

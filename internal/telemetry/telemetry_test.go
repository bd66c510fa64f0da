package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDisabledCollectorDropsMetrics(t *testing.T) {
	c := NewCollector(false, "")
	c.Counter("framefarm_task_failed", 1, nil)
	c.Timer("framefarm_task_duration", time.Second, nil)
	if n := len(c.GetMetrics()); n != 0 {
		t.Fatalf("disabled collector kept %d metrics", n)
	}
}

func TestCollectorSummary(t *testing.T) {
	c := NewCollector(true, "")
	defer c.Shutdown()
	c.Counter("framefarm_task_failed", 1, nil)
	c.Counter("framefarm_task_failed", 1, nil)
	c.Timer("framefarm_task_duration", 1500*time.Millisecond, map[string]string{"component": "executor"})

	s := c.Summary()
	if s["framefarm_task_failed"].Count != 2 || s["framefarm_task_failed"].Sum != 2 {
		t.Fatalf("counter aggregate %+v", s["framefarm_task_failed"])
	}
	if d := s["framefarm_task_duration"]; d.Type != Timer || d.Sum != 1500 {
		t.Fatalf("timer aggregate %+v", d)
	}
}

func TestFlushExportsOTLP(t *testing.T) {
	var mu sync.Mutex
	var payloads []otlpPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p otlpPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
	}))
	defer srv.Close()

	c := NewCollector(true, srv.URL)
	c.Counter("framefarm_agent_heartbeats", 1, map[string]string{"endpoint": "heartbeat", "component": "agent"})
	c.Histogram("framefarm_task_outputs", 3, nil)
	if err := c.Shutdown(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 1 {
		t.Fatalf("expected one export, got %d", len(payloads))
	}
	rm := payloads[0].ResourceMetrics[0]
	if rm.Resource.Attributes[0].Value.StringValue != "framefarm" {
		t.Fatalf("service name %+v", rm.Resource.Attributes)
	}
	metrics := rm.ScopeMetrics[0].Metrics
	if len(metrics) != 2 || metrics[0].Sum == nil || metrics[1].Histogram == nil {
		t.Fatalf("unexpected metrics %+v", metrics)
	}
	attrs := metrics[0].Sum.DataPoints[0].Attributes
	if attrs[0].Key != "component" || attrs[1].Key != "endpoint" {
		t.Fatalf("attributes not sorted: %+v", attrs)
	}
	if len(c.GetMetrics()) != 0 {
		t.Fatalf("metrics not cleared after flush")
	}
}

func TestExportErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewCollector(true, srv.URL)
	c.Counter("x", 1, nil)
	if err := c.Shutdown(); err == nil {
		t.Fatalf("expected export error")
	}
}

func TestRetryingClientBacksOff(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("attempt %d body %q", calls, body)
		}
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rc := &retryingClient{client: srv.Client(), retry: RetryConfig{
		MaxRetries:      3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		BackoffFactor:   2,
		RetryableErrors: []int{503},
	}}
	resp, err := rc.Post(context.Background(), srv.URL, "text/plain", []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || calls != 3 {
		t.Fatalf("status %d after %d calls", resp.StatusCode, calls)
	}
}

func TestRetryDelayCapped(t *testing.T) {
	rc := &retryingClient{retry: DefaultRetryConfig()}
	if d := rc.delay(10); d != 30*time.Second {
		t.Fatalf("delay %v", d)
	}
	if d := rc.delay(0); d < 750*time.Millisecond || d > 1250*time.Millisecond {
		t.Fatalf("jitter out of range: %v", d)
	}
}

func TestWriteText(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	var buf bytes.Buffer
	err := WriteText(&buf, []Metric{
		{Name: "framefarm_task_failed", Type: Counter, Value: 1, Labels: map[string]string{"component": "executor"}, Timestamp: ts},
		{Name: "framefarm_task_failed", Type: Counter, Value: 2, Timestamp: ts},
		{Name: "framefarm_task_duration", Type: Timer, Value: 12.5, Timestamp: ts},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"# TYPE framefarm_task_failed counter",
		`framefarm_task_failed{component="executor"} 1 1700000000000`,
		"framefarm_task_failed 2 1700000000000",
		"# TYPE framefarm_task_duration gauge",
		"framefarm_task_duration 12.5 1700000000000",
		"",
	}, "\n")
	if buf.String() != want {
		t.Fatalf("got:\n%s", buf.String())
	}
}

func TestBuildPayloadGroupsByName(t *testing.T) {
	now := time.Now()
	p := buildPayload([]Metric{
		{Name: "framefarm_task_duration", Type: Timer, Value: 10, Unit: "ms", Timestamp: now},
		{Name: "framefarm_task_failed", Type: Counter, Value: 1, Timestamp: now},
		{Name: "framefarm_task_duration", Type: Timer, Value: 20, Unit: "ms", Timestamp: now},
	})
	metrics := p.ResourceMetrics[0].ScopeMetrics[0].Metrics
	if len(metrics) != 2 || metrics[0].Name != "framefarm_task_duration" {
		t.Fatalf("unexpected metrics %+v", metrics)
	}
	if metrics[0].Gauge == nil || len(metrics[0].Gauge.DataPoints) != 2 || metrics[0].Unit != "ms" {
		t.Fatalf("timer points %+v", metrics[0])
	}
}

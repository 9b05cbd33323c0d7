package metricspush

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/seeklabs/bloxscout/internal/config"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

type capturedPush struct {
	header http.Header
	body   []byte
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, chan capturedPush) {
	t.Helper()
	got := make(chan capturedPush, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read push body: %v", err)
		}
		got <- capturedPush{header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, got
}

func decodeWriteRequest(t *testing.T, body []byte) *prompb.WriteRequest {
	t.Helper()
	decoded, err := snappy.Decode(nil, body)
	if err != nil {
		t.Fatalf("snappy decode: %v", err)
	}
	var req prompb.WriteRequest
	if err := proto.Unmarshal(decoded, protoadapt.MessageV2Of(&req)); err != nil {
		t.Fatalf("unmarshal write request: %v", err)
	}
	return &req
}

func findSeries(t *testing.T, series []prompb.TimeSeries, name string) prompb.TimeSeries {
	t.Helper()
	for _, ts := range series {
		for _, label := range ts.Labels {
			if label.Name == "__name__" && label.Value == name {
				return ts
			}
		}
	}
	t.Fatalf("series %q not found in %d series", name, len(series))
	return prompb.TimeSeries{}
}

func TestRemoteWritePushSendsSnappyProtobuf(t *testing.T) {
	server, got := newCaptureServer(t, http.StatusNoContent)

	registry := prometheus.NewRegistry()
	searches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bloxscout_searches_total",
		Help: "Searches by outcome.",
	}, []string{"outcome"})
	balance := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bloxscout_open_balance_credits",
		Help: "Outstanding credits.",
	})
	registry.MustRegister(searches, balance)
	searches.WithLabelValues("served").Add(3)
	balance.Set(42)

	pusher := NewRemoteWritePusher(server.URL, "token-123")
	if err := pusher.Push(context.Background(), registry); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	var push capturedPush
	select {
	case push = <-got:
	default:
		t.Fatal("expected one push request")
	}

	if ct := push.header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if enc := push.header.Get("Content-Encoding"); enc != "snappy" {
		t.Fatalf("unexpected content encoding %q", enc)
	}
	if v := push.header.Get("X-Prometheus-Remote-Write-Version"); v != "0.1.0" {
		t.Fatalf("unexpected remote write version %q", v)
	}
	if auth := push.header.Get("Authorization"); auth != "Bearer token-123" {
		t.Fatalf("unexpected authorization header %q", auth)
	}

	req := decodeWriteRequest(t, push.body)
	counter := findSeries(t, req.Timeseries, "bloxscout_searches_total")
	if len(counter.Samples) != 1 || counter.Samples[0].Value != 3 {
		t.Fatalf("unexpected counter samples %+v", counter.Samples)
	}
	for i := 1; i < len(counter.Labels); i++ {
		if counter.Labels[i-1].Name >= counter.Labels[i].Name {
			t.Fatalf("labels not sorted: %+v", counter.Labels)
		}
	}
	gauge := findSeries(t, req.Timeseries, "bloxscout_open_balance_credits")
	if len(gauge.Samples) != 1 || gauge.Samples[0].Value != 42 {
		t.Fatalf("unexpected gauge samples %+v", gauge.Samples)
	}
}

func TestRemoteWritePushSkipsHistogramOnlyRegistry(t *testing.T) {
	server, got := newCaptureServer(t, http.StatusNoContent)

	registry := prometheus.NewRegistry()
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "bloxscout_request_seconds",
		Help: "Latency.",
	})
	registry.MustRegister(latency)
	latency.Observe(0.2)

	pusher := NewRemoteWritePusher(server.URL, "")
	if err := pusher.Push(context.Background(), registry); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	select {
	case <-got:
		t.Fatal("expected no push when nothing is representable")
	default:
	}
}

func TestRemoteWritePushReportsServerErrors(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusInternalServerError)

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bloxscout_searches_total",
		Help: "Searches.",
	})
	registry.MustRegister(counter)
	counter.Inc()

	pusher := NewRemoteWritePusher(server.URL, "")
	if err := pusher.Push(context.Background(), registry); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestBuildRemoteWriteSeriesSkipsUnsupportedTypes(t *testing.T) {
	name := "bloxscout_request_seconds"
	histogramType := dto.MetricType_HISTOGRAM
	families := []*dto.MetricFamily{{
		Name:   &name,
		Type:   &histogramType,
		Metric: []*dto.Metric{{}},
	}}
	if series := buildRemoteWriteSeries(families, 1000); len(series) != 0 {
		t.Fatalf("expected no series, got %d", len(series))
	}
}

func TestNewPusherDispatch(t *testing.T) {
	log := zap.NewNop()

	cfg := config.Config{}
	if p := NewPusher(cfg, log); p != nil {
		t.Fatal("expected nil pusher when disabled")
	}

	cfg.MetricsPush = config.MetricsPushConfig{Enabled: true}
	if p := NewPusher(cfg, log); p != nil {
		t.Fatal("expected nil pusher without exporter")
	}

	cfg.MetricsPush = config.MetricsPushConfig{
		Enabled:  true,
		Exporter: "prometheus_remote_write",
		Endpoint: "not a url",
	}
	if p := NewPusher(cfg, log); p != nil {
		t.Fatal("expected nil pusher for invalid endpoint")
	}

	cfg.MetricsPush = config.MetricsPushConfig{
		Enabled:  true,
		Exporter: "prometheus_remote_write",
		Endpoint: "http://collector:9090/api/v1/write",
	}
	if _, ok := NewPusher(cfg, log).(*RemoteWritePusher); !ok {
		t.Fatal("expected remote write pusher")
	}

	cfg.AppName = "bloxscout"
	cfg.MetricsPush = config.MetricsPushConfig{
		Enabled:  true,
		Exporter: "prometheus_pushgateway",
		Endpoint: "http://pushgateway:9091",
	}
	gw, ok := NewPusher(cfg, log).(*PushgatewayPusher)
	if !ok {
		t.Fatal("expected pushgateway pusher")
	}
	if gw.job != "bloxscout" {
		t.Fatalf("unexpected job %q", gw.job)
	}
}

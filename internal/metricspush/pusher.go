package metricspush

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/seeklabs/bloxscout/internal/config"
	obstracing "github.com/seeklabs/bloxscout/internal/observability/tracing"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

const (
	exporterPrometheusRemoteWrite = "prometheus_remote_write"
	exporterPrometheusPushgateway = "prometheus_pushgateway"
	defaultPushTimeout            = 5 * time.Second
)

// Pusher ships the process metrics to a central collector. Deployments that
// can be scraped directly never construct one.
// Implementations must not start background goroutines.
type Pusher interface {
	Push(ctx context.Context, gatherer prometheus.Gatherer) error
}

// NewPusher builds a pusher from config. Misconfiguration is logged and
// returns nil so a bad push target never blocks startup.
func NewPusher(cfg config.Config, logger *zap.Logger) Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.MetricsPush.Enabled {
		return nil
	}

	exporter := strings.ToLower(strings.TrimSpace(cfg.MetricsPush.Exporter))
	endpoint := strings.TrimSpace(cfg.MetricsPush.Endpoint)

	var (
		pusher Pusher
		err    error
	)
	switch exporter {
	case "":
		err = errors.New("METRICS_PUSH_EXPORTER is required")
	case exporterPrometheusRemoteWrite:
		pusher, err = remoteWriteFromConfig(endpoint, cfg.MetricsPush.AuthToken)
	case exporterPrometheusPushgateway:
		pusher, err = pushgatewayFromConfig(endpoint, cfg)
	default:
		err = fmt.Errorf("unknown METRICS_PUSH_EXPORTER %q", exporter)
	}
	if err != nil {
		logger.Warn("metrics push disabled", zap.Error(err))
		return nil
	}
	return pusher
}

func remoteWriteFromConfig(endpoint, authToken string) (Pusher, error) {
	if endpoint == "" {
		return nil, errors.New("METRICS_PUSH_ENDPOINT is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid METRICS_PUSH_ENDPOINT: %w", err)
	}
	return NewRemoteWritePusher(endpoint, authToken), nil
}

func pushgatewayFromConfig(endpoint string, cfg config.Config) (Pusher, error) {
	if endpoint == "" {
		return nil, errors.New("METRICS_PUSH_ENDPOINT is required")
	}
	return NewPushgatewayPusher(endpoint, cfg.AppName, map[string]string{
		"environment": strings.TrimSpace(cfg.Environment),
	}), nil
}

// RemoteWritePusher sends metrics to a Prometheus remote_write endpoint.
type RemoteWritePusher struct {
	endpoint string
	header   http.Header
	client   *http.Client
}

// NewRemoteWritePusher returns a pusher for Prometheus remote_write.
func NewRemoteWritePusher(endpoint, authToken string) *RemoteWritePusher {
	header := http.Header{}
	header.Set("Content-Type", "application/x-protobuf")
	header.Set("Content-Encoding", "snappy")
	header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if token := strings.TrimSpace(authToken); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &RemoteWritePusher{
		endpoint: endpoint,
		header:   header,
		client:   obstracing.WrapHTTPClient(&http.Client{Timeout: defaultPushTimeout}),
	}
}

// Push sends the gatherer's current counters and gauges via remote_write.
// With nothing representable to send, no request is made.
func (p *RemoteWritePusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}

	families, err := gatherer.Gather()
	if err != nil {
		return err
	}
	series := buildRemoteWriteSeries(families, time.Now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	body, err := encodeWriteRequest(series)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header = p.header.Clone()

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("remote write returned %s", resp.Status)
	}
	return nil
}

func encodeWriteRequest(series []prompb.TimeSeries) ([]byte, error) {
	raw, err := proto.Marshal(protoadapt.MessageV2Of(&prompb.WriteRequest{Timeseries: series}))
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

// PushgatewayPusher sends metrics to a Prometheus Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

// NewPushgatewayPusher returns a pusher for Prometheus Pushgateway.
func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	return &PushgatewayPusher{
		endpoint: endpoint,
		job:      strings.TrimSpace(job),
		grouping: grouping,
	}
}

// Push sends the gatherer's current metrics to the Pushgateway.
func (p *PushgatewayPusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}
	switch {
	case strings.TrimSpace(p.endpoint) == "":
		return errors.New("pushgateway endpoint is required")
	case p.job == "":
		return errors.New("pushgateway job is required")
	}

	client := push.New(p.endpoint, p.job).Gatherer(gatherer)
	for key, value := range p.grouping {
		if k, v := strings.TrimSpace(key), strings.TrimSpace(value); k != "" && v != "" {
			client = client.Grouping(k, v)
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return client.PushContext(ctx)
}

// Histograms and summaries are skipped; remote_write 0.1.0 has no native
// representation for them and the push path only needs the request and job
// counters anyway.
func buildRemoteWriteSeries(families []*dto.MetricFamily, timestampMs int64) []prompb.TimeSeries {
	var series []prompb.TimeSeries
	for _, family := range families {
		kind := family.GetType()
		if kind != dto.MetricType_COUNTER && kind != dto.MetricType_GAUGE {
			continue
		}
		for _, metric := range family.GetMetric() {
			value, ok := sampleValue(kind, metric)
			if !ok {
				continue
			}
			series = append(series, prompb.TimeSeries{
				Labels:  seriesLabels(family.GetName(), metric),
				Samples: []prompb.Sample{{Value: value, Timestamp: timestampMs}},
			})
		}
	}
	return series
}

// seriesLabels renders the label set with the family name as __name__,
// sorted as remote_write requires.
func seriesLabels(name string, metric *dto.Metric) []prompb.Label {
	labels := make([]prompb.Label, 0, len(metric.GetLabel())+1)
	labels = append(labels, prompb.Label{Name: "__name__", Value: name})
	for _, pair := range metric.GetLabel() {
		labels = append(labels, prompb.Label{Name: pair.GetName(), Value: pair.GetValue()})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return labels
}

func sampleValue(metricType dto.MetricType, metric *dto.Metric) (float64, bool) {
	if metric == nil {
		return 0, false
	}
	switch metricType {
	case dto.MetricType_COUNTER:
		if counter := metric.GetCounter(); counter != nil {
			return counter.GetValue(), true
		}
	case dto.MetricType_GAUGE:
		if gauge := metric.GetGauge(); gauge != nil {
			return gauge.GetValue(), true
		}
	}
	return 0, false
}

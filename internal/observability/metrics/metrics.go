package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	searches         metric.Int64Counter
	ledgerEntries    metric.Int64Counter
	cacheEvents      metric.Int64Counter
	lookupCalls      metric.Int64Counter
	paymentEvents    metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	integrityDrift   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "bloxscout"
	}
	meter := provider.Meter(name)

	var err error
	counter := func(instrument string) metric.Int64Counter {
		c, cerr := meter.Int64Counter(instrument)
		if cerr != nil && err == nil {
			err = cerr
		}
		return c
	}

	m := &Metrics{
		searches:         counter("bloxscout_searches_total"),
		ledgerEntries:    counter("bloxscout_ledger_transactions_total"),
		cacheEvents:      counter("bloxscout_search_cache_events_total"),
		lookupCalls:      counter("bloxscout_lookup_calls_total"),
		paymentEvents:    counter("bloxscout_payment_events_total"),
		rateLimitAllowed: counter("bloxscout_rate_limit_allowed_total"),
		rateLimitDenied:  counter("bloxscout_rate_limit_denied_total"),
		integrityDrift:   counter("bloxscout_ledger_integrity_drift_total"),
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

// RecordSearch increments search counts by mode and outcome.
func (m *Metrics) RecordSearch(ctx context.Context, mode, outcome string) {
	if m == nil {
		return
	}
	m.add(ctx, m.searches,
		attribute.String("mode", strings.TrimSpace(mode)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
}

// RecordLedgerTransaction increments ledger transaction counts by type.
func (m *Metrics) RecordLedgerTransaction(ctx context.Context, txType string) {
	if m == nil {
		return
	}
	m.add(ctx, m.ledgerEntries, attribute.String("type", strings.TrimSpace(txType)))
}

// RecordCacheEvent increments search cache event counts.
func (m *Metrics) RecordCacheEvent(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.add(ctx, m.cacheEvents, attribute.String("event", strings.TrimSpace(event)))
}

// RecordLookupCall increments upstream lookup counts by mode and status.
func (m *Metrics) RecordLookupCall(ctx context.Context, mode, status string) {
	if m == nil {
		return
	}
	m.add(ctx, m.lookupCalls,
		attribute.String("mode", strings.TrimSpace(mode)),
		attribute.String("status", strings.TrimSpace(status)),
	)
}

// RecordPaymentEvent increments payment webhook event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	m.add(ctx, m.paymentEvents,
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.add(ctx, m.rateLimitAllowed, attribute.String("endpoint", strings.TrimSpace(endpoint)))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.add(ctx, m.rateLimitDenied,
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
}

// RecordIntegrityDrift increments the count of ledger accounts found
// inconsistent by an integrity check.
func (m *Metrics) RecordIntegrityDrift(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.integrityDrift)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"mode":        {},
	"outcome":     {},
	"event":       {},
	"type":        {},
	"status":      {},
	"status_code": {},
	"endpoint":    {},
	"reason":      {},
	"provider":    {},
	"event_type":  {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

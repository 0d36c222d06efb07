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

// Outcome labels.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeFallback  = "fallback"
	OutcomeFailed    = "failed"

	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeBypassed = "bypassed"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	pagesConsumed   metric.Int64Counter
	incrementDenied metric.Int64Counter
	quotaChecks     metric.Int64Counter
	reconciliations metric.Int64Counter
	degradedReads   metric.Int64Counter
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
		name = "pagequota"
	}
	meter := provider.Meter(name)

	pagesConsumed, err := meter.Int64Counter("pagequota_pages_consumed_total")
	if err != nil {
		return nil, err
	}
	incrementDenied, err := meter.Int64Counter("pagequota_increments_denied_total")
	if err != nil {
		return nil, err
	}
	quotaChecks, err := meter.Int64Counter("pagequota_quota_checks_total")
	if err != nil {
		return nil, err
	}
	reconciliations, err := meter.Int64Counter("pagequota_reconciliations_total")
	if err != nil {
		return nil, err
	}
	degradedReads, err := meter.Int64Counter("pagequota_degraded_reads_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		pagesConsumed:   pagesConsumed,
		incrementDenied: incrementDenied,
		quotaChecks:     quotaChecks,
		reconciliations: reconciliations,
		degradedReads:   degradedReads,
	}, nil
}

// RecordPagesConsumed adds successfully counted pages.
func (m *Metrics) RecordPagesConsumed(ctx context.Context, pages int64) {
	if m == nil || pages <= 0 {
		return
	}
	m.pagesConsumed.Add(ctx, pages)
}

// RecordIncrementDenied counts rejected increments by reason.
func (m *Metrics) RecordIncrementDenied(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.incrementDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQuotaCheck counts quota gate decisions.
func (m *Metrics) RecordQuotaCheck(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.quotaChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconciliation counts reconcile results.
func (m *Metrics) RecordReconciliation(ctx context.Context, outcome, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("source", strings.TrimSpace(source)),
	)
	m.reconciliations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDegradedRead counts answers served from a possibly stale record.
func (m *Metrics) RecordDegradedRead(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.degradedReads.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
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

// user_id is deliberately absent: one series per user would explode cardinality.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"tier":        {},
	"outcome":     {},
	"source":      {},
	"reason":      {},
	"method":      {},
	"route":       {},
	"status_code": {},
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

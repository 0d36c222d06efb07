package observability

import (
	"github.com/smallbiznis/pagequota/internal/observability/logger"
	"github.com/smallbiznis/pagequota/internal/observability/metrics"
	"github.com/smallbiznis/pagequota/internal/observability/tracing"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		provideQuotaMetrics,
		metrics.NewHTTPMetrics,
	),
	fx.Invoke(ensureTracingProvider),
	fx.Invoke(ensureQuotaMetrics),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

// ensureQuotaMetrics builds the quota counters at startup.
func ensureQuotaMetrics(_ *metrics.Metrics) {}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}

// provideQuotaMetrics builds the page, quota check, reconciliation and
// degraded read counters used by the usage service.
func provideQuotaMetrics(cfg metrics.Config, provider metric.MeterProvider, log *zap.Logger) (*metrics.Metrics, error) {
	m, err := metrics.New(cfg, provider)
	if err != nil {
		return nil, err
	}
	log.Named("observability").Debug("quota metrics registered",
		zap.String("meter", cfg.ServiceName),
		zap.Bool("export_enabled", cfg.Enabled),
	)
	return m, nil
}

package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/modelrelay/modelrelay/internal/config"
)

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter *promreg.CounterVec
	httpRequestLatency *promreg.HistogramVec
	relayLatencyHist   *promreg.HistogramVec
	relayTokensCounter *promreg.CounterVec
	failoverCounter    *promreg.CounterVec
	credentialGauge    *promreg.GaugeVec
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("modelrelay"),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{}
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		client := otlptracegrpc.NewClient(opts...)
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(promExporter),
			metric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		provider.meterProvider = mp
		provider.promExporter = promExporter
		provider.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
		provider.shutdownFuncs = append(provider.shutdownFuncs, mp.Shutdown)

		httpRequests := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "modelrelay",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		)
		latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30, 60}
		httpLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: "modelrelay",
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"method", "route", "status"},
		)
		relayLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: "modelrelay",
				Name:      "relay_request_duration_seconds",
				Help:      "Duration of upstream provider requests.",
				Buckets:   latencyBuckets,
			},
			[]string{"model", "source", "status"},
		)
		tokenCounter := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "modelrelay",
				Name:      "relay_tokens_total",
				Help:      "Total prompt/completion tokens processed.",
			},
			[]string{"model", "source", "type"},
		)
		failovers := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "modelrelay",
				Name:      "relay_failovers_total",
				Help:      "Requests redirected to a lower priority source.",
			},
			[]string{"model", "from", "to"},
		)
		credentials := promreg.NewGaugeVec(
			promreg.GaugeOpts{
				Namespace: "modelrelay",
				Name:      "credential_active",
				Help:      "Active credentials per source.",
			},
			[]string{"source"},
		)
		for _, c := range []promreg.Collector{httpRequests, httpLatency, relayLatency, tokenCounter, failovers, credentials} {
			if err := registry.Register(c); err != nil {
				return nil, err
			}
		}
		provider.httpRequestCounter = httpRequests
		provider.httpRequestLatency = httpLatency
		provider.relayLatencyHist = relayLatency
		provider.relayTokensCounter = tokenCounter
		provider.failoverCounter = failovers
		provider.credentialGauge = credentials
	}

	return provider, nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}

	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

func (p *Provider) RecordRelayLatency(model, source string, status int, duration time.Duration) {
	if p == nil || p.relayLatencyHist == nil {
		return
	}
	p.relayLatencyHist.WithLabelValues(model, source, strconv.Itoa(status)).Observe(duration.Seconds())
}

func (p *Provider) RecordTokens(model, source string, promptTokens, completionTokens int64) {
	if p == nil || p.relayTokensCounter == nil {
		return
	}
	if promptTokens > 0 {
		p.relayTokensCounter.WithLabelValues(model, source, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		p.relayTokensCounter.WithLabelValues(model, source, "completion").Add(float64(completionTokens))
	}
}

func (p *Provider) RecordFailover(model, from, to string) {
	if p == nil || p.failoverCounter == nil {
		return
	}
	p.failoverCounter.WithLabelValues(model, from, to).Inc()
}

func (p *Provider) SetActiveCredentials(source string, count int) {
	if p == nil || p.credentialGauge == nil {
		return
	}
	p.credentialGauge.WithLabelValues(source).Set(float64(count))
}

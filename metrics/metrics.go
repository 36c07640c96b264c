package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Config struct {
	PushURL     string `envconfig:"METRICS_PUSH_URL"` // Pushgateway base URL, empty disables pushing
	Job         string `envconfig:"METRICS_JOB" default:"smtpprobe"`
	Instance    string `envconfig:"METRICS_INSTANCE"`
	PushTimeout int    `envconfig:"METRICS_PUSH_TIMEOUT" default:"5"` // seconds
}

// Metrics owns a meter provider backed by its own Prometheus registry.
// A probe run is too short to be scraped, so results are pushed.
type Metrics struct {
	config   Config
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
}

// InitDefault creates Metrics and installs its meter provider globally.
func InitDefault(config Config) (*Metrics, error) {
	m, err := New(config)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(m.provider)

	return m, nil
}

func New(config Config) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	provider, err := InitPrometheus(registry)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init prometheus")
	}

	return &Metrics{
		config:   config,
		registry: registry,
		provider: provider,
	}, nil
}

// MeterProvider returns the provider whose instruments land in the registry.
func (m *Metrics) MeterProvider() metric.MeterProvider {
	return m.provider
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Push sends the current registry to the Pushgateway, replacing the job's group.
// It is a no-op when PushURL is empty.
func (m *Metrics) Push(ctx context.Context) error {
	if m.config.PushURL == "" {
		return nil
	}

	pusher := push.New(m.config.PushURL, m.config.Job).
		Gatherer(m.registry).
		Client(&http.Client{Timeout: time.Duration(m.config.PushTimeout) * time.Second})
	if m.config.Instance != "" {
		pusher = pusher.Grouping("instance", m.config.Instance)
	}

	if err := pusher.PushContext(ctx); err != nil {
		return errors.Wrap(err, "failed to push metrics")
	}

	return nil
}

func (m *Metrics) Close() error {
	return errors.Wrap(m.provider.Shutdown(context.Background()), "failed to close metrics")
}

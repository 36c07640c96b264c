package tracing

import (
	"io"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrDisabled is returned by a builder when tracing is not configured.
var ErrDisabled = errors.New("tracing disabled")

type Provider interface {
	trace.TracerProvider
	io.Closer
}

// ProviderBuilder wraps all realization details of constructor (ex. config struct)
type ProviderBuilder func() (Provider, error)

// Init builds the provider and installs it globally.
// On failure, or when the builder reports ErrDisabled, a NoopProvider is returned
// and the global provider is left untouched.
func Init(creator ProviderBuilder) (Provider, error) {
	provider, err := creator()
	if err != nil {
		if errors.Is(err, ErrDisabled) {
			return &NoopProvider{}, nil
		}
		return &NoopProvider{}, errors.Wrap(err, "failed to load tracing provider")
	}

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return provider, nil
}

type NoopProvider struct{ noop.TracerProvider }

func (NoopProvider) Close() error { return nil }

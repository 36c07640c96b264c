package smtp

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/pure-golang/smtpprobe/mail/smtp"

const (
	statusOK    = "ok"
	statusError = "error"
)

// instruments holds the transaction counter and duration histogram.
type instruments struct {
	total    metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	meter := mp.Meter(instrumentationName)

	total, err := meter.Int64Counter("smtpprobe.transactions",
		metric.WithDescription("SMTP transactions attempted, by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transactions counter")
	}

	duration, err := meter.Float64Histogram("smtpprobe.transaction.duration",
		metric.WithDescription("Time from dial to QUIT"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create duration histogram")
	}

	return &instruments{total: total, duration: duration}, nil
}

func (i *instruments) record(ctx context.Context, host string, err error, elapsed time.Duration) {
	if i == nil {
		return
	}
	status := statusOK
	if err != nil {
		status = statusError
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("smtp.host", host),
	)
	i.total.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// recordError records err on the span, or marks it Ok.
func recordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// Package probe sends one fixed test message to an SMTP server.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pure-golang/smtpprobe/logger"
	"github.com/pure-golang/smtpprobe/mail"
)

var tracer = otel.Tracer("github.com/pure-golang/smtpprobe/probe")

// ErrUsage marks errors in how the probe was invoked.
var ErrUsage = errors.New("usage")

// Target is the server to probe.
type Target struct {
	Host string
	Port int
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Validate checks that the target can be dialed.
func (t Target) Validate() error {
	if t.Host == "" {
		return errors.Wrap(ErrUsage, "host is empty")
	}
	if t.Port < 1 || t.Port > 65535 {
		return errors.Wrapf(ErrUsage, "port %d out of range 1-65535", t.Port)
	}
	return nil
}

// ParseTarget reads HOST and PORT from the first two positional arguments.
// Extra arguments are ignored.
func ParseTarget(args []string) (Target, error) {
	if len(args) < 2 {
		return Target{}, errors.Wrap(ErrUsage, "HOST and PORT are required")
	}

	port, err := strconv.Atoi(args[1])
	if err != nil {
		return Target{}, errors.Wrapf(ErrUsage, "invalid port %q", args[1])
	}

	t := Target{Host: args[0], Port: port}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}

// Usage returns the usage line for program.
func Usage(program string) string {
	return fmt.Sprintf("Usage: %s HOST PORT", program)
}

// Options describe a single probe.
type Options struct {
	Target Target
	From   string
	To     string
	Body   string
}

// DefaultOptions returns the probe addresses and body for target.
func DefaultOptions(target Target) Options {
	return Options{
		Target: target,
		From:   mail.ProbeFrom,
		To:     mail.ProbeTo,
		Body:   mail.ProbeBody,
	}
}

// Run builds the message, sends it once through sender and closes sender.
// The sender must already be bound to opts.Target.
func Run(ctx context.Context, opts Options, sender mail.Sender) (err error) {
	defer func() {
		if cerr := sender.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close sender")
		}
	}()

	if err := opts.Target.Validate(); err != nil {
		return err
	}

	runID := uuid.New()
	ctx, span := tracer.Start(ctx, "probe.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("probe.run_id", runID.String()),
		attribute.String("probe.target", opts.Target.Addr()),
	)

	l := logger.FromContext(ctx).With(
		slog.String("run_id", runID.String()),
		slog.String("target", opts.Target.Addr()),
	)
	ctx = logger.NewContext(ctx, l)

	msg := mail.NewMessage(opts.From, opts.To, opts.Body)
	env := mail.Envelope{From: opts.From, To: []string{opts.To}}

	l.Debug("sending probe", "from", opts.From, "to", opts.To, "size", len(msg))

	if err := sender.Send(ctx, env, msg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "probe %s failed", opts.Target.Addr())
	}
	span.SetStatus(codes.Ok, "")

	l.Info("probe delivered", "from", opts.From, "to", opts.To)

	return nil
}

package smtp

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/smtpprobe/logger"
	"github.com/pure-golang/smtpprobe/mail"
)

var _ mail.Sender = (*Sender)(nil)

// Sender implements mail.Sender using net/smtp.
// Every Send dials a new connection and closes it before returning.
type Sender struct {
	mx         sync.Mutex
	cfg        Config
	closed     bool
	transcript io.Writer
	tracer     trace.Tracer
	inst       *instruments
}

// SenderOptions contains options for creating a Sender.
type SenderOptions struct {
	// Transcript receives the dialogue when Config.Debug > 0. Defaults to os.Stderr.
	Transcript io.Writer
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
	// MeterProvider defaults to the global provider.
	MeterProvider metric.MeterProvider
}

// NewSender creates a new SMTP Sender.
func NewSender(cfg Config, options *SenderOptions) *Sender {
	if options == nil {
		options = &SenderOptions{}
	}
	if options.Transcript == nil {
		options.Transcript = os.Stderr
	}
	if options.TracerProvider == nil {
		options.TracerProvider = otel.GetTracerProvider()
	}
	if options.MeterProvider == nil {
		options.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Helo == "" {
		cfg.Helo = "localhost"
	}

	inst, err := newInstruments(options.MeterProvider)
	if err != nil {
		otel.Handle(err)
	}

	return &Sender{
		cfg:        cfg,
		transcript: options.Transcript,
		tracer:     options.TracerProvider.Tracer(instrumentationName),
		inst:       inst,
	}
}

// Send runs one SMTP transaction: connect, EHLO, MAIL, RCPT, DATA, QUIT.
func (s *Sender) Send(ctx context.Context, env mail.Envelope, msg mail.Message) (err error) {
	ctx, span := s.tracer.Start(ctx, "SMTP.Send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("smtp.host", s.cfg.Host),
		attribute.Int("smtp.port", s.cfg.Port),
		attribute.String("smtp.from", env.From),
		attribute.StringSlice("smtp.to", env.To),
		attribute.Int("smtp.message_size", len(msg)),
		attribute.Int("smtp.debug", s.cfg.Debug),
	)
	defer func() { recordError(span, err) }()

	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return errors.New("sender is closed")
	}
	if len(env.To) == 0 {
		return errors.New("no recipients specified")
	}

	start := time.Now()
	err = s.transact(ctx, env, msg)
	s.inst.record(ctx, s.cfg.Host, err, time.Since(start))

	if err != nil {
		return err
	}

	logger.FromContext(ctx).Debug("smtp transaction completed",
		slog.String("addr", s.cfg.Addr()),
		slog.String("from", env.From),
		slog.Any("to", env.To),
		slog.Duration("elapsed", time.Since(start)),
	)

	return nil
}

func (s *Sender) transact(ctx context.Context, env mail.Envelope, msg mail.Message) error {
	addr := s.cfg.Addr()

	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to SMTP server %s", addr)
	}
	if s.cfg.Debug > 0 {
		conn = newTranscriptConn(conn, s.transcript, s.cfg.Debug)
	}

	// Unblock reads and writes when ctx ends mid-dialogue.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "failed to read greeting")
	}
	defer func() {
		// After QUIT the connection is already closed; the error carries nothing new.
		_ = client.Close()
	}()

	if err := client.Hello(s.cfg.Helo); err != nil {
		return errors.Wrap(err, "failed to send EHLO")
	}

	if err := client.Mail(env.From); err != nil {
		return errors.Wrap(err, "failed to set sender")
	}

	for _, rcpt := range env.To {
		if err := client.Rcpt(rcpt); err != nil {
			return errors.Wrapf(err, "failed to set recipient: %s", rcpt)
		}
	}

	w, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "failed to get data writer")
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "failed to write message")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "failed to finish data")
	}

	if err := client.Quit(); err != nil {
		return errors.Wrap(err, "failed to quit")
	}

	return nil
}

// Close closes the sender. It is safe to call more than once.
func (s *Sender) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.closed = true
	return nil
}

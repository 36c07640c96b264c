// Command smtpprobe connects to an SMTP server and sends one fixed test message.
//
//	smtpprobe [flags] HOST PORT
//	smtpprobe --env [flags]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/pure-golang/smtpprobe/env"
	"github.com/pure-golang/smtpprobe/logger"
	"github.com/pure-golang/smtpprobe/mail"
	"github.com/pure-golang/smtpprobe/mail/smtp"
	"github.com/pure-golang/smtpprobe/metrics"
	"github.com/pure-golang/smtpprobe/probe"
	"github.com/pure-golang/smtpprobe/tracing"
	"github.com/pure-golang/smtpprobe/tracing/jaeger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	program := "smtpprobe"
	if len(args) > 0 {
		program = args[0]
	}

	rest := []string{}
	if len(args) > 1 {
		rest = args[1:]
	}

	cmd := newRootCmd(program, stdout, stderr)
	cmd.SetArgs(rest)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, probe.ErrUsage) {
			_, _ = fmt.Fprintln(stdout, probe.Usage(program))
		}
		return 1
	}
	return 0
}

type flags struct {
	from    string
	to      string
	helo    string
	debug   int
	fromEnv bool
	envFile string
	timeout time.Duration
}

func newRootCmd(program string, stdout, stderr io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           program + " HOST PORT",
		Short:         "Send one test message to an SMTP server",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return probeCmd(cmd, args, f, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.Wrap(probe.ErrUsage, err.Error())
	})

	fs := cmd.Flags()
	fs.StringVar(&f.from, "from", mail.ProbeFrom, "envelope sender and From header")
	fs.StringVar(&f.to, "to", mail.ProbeTo, "envelope recipient and To header")
	fs.StringVar(&f.helo, "helo", "", "name sent with EHLO/HELO (default SMTP_HELO)")
	fs.IntVar(&f.debug, "debug", 1, "debug level: 0 silent, 1 echo the dialogue, 2 with timestamps")
	fs.BoolVar(&f.fromEnv, "env", false, "take HOST and PORT from SMTP_HOST and SMTP_PORT")
	fs.StringVar(&f.envFile, "env-file", "", "env file to load instead of ./.env")
	fs.DurationVar(&f.timeout, "timeout", 0, "abort the whole transaction after this long (0 waits forever)")

	return cmd
}

type config struct {
	smtp    smtp.Config
	log     logger.Config
	metrics metrics.Config
	tracing jaeger.Config
}

func loadConfig(envFile string) (config, error) {
	var c config
	for _, target := range []any{&c.smtp, &c.log, &c.metrics, &c.tracing} {
		if err := env.InitConfigFrom(envFile, target); err != nil {
			return config{}, err
		}
	}
	return c, nil
}

func probeCmd(cmd *cobra.Command, args []string, f flags, stderr io.Writer) (err error) {
	var target probe.Target
	if !f.fromEnv {
		// Checked before anything else so a bad invocation never reaches the network.
		if target, err = probe.ParseTarget(args); err != nil {
			return err
		}
	}

	cfg, err := loadConfig(f.envFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", cmd.Name(), err)
		return err
	}

	if f.fromEnv {
		target = probe.Target{Host: cfg.smtp.Host, Port: cfg.smtp.Port}
		if err := target.Validate(); err != nil {
			return err
		}
	}

	cfg.smtp.Host = target.Host
	cfg.smtp.Port = target.Port
	if f.helo != "" {
		cfg.smtp.Helo = f.helo
	}
	if _, set := os.LookupEnv("SMTP_DEBUG"); !set || cmd.Flags().Changed("debug") {
		cfg.smtp.Debug = f.debug
	}

	l := logger.New(cfg.log, stderr)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		l.Warn("opentelemetry", "error", err.Error())
	}))
	ctx := logger.NewContext(cmd.Context(), l)

	tp, err := tracing.Init(jaeger.NewProviderBuilder(cfg.tracing))
	if err != nil {
		logger.FromContextWithErr(ctx, err).Warn("tracing disabled")
	}
	defer func() {
		logger.FromContextWithErrIf(ctx, tp.Close()).Warn("failed to close tracing")
	}()

	m, err := metrics.New(cfg.metrics)
	if err != nil {
		logger.FromContextWithErr(ctx, err).Error("failed to init metrics")
		return err
	}
	defer func() {
		logger.FromContextWithErrIf(ctx, m.Push(context.WithoutCancel(ctx))).Warn("failed to push metrics")
		logger.FromContextWithErrIf(ctx, m.Close()).Warn("failed to close metrics")
	}()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	sender := smtp.NewSender(cfg.smtp, &smtp.SenderOptions{
		Transcript:     stderr,
		TracerProvider: tp,
		MeterProvider:  m.MeterProvider(),
	})

	opts := probe.DefaultOptions(target)
	opts.From = f.from
	opts.To = f.to

	if err := probe.Run(ctx, opts, sender); err != nil {
		logger.FromContextWithErr(ctx, err).Error("probe failed")
		return err
	}

	return nil
}

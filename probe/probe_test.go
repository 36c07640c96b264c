package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pure-golang/smtpprobe/logger"
	"github.com/pure-golang/smtpprobe/mail"
	"github.com/pure-golang/smtpprobe/mail/noop"
	"github.com/pure-golang/smtpprobe/mail/smtp"
	"github.com/pure-golang/smtpprobe/mail/smtptest"
)

func TestParseTarget(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		want    Target
		wantErr string
	}{
		{name: "host and port", args: []string{"localhost", "2525"}, want: Target{Host: "localhost", Port: 2525}},
		{name: "extra args ignored", args: []string{"mx.example.org", "25", "extra"}, want: Target{Host: "mx.example.org", Port: 25}},
		{name: "ipv6 host", args: []string{"::1", "25"}, want: Target{Host: "::1", Port: 25}},
		{name: "no args", args: nil, wantErr: "HOST and PORT are required"},
		{name: "host only", args: []string{"localhost"}, wantErr: "HOST and PORT are required"},
		{name: "port not a number", args: []string{"localhost", "smtp"}, wantErr: `invalid port "smtp"`},
		{name: "port zero", args: []string{"localhost", "0"}, wantErr: "out of range"},
		{name: "port too big", args: []string{"localhost", "65536"}, wantErr: "out of range"},
		{name: "empty host", args: []string{"", "25"}, wantErr: "host is empty"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTarget(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUsage)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTarget_Addr(t *testing.T) {
	assert.Equal(t, "localhost:25", Target{Host: "localhost", Port: 25}.Addr())
	assert.Equal(t, "[::1]:2525", Target{Host: "::1", Port: 2525}.Addr())
}

func TestUsage(t *testing.T) {
	assert.Equal(t, "Usage: smtpprobe HOST PORT", Usage("smtpprobe"))
}

func TestDefaultOptions(t *testing.T) {
	target := Target{Host: "localhost", Port: 25}
	opts := DefaultOptions(target)

	assert.Equal(t, target, opts.Target)
	assert.Equal(t, "testfrom@example.com", opts.From)
	assert.Equal(t, "testto@example.com", opts.To)
	assert.Equal(t, "test \nmail\n goodbye\n", opts.Body)
}

func TestRun_SendsOnceAndCloses(t *testing.T) {
	sender := noop.NewSender()

	err := Run(context.Background(), DefaultOptions(Target{Host: "localhost", Port: 25}), sender)
	require.NoError(t, err)

	deliveries := sender.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, mail.Envelope{From: mail.ProbeFrom, To: []string{mail.ProbeTo}}, deliveries[0].Envelope)
	assert.Equal(t, mail.NewProbeMessage(), deliveries[0].Message)
	assert.Equal(t, 1, sender.CloseCalls())
}

func TestRun_SendErrorStillCloses(t *testing.T) {
	sender := noop.NewFailingSender(assert.AnError)

	err := Run(context.Background(), DefaultOptions(Target{Host: "localhost", Port: 25}), sender)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "probe localhost:25 failed")
	assert.True(t, sender.Closed())
}

func TestRun_InvalidTargetSendsNothing(t *testing.T) {
	sender := noop.NewSender()

	err := Run(context.Background(), DefaultOptions(Target{Host: "localhost"}), sender)
	require.ErrorIs(t, err, ErrUsage)
	assert.Empty(t, sender.Deliveries())
	assert.True(t, sender.Closed())
}

func TestRun_LogsRunID(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.NewContext(context.Background(), logger.New(logger.Config{Provider: logger.ProviderStdJson, Level: logger.INFO}, &buf))

	require.NoError(t, Run(ctx, DefaultOptions(Target{Host: "localhost", Port: 25}), noop.NewSender()))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "probe delivered", entry["msg"])
	assert.Equal(t, "localhost:25", entry["target"])
	assert.Len(t, entry["run_id"], 36)
}

func TestRun_AgainstSink(t *testing.T) {
	srv := smtptest.NewServer()
	defer srv.Close()

	target := Target{Host: srv.Host(), Port: srv.Port()}
	sender := smtp.NewSender(smtp.Config{Host: target.Host, Port: target.Port}, nil)

	require.NoError(t, Run(context.Background(), DefaultOptions(target), sender))

	txs := srv.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, "testfrom@example.com", txs[0].From)
	assert.Equal(t, []string{"testto@example.com"}, txs[0].To)

	body := strings.Join(txs[0].Lines(), "\n")
	assert.Contains(t, body, "\ntest \nmail\n goodbye")
}

func TestRun_NothingListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	target := Target{Host: "127.0.0.1", Port: port}
	sender := smtp.NewSender(smtp.Config{Host: target.Host, Port: target.Port}, nil)

	err = Run(context.Background(), DefaultOptions(target), sender)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUsage)
	assert.Contains(t, err.Error(), "failed to connect")
}

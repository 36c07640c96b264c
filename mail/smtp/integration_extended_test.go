//go:build integration
// +build integration

package smtp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pure-golang/smtpprobe/mail"
)

// skipShortExtended skips the test in short mode
func skipShortExtended(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping extended integration test in short mode")
	}
}

// startSMTPContainer starts a MailHog container for testing
func startSMTPContainer(t *testing.T) testcontainers.Container {
	skipShortExtended(t)

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mailhog/mailhog:latest",
		ExposedPorts: []string{"1025/tcp", "8025/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Starting SMTP"),
			wait.ForListeningPort("1025/tcp"),
			wait.ForListeningPort("8025/tcp"),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start mailhog container")

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	return container
}

// mappedHostPort returns the host and mapped port for a container port
func mappedHostPort(t *testing.T, container testcontainers.Container, port string) (string, int) {
	ctx := context.Background()
	host, err := container.Host(ctx)
	require.NoError(t, err, "failed to get container host")

	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err, "failed to get container port")

	portNum, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err, "failed to parse port number")

	return host, portNum
}

// waitForSMTP waits for the SMTP server to be ready
func waitForSMTP(t *testing.T, host string, port int) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	deadline := time.Now().Add(30 * time.Second)

	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			conn.Close()
			time.Sleep(500 * time.Millisecond)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Fatalf("SMTP server at %s did not become ready", addr)
}

type mailhogMessages struct {
	Total int `json:"total"`
	Items []struct {
		Raw struct {
			From string   `json:"From"`
			To   []string `json:"To"`
			Data string   `json:"Data"`
		} `json:"Raw"`
	} `json:"items"`
}

func fetchMailhogMessages(t *testing.T, host string, port int) mailhogMessages {
	url := fmt.Sprintf("http://%s/api/v2/messages", net.JoinHostPort(host, strconv.Itoa(port)))
	resp, err := http.Get(url) // #nosec G107 -- test container address
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out mailhogMessages
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSender_Extended_ProbeDelivered(t *testing.T) {
	container := startSMTPContainer(t)
	host, port := mappedHostPort(t, container, "1025")
	apiHost, apiPort := mappedHostPort(t, container, "8025")
	waitForSMTP(t, host, port)

	var transcript bytes.Buffer
	sender := NewSender(Config{Host: host, Port: port, Debug: 1}, &SenderOptions{Transcript: &transcript})
	defer sender.Close()

	env := mail.Envelope{From: mail.ProbeFrom, To: []string{mail.ProbeTo}}
	require.NoError(t, sender.Send(context.Background(), env, mail.NewProbeMessage()))

	msgs := fetchMailhogMessages(t, apiHost, apiPort)
	require.Equal(t, 1, msgs.Total)
	raw := msgs.Items[0].Raw
	assert.Equal(t, mail.ProbeFrom, raw.From)
	assert.Equal(t, []string{mail.ProbeTo}, raw.To)
	assert.Contains(t, raw.Data, "From: testfrom@example.com\r\nTo: testto@example.com\r\n\r\n")
	assert.Contains(t, raw.Data, "test \r\nmail\r\n goodbye")

	assert.Contains(t, transcript.String(), `send: "MAIL FROM:<testfrom@example.com>`)
	assert.Contains(t, transcript.String(), `reply: "250`)
}

func TestSender_Extended_RepeatedProbes(t *testing.T) {
	container := startSMTPContainer(t)
	host, port := mappedHostPort(t, container, "1025")
	apiHost, apiPort := mappedHostPort(t, container, "8025")
	waitForSMTP(t, host, port)

	sender := NewSender(Config{Host: host, Port: port}, nil)
	defer sender.Close()

	env := mail.Envelope{From: mail.ProbeFrom, To: []string{mail.ProbeTo}}
	for i := 0; i < 3; i++ {
		require.NoError(t, sender.Send(context.Background(), env, mail.NewProbeMessage()))
	}

	assert.Equal(t, 3, fetchMailhogMessages(t, apiHost, apiPort).Total)
}

// TestSender_Extended_ContextTimeout tests context timeout
func TestSender_Extended_ContextTimeout(t *testing.T) {
	cfg := Config{
		Host: "192.0.2.1", // TEST-NET-1 - should be unreachable
		Port: 2525,
	}

	sender := NewSender(cfg, nil)
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := sender.Send(ctx, mail.Envelope{From: mail.ProbeFrom, To: []string{mail.ProbeTo}}, mail.NewProbeMessage())
	assert.Error(t, err)
}

// TestSender_Extended_InvalidHost tests invalid host error
func TestSender_Extended_InvalidHost(t *testing.T) {
	cfg := Config{
		Host: "invalid-host-that-does-not-exist.local",
		Port: 2525,
	}

	sender := NewSender(cfg, nil)
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sender.Send(ctx, mail.Envelope{From: mail.ProbeFrom, To: []string{mail.ProbeTo}}, mail.NewProbeMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to SMTP server")
}

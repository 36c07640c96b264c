package mail

import (
	"bytes"
	"context"
	"io"
)

// Addresses and body of the probe message.
const (
	ProbeFrom = "testfrom@example.com"
	ProbeTo   = "testto@example.com"
	ProbeBody = "test \nmail\n goodbye\n"
)

// Sender delivers a single raw message over SMTP.
type Sender interface {
	Send(ctx context.Context, env Envelope, msg Message) error
	io.Closer
}

// Envelope holds the SMTP-level sender and recipients.
// They are sent as MAIL FROM and RCPT TO and may differ from the headers.
type Envelope struct {
	From string
	To   []string
}

// Message is a raw message as it is written after DATA.
type Message []byte

// NewMessage builds the probe message: From and To headers, a blank line, the body.
// Addresses are not validated.
func NewMessage(from, to, body string) Message {
	var b bytes.Buffer
	b.Grow(len(from) + len(to) + len(body) + 16)
	b.WriteString("From: ")
	b.WriteString(from)
	b.WriteString("\r\n")
	b.WriteString("To: ")
	b.WriteString(to)
	b.WriteString("\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return Message(b.Bytes())
}

// NewProbeMessage returns the fixed probe message.
func NewProbeMessage() Message {
	return NewMessage(ProbeFrom, ProbeTo, ProbeBody)
}

// Header returns the header block without the terminating blank line.
func (m Message) Header() []byte {
	if i := bytes.Index(m, []byte("\r\n\r\n")); i >= 0 {
		return m[:i]
	}
	return nil
}

// Body returns everything after the first blank line.
func (m Message) Body() []byte {
	if i := bytes.Index(m, []byte("\r\n\r\n")); i >= 0 {
		return m[i+4:]
	}
	return nil
}

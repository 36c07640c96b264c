package noop

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/pure-golang/smtpprobe/mail"
)

var _ mail.Sender = (*Sender)(nil)

// Delivery is a message accepted by the no-op Sender.
type Delivery struct {
	Envelope mail.Envelope
	Message  mail.Message
}

// Sender is a mail sender for testing. It keeps messages in memory.
type Sender struct {
	mx         sync.Mutex
	deliveries []Delivery
	closed     bool
	closeCalls int
	err        error
}

// NewSender creates a new no-op Sender.
func NewSender() *Sender {
	return &Sender{}
}

// NewFailingSender creates a Sender whose Send always returns err.
func NewFailingSender(err error) *Sender {
	return &Sender{err: err}
}

// Send records the message.
func (n *Sender) Send(_ context.Context, env mail.Envelope, msg mail.Message) error {
	n.mx.Lock()
	defer n.mx.Unlock()

	if n.closed {
		return errors.New("sender is closed")
	}
	if n.err != nil {
		return n.err
	}
	n.deliveries = append(n.deliveries, Delivery{Envelope: env, Message: msg})
	return nil
}

// Deliveries returns a copy of recorded messages.
func (n *Sender) Deliveries() []Delivery {
	n.mx.Lock()
	defer n.mx.Unlock()

	out := make([]Delivery, len(n.deliveries))
	copy(out, n.deliveries)
	return out
}

// Closed reports whether Close was called.
func (n *Sender) Closed() bool {
	n.mx.Lock()
	defer n.mx.Unlock()
	return n.closed
}

// CloseCalls returns how many times Close was called.
func (n *Sender) CloseCalls() int {
	n.mx.Lock()
	defer n.mx.Unlock()
	return n.closeCalls
}

// Close marks the sender closed.
func (n *Sender) Close() error {
	n.mx.Lock()
	defer n.mx.Unlock()
	n.closed = true
	n.closeCalls++
	return nil
}

package smtp

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// transcriptConn echoes the protocol dialogue line by line.
type transcriptConn struct {
	net.Conn

	mx    sync.Mutex
	out   io.Writer
	level int
	now   func() time.Time
	sent  []byte
	recvd []byte
}

func newTranscriptConn(conn net.Conn, out io.Writer, level int) *transcriptConn {
	return &transcriptConn{
		Conn:  conn,
		out:   out,
		level: level,
		now:   time.Now,
	}
}

func (c *transcriptConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.echo("reply", &c.recvd, p[:n])
	}
	return n, err
}

func (c *transcriptConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.echo("send", &c.sent, p[:n])
	}
	return n, err
}

func (c *transcriptConn) Close() error {
	c.mx.Lock()
	c.flush("send", &c.sent)
	c.flush("reply", &c.recvd)
	c.mx.Unlock()

	return c.Conn.Close()
}

// echo prints every complete line of p; the tail waits for the next chunk.
func (c *transcriptConn) echo(dir string, pending *[]byte, p []byte) {
	c.mx.Lock()
	defer c.mx.Unlock()

	*pending = append(*pending, p...)
	for {
		i := bytes.IndexByte(*pending, '\n')
		if i < 0 {
			return
		}
		c.print(dir, (*pending)[:i+1])
		*pending = (*pending)[i+1:]
	}
}

func (c *transcriptConn) flush(dir string, pending *[]byte) {
	if len(*pending) == 0 {
		return
	}
	c.print(dir, *pending)
	*pending = nil
}

func (c *transcriptConn) print(dir string, line []byte) {
	if c.level >= 2 {
		_, _ = fmt.Fprintf(c.out, "%s %s: %q\n", c.now().Format("15:04:05.000000"), dir, line)
		return
	}
	_, _ = fmt.Fprintf(c.out, "%s: %q\n", dir, line)
}

// Package smtptest provides a recording SMTP server for tests.
package smtptest

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
)

// Transaction is a mail transaction completed by a client.
type Transaction struct {
	Helo string
	From string
	To   []string
	Data []byte
}

// Lines returns the data split into lines without line terminators.
func (tx Transaction) Lines() []string {
	s := strings.TrimSuffix(string(tx.Data), "\r\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\r\n")
}

// Option configures a Server.
type Option func(*Server)

// WithDataReply makes the server answer the end of DATA with the given reply.
// Replies other than 2xx reject the message and no transaction is recorded.
func WithDataReply(code int, text string) Option {
	return func(s *Server) {
		s.dataReply = fmt.Sprintf("%d %s", code, text)
		s.dataAccepted = code >= 200 && code < 300
	}
}

// WithRcptReply makes the server answer every RCPT with the given reply.
func WithRcptReply(code int, text string) Option {
	return func(s *Server) {
		s.rcptReply = fmt.Sprintf("%d %s", code, text)
	}
}

// WithHostname sets the name used in the greeting.
func WithHostname(name string) Option {
	return func(s *Server) {
		s.hostname = name
	}
}

// Server is a minimal SMTP server listening on a loopback address.
type Server struct {
	ln net.Listener
	wg sync.WaitGroup

	hostname     string
	rcptReply    string
	dataReply    string
	dataAccepted bool

	mx       sync.Mutex
	txs      []Transaction
	conns    map[net.Conn]struct{}
	accepted int
	commands []string
	closed   bool
}

// NewServer starts a Server on 127.0.0.1 with a random port.
// It panics if it cannot listen, like httptest.NewServer.
func NewServer(opts ...Option) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("smtptest: failed to listen: %v", err))
	}

	s := &Server{
		ln:           ln,
		hostname:     "smtptest",
		rcptReply:    "250 OK",
		dataReply:    "250 OK: queued",
		dataAccepted: true,
		conns:        make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.serve()

	return s
}

// Addr returns the listen address in host:port form.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Host returns the listen host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listen port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Transactions returns a copy of the completed transactions.
func (s *Server) Transactions() []Transaction {
	s.mx.Lock()
	defer s.mx.Unlock()

	out := make([]Transaction, len(s.txs))
	copy(out, s.txs)
	return out
}

// Connections returns how many connections were accepted.
func (s *Server) Connections() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.accepted
}

// Commands returns every command line received, in order.
func (s *Server) Commands() []string {
	s.mx.Lock()
	defer s.mx.Unlock()

	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Close stops the listener, drops open connections and waits for handlers.
func (s *Server) Close() {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return
	}
	s.closed = true
	_ = s.ln.Close()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mx.Unlock()

	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return // listener closed
		}

		s.mx.Lock()
		if s.closed {
			s.mx.Unlock()
			_ = conn.Close()
			return
		}
		s.accepted++
		s.conns[conn] = struct{}{}
		s.mx.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mx.Lock()
				delete(s.conns, conn)
				s.mx.Unlock()
				_ = conn.Close()
			}()
			s.handle(conn)
		}()
	}
}

type session struct {
	helo string
	from string
	to   []string
}

func (s *Server) handle(conn net.Conn) {
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	reply := func(lines ...string) bool {
		for _, l := range lines {
			if _, err := w.WriteString(l + "\r\n"); err != nil {
				return false
			}
		}
		return w.Flush() == nil
	}

	if !reply("220 " + s.hostname + " ESMTP ready") {
		return
	}

	var sess session
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		s.recordCommand(line)

		verb, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(verb) {
		case "EHLO":
			sess = session{helo: arg}
			if !reply("250-"+s.hostname+" greets "+arg, "250 HELP") {
				return
			}
		case "HELO":
			sess = session{helo: arg}
			if !reply("250 " + s.hostname) {
				return
			}
		case "MAIL":
			addr, ok := pathArg(arg, "FROM:")
			if !ok {
				reply("501 Syntax: MAIL FROM:<address>")
				continue
			}
			sess.from = addr
			sess.to = nil
			reply("250 OK")
		case "RCPT":
			addr, ok := pathArg(arg, "TO:")
			if !ok {
				reply("501 Syntax: RCPT TO:<address>")
				continue
			}
			if strings.HasPrefix(s.rcptReply, "2") {
				sess.to = append(sess.to, addr)
			}
			reply(s.rcptReply)
		case "DATA":
			if len(sess.to) == 0 {
				reply("503 Need RCPT before DATA")
				continue
			}
			if !reply("354 End data with <CR><LF>.<CR><LF>") {
				return
			}
			data, err := readData(r)
			if err != nil {
				return
			}
			if s.dataAccepted {
				s.record(Transaction{
					Helo: sess.helo,
					From: sess.from,
					To:   sess.to,
					Data: data,
				})
			}
			sess.from, sess.to = "", nil
			reply(s.dataReply)
		case "RSET":
			sess.from, sess.to = "", nil
			reply("250 OK")
		case "NOOP":
			reply("250 OK")
		case "QUIT":
			reply("221 " + s.hostname + " closing connection")
			return
		default:
			reply("500 Syntax error, command unrecognized")
		}
	}
}

func (s *Server) record(tx Transaction) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.txs = append(s.txs, tx)
}

func (s *Server) recordCommand(line string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.commands = append(s.commands, line)
}

// pathArg extracts the address from "FROM:<addr> PARAMS".
func pathArg(arg, prefix string) (string, bool) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", false
	}
	rest := strings.TrimSpace(arg[len(prefix):])
	if !strings.HasPrefix(rest, "<") {
		return "", false
	}
	end := strings.IndexByte(rest, '>')
	if end < 0 {
		return "", false
	}
	return rest[1:end], true
}

// readData reads a dot-terminated block and undoes dot-stuffing.
func readData(r *bufio.Reader) ([]byte, error) {
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "." {
			return []byte(b.String()), nil
		}
		line = strings.TrimPrefix(line, ".")
		b.WriteString(line)
		b.WriteString("\r\n")
	}
}

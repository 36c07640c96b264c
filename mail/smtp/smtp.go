package smtp

import (
	"net"
	"strconv"
	"time"
)

// Config contains SMTP connection parameters.
type Config struct {
	Host        string        `envconfig:"SMTP_HOST"`                      // mail.example.com
	Port        int           `envconfig:"SMTP_PORT" default:"25"`         // plain SMTP, no STARTTLS
	Helo        string        `envconfig:"SMTP_HELO" default:"localhost"`  // name sent with EHLO/HELO
	Debug       int           `envconfig:"SMTP_DEBUG" default:"0"`         // 1 echoes the dialogue, 2 adds timestamps
	DialTimeout time.Duration `envconfig:"SMTP_DIAL_TIMEOUT" default:"0s"` // 0 leaves the dialer default
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}


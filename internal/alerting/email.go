package alerting

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/jailtonjunior94/streamflow/internal/domain"
)

// EmailChannel delivers alerts over SMTP.
type EmailChannel struct {
	host     string
	port     string
	username string
	password string
	from     string
	to       []string

	// send is swappable for tests.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	// To is a comma-separated recipient list.
	To string
}

// NewEmailChannel creates the SMTP channel. With no host or recipients it
// reports itself unavailable.
func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	var to []string
	for _, addr := range strings.Split(cfg.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}

	return &EmailChannel{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		to:       to,
		send:     smtp.SendMail,
	}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Available() bool {
	return c.host != "" && c.from != "" && len(c.to) > 0
}

// Send delivers the alert as a plain-text message. smtp.SendMail has no
// context support, so the dial runs in a goroutine bounded by ctx.
func (c *EmailChannel) Send(ctx context.Context, alert *domain.Alert) error {
	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}

	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: [%s] %s\r\n\r\n%s\r\n\r\nrule: %s\nalert: %s\nfired at: %s\r\n",
		c.from,
		strings.Join(c.to, ", "),
		strings.ToUpper(string(alert.Level)),
		alert.Title,
		alert.Message,
		alert.RuleID,
		alert.ID,
		alert.FiredAt.Format("2006-01-02 15:04:05 MST"),
	)

	done := make(chan error, 1)
	go func() {
		done <- c.send(net.JoinHostPort(c.host, c.port), auth, c.from, c.to, []byte(msg))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("alerting: email send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alerting: email send: %w", ctx.Err())
	}
}

package enforce

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/xoelrdgz/webtrap/internal/domain"
)

// SMTPConfig carries mail relay settings. The password arrives from the
// secrets store, never from plain configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	StartTLS bool
	From     string
	To       []string
	Timeout  time.Duration
}

// SMTPAlerter emails a human-readable block summary. Port 465 opens an
// implicit-TLS session; any other port dials plain and upgrades via STARTTLS
// when configured.
type SMTPAlerter struct {
	cfg SMTPConfig
}

func NewSMTPAlerter(cfg SMTPConfig) (*SMTPAlerter, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("smtp alerting requires host, from and to addresses")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPAlerter{cfg: cfg}, nil
}

func (a *SMTPAlerter) Name() string { return "smtp" }

func (a *SMTPAlerter) Send(ctx context.Context, ev *domain.BlockEvent) error {
	msg := a.compose(ev)

	done := make(chan error, 1)
	go func() { done <- a.deliver(msg) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *SMTPAlerter) compose(ev *domain.BlockEvent) []byte {
	var reasons strings.Builder
	for _, r := range ev.Reasons {
		reasons.WriteString("  - ")
		reasons.WriteString(r.String())
		reasons.WriteString("\r\n")
	}

	subject := fmt.Sprintf("[Defense Alert] Source blocked: %s", ev.SourceIP)
	body := fmt.Sprintf(
		"Suspicious activity detected and blocked:\r\n\r\n"+
			"IP Address: %s\r\n"+
			"Score: %.3f\r\n"+
			"User Agent: %s\r\n"+
			"Path: %s\r\n"+
			"Timestamp (UTC): %s\r\n\r\n"+
			"Reasons:\r\n%s",
		ev.SourceIP, ev.Score, ev.UserAgent, ev.Path,
		ev.Timestamp.Format(time.RFC3339), reasons.String(),
	)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", a.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(a.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}

func (a *SMTPAlerter) deliver(msg []byte) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)

	var (
		client *smtp.Client
		err    error
	)
	if a.cfg.Port == 465 {
		conn, dialErr := tls.DialWithDialer(&net.Dialer{Timeout: a.cfg.Timeout}, "tcp", addr, &tls.Config{ServerName: a.cfg.Host})
		if dialErr != nil {
			return fmt.Errorf("%w: smtp tls dial: %v", domain.ErrUpstream, dialErr)
		}
		client, err = smtp.NewClient(conn, a.cfg.Host)
	} else {
		conn, dialErr := net.DialTimeout("tcp", addr, a.cfg.Timeout)
		if dialErr != nil {
			return fmt.Errorf("%w: smtp dial: %v", domain.ErrUpstream, dialErr)
		}
		client, err = smtp.NewClient(conn, a.cfg.Host)
		if err == nil && a.cfg.StartTLS {
			err = client.StartTLS(&tls.Config{ServerName: a.cfg.Host})
		}
	}
	if err != nil {
		return fmt.Errorf("%w: smtp session: %v", domain.ErrUpstream, err)
	}
	defer client.Quit()

	if a.cfg.User != "" && a.cfg.Password != "" {
		auth := smtp.PlainAuth("", a.cfg.User, a.cfg.Password, a.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("%w: smtp auth: %v", domain.ErrUpstream, err)
		}
	}

	if err := client.Mail(a.cfg.From); err != nil {
		return fmt.Errorf("%w: smtp mail from: %v", domain.ErrUpstream, err)
	}
	for _, to := range a.cfg.To {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("%w: smtp rcpt %s: %v", domain.ErrUpstream, to, err)
		}
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: smtp data: %v", domain.ErrUpstream, err)
	}
	if _, err := wc.Write(msg); err != nil {
		_ = wc.Close()
		return fmt.Errorf("%w: smtp write: %v", domain.ErrUpstream, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("%w: smtp close: %v", domain.ErrUpstream, err)
	}
	return nil
}

// Package mail delivers operator alert mails over SMTP.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
)

// Config holds SMTP configuration.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
	Enabled  bool   `yaml:"enabled"`
}

// Mailer sends the max-attempts alert for exhausted queue rows.
type Mailer struct {
	cfg     Config
	timeout time.Duration
}

// NewMailer creates a new alert mailer.
func NewMailer(cfg Config, timeout time.Duration) *Mailer {
	return &Mailer{cfg: cfg, timeout: timeout}
}

// Enabled reports whether alert delivery is configured on.
func (m *Mailer) Enabled() bool {
	return m.cfg.Enabled
}

// SendMaxAttemptsAlert sends the single escalation mail for a record that has
// exhausted its retries.
func (m *Mailer) SendMaxAttemptsAlert(ctx context.Context, rec *domain.FailedRecord) error {
	subject := fmt.Sprintf("LibrisImport: max attempts reached for %s", rec.LibrisID)
	body := fmt.Sprintf(
		"Record %s (type: %s) failed %d times and will no longer be processed.\n\nLast error:\n%s\n\nRecord:\n%s\n",
		rec.LibrisID, rec.RecordType, rec.Attempts, rec.Message, rec.Record,
	)
	return m.send(ctx, subject, body)
}

func (m *Mailer) send(ctx context.Context, subject, body string) error {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", m.cfg.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", m.cfg.To))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if m.cfg.UseTLS {
		// The internal relay presents a self-signed certificate.
		tlsConfig := &tls.Config{
			ServerName:         m.cfg.Host,
			InsecureSkipVerify: true,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if m.cfg.User != "" && m.cfg.Password != "" {
		auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, to := range strings.Split(m.cfg.To, ",") {
		if err := client.Rcpt(strings.TrimSpace(to)); err != nil {
			return fmt.Errorf("failed to set recipient: %w", err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := writer.Write([]byte(msg.String())); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	if err := client.Quit(); err != nil {
		// Message already accepted; a failed QUIT is not a delivery failure.
		return nil
	}
	return nil
}

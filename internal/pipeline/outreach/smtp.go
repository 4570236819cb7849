package outreach

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/config"
)

const (
	smtpHost         = "smtp.gmail.com"
	smtpSSLPort      = "465"
	smtpStartTLSPort = "587"
)

// Mailer sends mail through Gmail SMTP: implicit TLS on 465 first, then a
// STARTTLS fallback on 587.
type Mailer struct {
	Address  string
	Password string
	Host     string
	log      *zap.Logger

	// send is swapped out in tests.
	send func(host, port, recipient string, msg []byte, startTLS bool) error
}

// NewMailer builds a mailer with the Gmail endpoints.
func NewMailer(cfg config.Config, logger *zap.Logger) *Mailer {
	m := &Mailer{
		Address:  cfg.GmailAddress,
		Password: cfg.GmailAppPassword,
		Host:     smtpHost,
		log:      logger,
	}
	m.send = m.deliver
	return m
}

// Configured reports whether credentials are present.
func (m *Mailer) Configured() bool {
	return m != nil && m.Address != "" && m.Password != ""
}

func (m *Mailer) deliver(host, port, recipient string, msg []byte, startTLS bool) error {
	addr := host + ":" + port
	auth := smtp.PlainAuth("", m.Address, m.Password, host)

	if startTLS {
		// net/smtp negotiates STARTTLS itself when the server offers it.
		return smtp.SendMail(addr, auth, m.Address, []string{recipient}, msg)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return err
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return err
	}
	if err := client.Mail(m.Address); err != nil {
		return err
	}
	if err := client.Rcpt(recipient); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// buildMessage assembles a multipart MIME message with an HTML body and an
// optional file attachment.
func (m *Mailer) buildMessage(recipient, subject, htmlBody, attachmentPath string) ([]byte, error) {
	const boundary = "agentd-mixed-boundary"

	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", m.Address)
	fmt.Fprintf(&sb, "To: %s\r\n", recipient)
	fmt.Fprintf(&sb, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	sb.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&sb, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&sb, "--%s\r\n", boundary)
	sb.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	sb.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	sb.WriteString(wrapBase64(htmlBody))
	sb.WriteString("\r\n")

	if attachmentPath != "" {
		data, err := os.ReadFile(attachmentPath)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		filename := filepath.Base(attachmentPath)

		fmt.Fprintf(&sb, "--%s\r\n", boundary)
		sb.WriteString("Content-Type: application/octet-stream\r\n")
		sb.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&sb, "Content-Disposition: attachment; filename=%q\r\n\r\n", filename)
		sb.WriteString(wrapBase64(string(data)))
		sb.WriteString("\r\n")
	}

	fmt.Fprintf(&sb, "--%s--\r\n", boundary)
	return []byte(sb.String()), nil
}

func wrapBase64(s string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(s))
	var sb strings.Builder
	for len(encoded) > 76 {
		sb.WriteString(encoded[:76])
		sb.WriteString("\r\n")
		encoded = encoded[76:]
	}
	sb.WriteString(encoded)
	return sb.String()
}

// Send delivers one email, attaching the file at attachmentPath when it is
// non-empty. The SSL path is tried first, then STARTTLS.
func (m *Mailer) Send(recipient, subject, htmlBody, attachmentPath string) error {
	if !m.Configured() {
		return fmt.Errorf("smtp: gmail credentials not configured")
	}
	if recipient == "" {
		return fmt.Errorf("smtp: no recipient")
	}

	msg, err := m.buildMessage(recipient, subject, htmlBody, attachmentPath)
	if err != nil {
		return err
	}

	if err := m.send(m.Host, smtpSSLPort, recipient, msg, false); err != nil {
		m.log.Warn("ssl smtp failed, trying starttls", zap.Error(err))
		if err2 := m.send(m.Host, smtpStartTLSPort, recipient, msg, true); err2 != nil {
			return fmt.Errorf("smtp send failed (ssl: %v, starttls: %w)", err, err2)
		}
		m.log.Info("email sent via starttls fallback", zap.String("to", recipient))
		return nil
	}
	m.log.Info("email sent", zap.String("to", recipient))
	return nil
}

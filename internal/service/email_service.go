package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"neuralnexus/internal/config"
	"neuralnexus/internal/logging"
	"neuralnexus/internal/metrics"
)

const defaultSMTPTimeout = 10 * time.Second

// Notifier отправляет пользователю уведомление
type Notifier interface {
	Notify(ctx context.Context, to, subject, body string) error
}

// EmailService отправка уведомлений через SMTP. При ошибке основного
// сервера письмо повторяется один раз через резервный локальный сервер.
type EmailService struct {
	cfg  config.SMTPConfig
	send func(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailService(cfg config.SMTPConfig) *EmailService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	s := &EmailService{cfg: cfg}
	s.send = s.sendMail
	return s
}

// Notify отправляет письмо. Если SMTP не настроен, письмо только логируется.
func (s *EmailService) Notify(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return nil
	}
	if !s.cfg.IsConfigured() {
		logging.Info().Str("to", to).Str("subject", subject).Msg("[EmailService] SMTP not configured, notification dropped")
		metrics.EmailNotifications.WithLabelValues("none", "dropped").Inc()
		return nil
	}

	msg := buildMessage(s.cfg.From, to, subject, body)
	primary := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	err := s.send(ctx, primary, auth, s.cfg.From, []string{to}, msg)
	if err == nil {
		metrics.EmailNotifications.WithLabelValues("primary", "sent").Inc()
		return nil
	}
	metrics.EmailNotifications.WithLabelValues("primary", "failed").Inc()

	if s.cfg.FallbackHost == "" {
		return fmt.Errorf("failed to send email: %w", err)
	}

	logging.Warn().Err(err).Str("to", to).Msg("[EmailService] Primary SMTP failed, trying fallback")
	fallback := net.JoinHostPort(s.cfg.FallbackHost, strconv.Itoa(s.cfg.FallbackPort))
	if ferr := s.send(ctx, fallback, nil, s.cfg.From, []string{to}, msg); ferr != nil {
		metrics.EmailNotifications.WithLabelValues("fallback", "failed").Inc()
		return fmt.Errorf("failed to send email: %w (fallback: %v)", err, ferr)
	}
	metrics.EmailNotifications.WithLabelValues("fallback", "sent").Inc()
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// sendMail аналог smtp.SendMail с таймаутом на соединение и весь диалог
func (s *EmailService) sendMail(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		conn.Close()
		return err
	}

	host, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(auth); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// Package notify delivers password reset links.
package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Notifier sends a message or reports why it could not.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// ResetMessage builds the email carrying a reset link.
func ResetMessage(to, username, link string, ttl time.Duration) Message {
	body := fmt.Sprintf("Hello %s,\n\n"+
		"A password reset was requested for your account. Open the link below to choose a new password:\n\n"+
		"%s\n\n"+
		"The link expires in %s. If you did not request a reset you can ignore this email.\n",
		username, link, ttl)
	return Message{To: to, Subject: "Password reset", Body: body}
}

// SMTPConfig holds the relay settings for SMTPNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier sends mail through an SMTP relay.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

func (n *SMTPNotifier) Send(_ context.Context, msg Message) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	if err := n.send(addr, auth, n.cfg.From, []string{msg.To}, n.format(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func (n *SMTPNotifier) format(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + n.cfg.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// HTTPNotifier posts messages as JSON to a mail relay API.
type HTTPNotifier struct {
	client   *resty.Client
	endpoint string
	from     string
}

func NewHTTPNotifier(endpoint, apiKey, from string) *HTTPNotifier {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPNotifier{client: client, endpoint: endpoint, from: from}
}

type relayRequest struct {
	From string `json:"from"`
	Message
}

func (n *HTTPNotifier) Send(ctx context.Context, msg Message) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(relayRequest{From: n.from, Message: msg}).
		Post(n.endpoint)
	if err != nil {
		return fmt.Errorf("mail relay: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mail relay: status %d", resp.StatusCode())
	}
	return nil
}

// LogNotifier writes messages to the log instead of sending them. Useful in
// development where no relay is configured.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.Infow("notification (not delivered)", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/aeroride/carpool/pkg/resilience"
)

// smtpTimeout bounds one delivery including its retries.
const smtpTimeout = 30 * time.Second

var notificationTmpl = template.Must(template.New("notification").Parse(notificationEmailTemplate))

// EmailClient delivers transactional mail over SMTP. Deliveries retry
// conservatively since relays drop connections routinely; callers treat a
// final failure as non-fatal.
type EmailClient struct {
	host     string
	port     string
	username string
	password string
	from     string
	fromName string
	retry    resilience.RetryConfig
}

// NewEmailClient creates a new email client
func NewEmailClient(host, port, username, password, fromEmail, fromName string) *EmailClient {
	return &EmailClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     fromEmail,
		fromName: fromName,
		retry:    resilience.ConservativeRetryConfig(),
	}
}

func (e *EmailClient) send(to, subject string, extraHeaders []string, body string) error {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", e.fromName, e.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	for _, h := range extraHeaders {
		msg.WriteString(h)
		msg.WriteString("\r\n")
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	auth := smtp.PlainAuth("", e.username, e.password, e.host)
	addr := e.host + ":" + e.port

	ctx, cancel := context.WithTimeout(context.Background(), smtpTimeout)
	defer cancel()
	_, err := resilience.RetryWithName(ctx, e.retry, func(context.Context) (interface{}, error) {
		return nil, smtp.SendMail(addr, auth, e.from, []string{to}, msg.Bytes())
	}, "smtp.send")
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

const notificationEmailTemplate = `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #1565C0; color: white; padding: 20px; text-align: center; }
        .content { padding: 20px; background-color: #f9f9f9; }
        .footer { padding: 20px; text-align: center; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>{{.Subject}}</h1>
        </div>
        <div class="content">
            <p>Hi {{.RecipientName}},</p>
            <p>{{.Body}}</p>
        </div>
        <div class="footer">
            <p>AeroRide Carpool</p>
        </div>
    </div>
</body>
</html>
`

type emailData struct {
	RecipientName string
	Subject       string
	Body          string
}

// SendNotificationEmail renders the standard notification template and
// delivers it as HTML mail.
func (e *EmailClient) SendNotificationEmail(to, name, subject, body string) error {
	var rendered bytes.Buffer
	if err := notificationTmpl.Execute(&rendered, emailData{RecipientName: name, Subject: subject, Body: body}); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return e.send(to, subject, []string{
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}, rendered.String())
}

// SendOTPEmail delivers a one time verification or reset code.
func (e *EmailClient) SendOTPEmail(to, name, code string, minutes int) error {
	body := fmt.Sprintf("Your verification code is <strong>%s</strong>. It expires in %d minutes.", code, minutes)
	return e.SendNotificationEmail(to, name, "Your verification code", body)
}

package notification

import (
	"context"
	"fmt"

	"github.com/leadbridge/backend/internal/models"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridConfig holds sender settings
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	Sandbox   bool
	// Host overrides the API host, used by tests
	Host string
}

// SendGridNotifier sends plain text email through SendGrid. A request is
// built per message since sendgrid.Client keeps the body on the client.
type SendGridNotifier struct {
	cfg SendGridConfig
}

// NewSendGridNotifier creates a SendGrid notifier
func NewSendGridNotifier(cfg SendGridConfig) *SendGridNotifier {
	return &SendGridNotifier{cfg: cfg}
}

// Notify renders and sends msg
func (n *SendGridNotifier) Notify(ctx context.Context, msg Message) error {
	c, err := render(msg)
	if err != nil {
		return err
	}

	from := mail.NewEmail(n.cfg.FromName, n.cfg.FromEmail)
	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	email := mail.NewV3MailInit(from, c.subject, to, mail.NewContent("text/plain", c.text))
	if n.cfg.Sandbox {
		ms := mail.NewMailSettings()
		ms.SetSandboxMode(mail.NewSetting(true))
		email.SetMailSettings(ms)
	}

	req := sendgrid.GetRequest(n.cfg.APIKey, "/v3/mail/send", n.cfg.Host)
	req.Method = "POST"
	req.Body = mail.GetRequestBody(email)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return models.NewExternalDependencyError("sendgrid", err)
	}
	if resp.StatusCode >= 300 {
		return models.NewExternalDependencyError("sendgrid", fmt.Errorf("status %d: %s", resp.StatusCode, resp.Body))
	}
	return nil
}

// Package notification sends sale and payout emails to providers and affiliates
package notification

import (
	"context"
	"fmt"
	"log"
)

// Templates
const (
	TemplateLeadPurchased = "lead_purchased"
	TemplateLeadRoleSold  = "lead_role_sold"
	TemplatePayoutPaid    = "payout_paid"
)

// Message is one notification to one recipient
type Message struct {
	ToEmail  string            `json:"to_email"`
	ToName   string            `json:"to_name"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
}

// Notifier delivers messages. Callers treat failures as retryable.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

type content struct {
	subject string
	text    string
}

func render(msg Message) (content, error) {
	d := msg.Data
	switch msg.Template {
	case TemplateLeadPurchased:
		return content{
			subject: "Your lead purchase is confirmed",
			text: fmt.Sprintf("Hello %s,\n\nYour purchase of the %s role on lead %s for $%s is confirmed.\nPayment reference: %s\n",
				msg.ToName, d["job_role"], d["lead_id"], d["amount"], d["payment_reference"]),
		}, nil
	case TemplateLeadRoleSold:
		return content{
			subject: "A role on your lead was sold",
			text: fmt.Sprintf("Hello %s,\n\nThe %s role on lead %s was sold. $%s will be included in an upcoming payout.\n",
				msg.ToName, d["job_role"], d["lead_id"], d["affiliate_amount"]),
		}, nil
	case TemplatePayoutPaid:
		return content{
			subject: "Payout sent",
			text: fmt.Sprintf("Hello %s,\n\nWe sent a payout of $%s for lead %s.\nTransfer reference: %s\n",
				msg.ToName, d["amount"], d["lead_id"], d["reference"]),
		}, nil
	default:
		return content{}, fmt.Errorf("unknown notification template %q", msg.Template)
	}
}

// LogNotifier only logs messages. Used when no email provider is configured.
type LogNotifier struct{}

// Notify logs the rendered subject
func (LogNotifier) Notify(ctx context.Context, msg Message) error {
	c, err := render(msg)
	if err != nil {
		return err
	}
	log.Printf("notification template=%s to=%s subject=%q", msg.Template, msg.ToEmail, c.subject)
	return nil
}

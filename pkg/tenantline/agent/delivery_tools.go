// Package agent – delivery_tools.go registers the outbound side-effecting
// tools (send_sms, send_email). Delivery goes to a configured webhook; the
// actual SMS/email transport behind it is an external collaborator. Both
// tools are approval-gated: they never execute without an explicit human
// decision.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var sendSMSSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"to": {"type": "string", "description": "Recipient phone number in E.164 form"},
		"body": {"type": "string", "description": "Message text"}
	},
	"required": ["to", "body"]
}`)

var sendEmailSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"to": {"type": "string", "description": "Recipient email address"},
		"subject": {"type": "string", "description": "Subject line"},
		"body": {"type": "string", "description": "Email body"}
	},
	"required": ["to", "body"]
}`)

// Delivery is an outbound message handed to the delivery webhook.
type Delivery struct {
	Kind    string `json:"kind"` // "sms" or "email"
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// Deliverer hands outbound messages to the external transport.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// WebhookDeliverer POSTs deliveries as JSON to a configured endpoint.
type WebhookDeliverer struct {
	URL    string
	Client *http.Client
}

// NewWebhookDeliverer creates a deliverer for the given webhook URL.
func NewWebhookDeliverer(url string) *WebhookDeliverer {
	return &WebhookDeliverer{
		URL:    url,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Deliver implements Deliverer.
func (w *WebhookDeliverer) Deliver(ctx context.Context, d Delivery) error {
	if w.URL == "" {
		return fmt.Errorf("no outbound webhook configured")
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s to %s: %w", d.Kind, d.To, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("deliver %s to %s: webhook returned %s", d.Kind, d.To, resp.Status)
	}
	return nil
}

// RegisterDeliveryTools registers send_sms and send_email, both gated.
func RegisterDeliveryTools(registry *ToolRegistry, deliverer Deliverer) {
	registry.Register(&Tool{
		Name:             "send_sms",
		Description:      "Send an SMS text message. Requires operator approval before sending.",
		Parameters:       sendSMSSchema,
		RequiresApproval: true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			to, _ := args["to"].(string)
			body, _ := args["body"].(string)
			if to == "" || body == "" {
				return nil, fmt.Errorf("to and body are required")
			}
			if err := deliverer.Deliver(ctx, Delivery{Kind: "sms", To: to, Body: body}); err != nil {
				return nil, err
			}
			return "sms sent to " + to, nil
		},
	})

	registry.Register(&Tool{
		Name:             "send_email",
		Description:      "Send an email. Requires operator approval before sending.",
		Parameters:       sendEmailSchema,
		RequiresApproval: true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			to, _ := args["to"].(string)
			subject, _ := args["subject"].(string)
			body, _ := args["body"].(string)
			if to == "" || body == "" {
				return nil, fmt.Errorf("to and body are required")
			}
			d := Delivery{Kind: "email", To: to, Subject: subject, Body: body}
			if err := deliverer.Deliver(ctx, d); err != nil {
				return nil, err
			}
			return "email sent to " + to, nil
		},
	})
}

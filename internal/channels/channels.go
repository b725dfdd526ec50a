// Package channels defines the outbound messaging boundary used by
// send_message steps. Concrete providers (WhatsApp, SMS) live behind the
// Sender interface; tests use the Fake.
package channels

import (
	"context"
	"time"
)

// Message is one outbound message.
type Message struct {
	Channel string `json:"channel"` // whatsapp, sms
	To      string `json:"to"`
	Body    string `json:"body"`
	// TemplateID selects a pre-approved template where the channel
	// requires one.
	TemplateID string `json:"templateId,omitempty"`
}

// Receipt is the provider's acknowledgement.
type Receipt struct {
	ExternalID  string    `json:"externalId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// Sender delivers messages through a channel provider.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
}

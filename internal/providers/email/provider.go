package email

import (
	"context"
	"errors"
)

//go:generate mockgen -source=provider.go -destination=mocks/mock_provider.go -package=mocks

const (
	TemplateDeliveryAttachments = "delivery_attachments"
	TemplateDeliveryService     = "delivery_service"
)

var ErrNoRecipient = errors.New("email_no_recipient")

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// Message is one outbound email. Template names a file under templates/ without extension.
type Message struct {
	To          []string
	Subject     string
	Template    string
	Data        map[string]any
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipient
	}
	return nil
}

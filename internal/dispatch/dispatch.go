// Package dispatch delivers rendered campaign messages over the configured
// channels: email through an SMTP smarthost, SMS through the gateway HTTP
// API. Push has no configured provider and is rejected upstream.
package dispatch

import (
	"context"

	"github.com/salonkit/campaignd/internal/models"
)

// Message is one fully rendered message ready for delivery.
type Message struct {
	To        models.Recipient
	Subject   string
	Body      string
	HTMLBody  string
	FromName  string
	FromEmail string
	ReplyTo   string
}

// Dispatcher delivers one message. Implementations are per-channel; a
// failed delivery returns an error and affects only that recipient.
type Dispatcher interface {
	Send(ctx context.Context, msg *Message) error
}

// ByChannel routes messages to the dispatcher for their campaign type.
type ByChannel map[models.CampaignType]Dispatcher

package external

import (
	"context"

	"aqiwatch/internal/types"
)

// EmailProvider abstracts the e-mail delivery service (SendGrid or AWS SES).
// Implementations transmit pre-rendered content and perform no retries of
// their own beyond what the transport layer does.
type EmailProvider interface {
	// Send transmits an email with pre-rendered content.
	// Returns the provider's message ID for tracking and correlation.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// Provider names accepted by the EMAIL_PROVIDER setting.
const (
	ProviderSendGrid = "sendgrid"
	ProviderSES      = "ses"
	ProviderStub     = "stub"
)

// Package email delivers hazard alerts by e-mail. Messages are rendered
// client-side from embedded templates and handed to an external
// EmailProvider (SendGrid, SES or the local stub).
package email

import (
	"context"
	"errors"
	"time"

	"aqiwatch/internal/external"
	"aqiwatch/internal/types"
)

// ErrRecipientBlocked indicates the provider refuses the recipient.
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// IsBlocklistError reports whether err means the recipient is suppressed by
// the provider, either via ErrRecipientBlocked or ErrCodeEmailBlocked.
func IsBlocklistError(err error) bool {
	return errors.Is(err, ErrRecipientBlocked) || types.IsCode(err, types.ErrCodeEmailBlocked)
}

// Notifier sends one rendered e-mail per call. It never retries; the caller
// decides what a failure means.
type Notifier struct {
	provider external.EmailProvider
	renderer *Renderer
	from     types.SenderIdentity
	clock    types.Clock
	logger   types.Logger
}

// NotifierConfig holds the dependencies needed to create a Notifier.
type NotifierConfig struct {
	Provider external.EmailProvider
	Renderer *Renderer
	From     types.SenderIdentity
	Clock    types.Clock
	Logger   types.Logger
}

// NewNotifier creates a Notifier. A nil Renderer uses the embedded templates
// with the sender name as the footer signature.
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	r := cfg.Renderer
	if r == nil {
		var err error
		if r, err = NewRenderer(cfg.From.Name, time.UTC); err != nil {
			return nil, err
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Notifier{provider: cfg.Provider, renderer: r, from: cfg.From, clock: clock, logger: logger}, nil
}

// Send renders subject and body and transmits them to recipient.
func (n *Notifier) Send(ctx context.Context, recipient, subject, body string) error {
	dest := RedactEmail(recipient)

	rendered, err := n.renderer.Render(subject, body, n.clock.Now())
	if err != nil {
		n.logger.Error("alert e-mail rendering failed", "dest", dest, "error", err.Error())
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render alert e-mail", err)
	}

	msgID, err := n.provider.Send(ctx, types.SendInput{
		To:          recipient,
		From:        n.from,
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: types.GetCycleID(ctx),
	})
	if err != nil {
		if IsBlocklistError(err) {
			n.logger.Warn("recipient blocked by provider", "dest", dest)
		} else {
			n.logger.Error("alert e-mail delivery failed", "dest", dest, "error", err.Error())
		}
		return err
	}

	n.logger.Info("alert e-mail sent", "dest", dest, "provider_message_id", msgID)
	return nil
}

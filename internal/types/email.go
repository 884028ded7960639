package types

// SendInput is a pre-rendered e-mail handed to an EmailProvider.
type SendInput struct {
	To          string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
}

// SenderIdentity defines the sender for outgoing emails.
type SenderIdentity struct {
	Name    string `envconfig:"FROM_NAME" default:"AQI Watch"`
	Address string `envconfig:"FROM_ADDRESS" validate:"required,email"`
}

package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"aqiwatch/internal/types"
)

// SESAPI defines the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClientConfig holds the configuration for creating an SESClient.
type SESClientConfig struct {
	// ConfigSetName is the SES configuration set name; empty disables it.
	ConfigSetName string
	Logger        *slog.Logger
}

// SESClient implements EmailProvider using AWS SES v2. Credentials come from
// the IAM role of the process.
type SESClient struct {
	api           SESAPI
	configSetName string
	logger        *slog.Logger
}

// NewSESClient creates a new SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, cfg SESClientConfig) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESClientWithAPI creates an SESClient with a pre-configured SESAPI.
func NewSESClientWithAPI(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SESClient{
		api:           api,
		configSetName: cfg.ConfigSetName,
		logger:        logger,
	}
}

// Send transmits the alert with SES simple content.
//
// Error mapping:
//   - MessageRejected → ErrCodeEmailBlocked
//   - TooManyRequestsException → ErrCodeUpstreamRateLimited
//   - SendingPausedException → ErrCodeUpstreamUnavailable
//   - Other → ErrCodeUpstreamEmailProvider
func (s *SESClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	fromAddr := input.From.Address
	if input.From.Name != "" {
		fromAddr = fmt.Sprintf("%s <%s>", input.From.Name, input.From.Address)
	}

	body := &sestypes.Body{}
	if input.BodyHTML != "" {
		body.Html = utf8Content(input.BodyHTML)
	}
	if input.BodyText != "" {
		body.Text = utf8Content(input.BodyText)
	}

	emailInput := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddr),
		Destination:      &sestypes.Destination{ToAddresses: []string{input.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: utf8Content(input.Subject),
				Body:    body,
			},
		},
	}
	if s.configSetName != "" {
		emailInput.ConfigurationSetName = aws.String(s.configSetName)
	}
	if input.ReferenceID != "" {
		emailInput.EmailTags = []sestypes.MessageTag{
			{Name: aws.String("ReferenceID"), Value: aws.String(input.ReferenceID)},
		}
	}

	result, err := s.api.SendEmail(ctx, emailInput)
	if err != nil {
		s.logger.WarnContext(ctx, "ses send failed", "error", err)
		return "", mapSESError(err)
	}
	return aws.ToString(result.MessageId), nil
}

func utf8Content(data string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

// mapSESError translates AWS SES errors into domain AppErrors.
func mapSESError(err error) error {
	var msgRejected *sestypes.MessageRejected
	if errors.As(err, &msgRejected) {
		return types.NewAppError(types.ErrCodeEmailBlocked,
			fmt.Sprintf("SES rejected message: %v", err), err)
	}

	var tooManyReqs *sestypes.TooManyRequestsException
	if errors.As(err, &tooManyReqs) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("SES rate limit exceeded: %v", err), err)
	}

	var sendingPaused *sestypes.SendingPausedException
	if errors.As(err, &sendingPaused) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("SES account sending paused: %v", err), err)
	}

	return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("SES error: %v", err), err)
}

var _ EmailProvider = (*SESClient)(nil)

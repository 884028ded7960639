package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"aqiwatch/internal/types"
)

// sendGridAPIBase is the default SendGrid API base URL.
const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClientConfig holds the configuration for creating a SendGridClient.
type SendGridClientConfig struct {
	APIKey    types.SecretString
	BaseURL   string // Override for testing; defaults to sendGridAPIBase
	UserAgent string
	Logger    *slog.Logger
}

// SendGridClient implements EmailProvider with the SendGrid v3 Mail Send API,
// routed through BaseClient for circuit breaking and error mapping. Alerts
// are sent at most once per evaluation, so the client never retries.
type SendGridClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
	logger  *slog.Logger
}

// NewSendGridClient creates a new SendGridClient. The caller owns the
// httpClient timeout.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig) *SendGridClient {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "AQIWatch/1.0"
	}
	base := NewBaseClient(httpClient, "sendgrid", RetryPolicy{}, userAgent)
	return NewSendGridClientWithBase(base, cfg)
}

// NewSendGridClientWithBase creates a SendGridClient with a pre-configured
// BaseClient.
func NewSendGridClientWithBase(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SendGridClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Send posts the message to /v3/mail/send and returns the X-Message-Id
// header on 202 Accepted.
//
// Error mapping:
//   - 403 Forbidden -> types.ErrCodeEmailBlocked
//   - 429 Too Many Requests -> types.ErrCodeUpstreamRateLimited
//   - 5xx -> types.ErrCodeUpstreamUnavailable
//   - Other 4xx -> types.ErrCodeUpstreamEmailProvider
func (s *SendGridClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	body, err := json.Marshal(buildMailPayload(input))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to marshal SendGrid mail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to create SendGrid mail send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey.Unmask())

	resp, err := s.base.Do(req)
	if err != nil {
		return "", wrapSendGridError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return resp.Header.Get("X-Message-Id"), nil
	}
	return "", s.handleErrorResponse(ctx, resp)
}

type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// buildMailPayload maps a SendInput to the v3 payload. SendGrid requires
// text/plain to precede text/html.
func buildMailPayload(input types.SendInput) sendGridMailPayload {
	payload := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: input.To}}}},
		From:             sendGridAddress{Email: input.From.Address, Name: input.From.Name},
		Subject:          input.Subject,
	}
	if input.BodyText != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/plain", Value: input.BodyText})
	}
	if input.BodyHTML != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/html", Value: input.BodyHTML})
	}
	if input.ReferenceID != "" {
		payload.CustomArgs = map[string]string{"reference_id": input.ReferenceID}
	}
	return payload
}

type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func (s *SendGridClient) handleErrorResponse(ctx context.Context, resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("SendGrid returned status %d and response body was unreadable", resp.StatusCode), readErr)
	}

	msg := string(body)
	var sgErr sendGridErrorResponse
	if json.Unmarshal(body, &sgErr) == nil && len(sgErr.Errors) > 0 {
		msg = sgErr.Errors[0].Message
	}
	s.logger.WarnContext(ctx, "sendgrid rejected message", "status", resp.StatusCode, "message", msg)

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return types.NewAppError(types.ErrCodeEmailBlocked,
			"SendGrid blocked delivery: "+msg, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			"SendGrid rate limit exceeded", nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"SendGrid server error: "+msg, nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("SendGrid error (%d): %s", resp.StatusCode, msg), nil)
	}
}

// wrapSendGridError keeps AppErrors produced by BaseClient and wraps anything
// else as a provider failure.
func wrapSendGridError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("SendGrid request failed: %v", err), err)
}

var _ EmailProvider = (*SendGridClient)(nil)

// Package queue publishes observations to SQS for the forecast worker and
// decodes them on the consuming side.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"aqiwatch/internal/types"
)

// SQSSender is the subset of the SQS client used for publishing.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ SQSSender = (*sqs.Client)(nil)

// ObservationMessage is the body of one queued observation.
type ObservationMessage struct {
	MessageID   string            `json:"message_id"`
	RequestID   string            `json:"request_id,omitempty"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
	Observation types.Observation `json:"observation"`
}

// ObservationPublisher sends observations to a single queue.
type ObservationPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
	clock    types.Clock
}

// NewObservationPublisher returns a publisher for queueURL.
func NewObservationPublisher(client SQSSender, queueURL string, logger *slog.Logger) *ObservationPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObservationPublisher{client: client, queueURL: queueURL, logger: logger, clock: types.RealClock{}}
}

// Publish enqueues obs and returns the message ID. The observation is
// validated first so malformed input never reaches the worker.
func (p *ObservationPublisher) Publish(ctx context.Context, obs types.Observation) (string, error) {
	if err := obs.Validate(); err != nil {
		return "", err
	}
	msg := ObservationMessage{
		MessageID:   uuid.NewString(),
		RequestID:   types.GetRequestID(ctx),
		EnqueuedAt:  p.clock.Now().UTC(),
		Observation: obs.Normalized(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("queue: marshal observation message: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"observed_at": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Observation.Timestamp.Format(time.RFC3339)),
			},
		},
	})
	if err != nil {
		return "", types.NewAppErrorWithDetails(types.ErrCodeUpstreamQueue,
			"failed to enqueue observation", err,
			map[string]any{"queue_url": p.queueURL})
	}

	p.logger.InfoContext(ctx, "observation enqueued",
		"message_id", msg.MessageID,
		"observed_at", msg.Observation.Timestamp,
		"aqi", msg.Observation.AQI)
	return msg.MessageID, nil
}

// DecodeObservationMessage parses a message body produced by Publish.
func DecodeObservationMessage(body string) (ObservationMessage, error) {
	var msg ObservationMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return ObservationMessage{}, types.NewAppError(types.ErrCodeValidationMalformedBody,
			"observation message is not valid JSON", err)
	}
	if msg.Observation.Timestamp.IsZero() {
		return ObservationMessage{}, types.NewAppError(types.ErrCodeValidationInvalidTimestamp,
			"observation message has no timestamp", nil)
	}
	return msg, nil
}

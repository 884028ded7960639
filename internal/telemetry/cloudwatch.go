// Package telemetry publishes operational metrics to AWS CloudWatch.
package telemetry

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"aqiwatch/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics emits forecast, alert and API metrics. Publishing
// failures are logged and never returned to the caller.
//
// Metrics emitted:
//   - ForecastCycle: Dims {Outcome}
//   - ForecastUnavailable: Dims {Outcome} where Outcome is the error code
//   - ForecastMaxAQI: no dims
//   - AlertEvaluation: Dims {Decision}
//   - AlertDispatch / DispatchLatency: Dims {Outcome}
//   - ModelReload: Dims {Outcome}
//   - APILatency: Dims {Endpoint}
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics publishes to types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, logger types.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

// WithNamespace returns a copy that publishes to ns instead; empty keeps
// the current namespace.
func (m *CloudWatchMetrics) WithNamespace(ns string) *CloudWatchMetrics {
	if ns == "" {
		return m
	}
	c := *m
	c.namespace = ns
	return &c
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (m *CloudWatchMetrics) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       unit,
			Dimensions: dims,
		}},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric", "metric", name, "error", err.Error())
	}
}

func (m *CloudWatchMetrics) RecordCycle(ctx context.Context, outcome string) {
	m.put(ctx, types.MetricForecastCycle, 1, cwtypes.StandardUnitCount, dim(types.DimOutcome, outcome))
}

func (m *CloudWatchMetrics) RecordForecastUnavailable(ctx context.Context, reason string) {
	m.put(ctx, types.MetricForecastUnavailable, 1, cwtypes.StandardUnitCount, dim(types.DimOutcome, reason))
}

func (m *CloudWatchMetrics) RecordForecastMax(ctx context.Context, aqi float64) {
	m.put(ctx, types.MetricForecastMaxAQI, aqi, cwtypes.StandardUnitNone)
}

func (m *CloudWatchMetrics) RecordAlertDecision(ctx context.Context, decision string) {
	m.put(ctx, types.MetricAlertEvaluation, 1, cwtypes.StandardUnitCount, dim(types.DimDecision, decision))
}

// RecordDispatch emits both the attempt count and its latency in milliseconds.
func (m *CloudWatchMetrics) RecordDispatch(ctx context.Context, outcome string, latency time.Duration) {
	m.put(ctx, types.MetricAlertDispatch, 1, cwtypes.StandardUnitCount, dim(types.DimOutcome, outcome))
	m.put(ctx, types.MetricDispatchLatency, float64(latency.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimOutcome, outcome))
}

func (m *CloudWatchMetrics) RecordModelReload(ctx context.Context, outcome string) {
	m.put(ctx, types.MetricModelReload, 1, cwtypes.StandardUnitCount, dim(types.DimOutcome, outcome))
}

func (m *CloudWatchMetrics) RecordAPILatency(ctx context.Context, endpoint string, d time.Duration) {
	m.put(ctx, types.MetricAPILatency, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimEndpoint, endpoint))
}

// Nop discards every metric.
type Nop struct{}

func (Nop) RecordCycle(context.Context, string)                     {}
func (Nop) RecordForecastUnavailable(context.Context, string)       {}
func (Nop) RecordForecastMax(context.Context, float64)              {}
func (Nop) RecordAlertDecision(context.Context, string)             {}
func (Nop) RecordDispatch(context.Context, string, time.Duration)   {}
func (Nop) RecordModelReload(context.Context, string)               {}
func (Nop) RecordAPILatency(context.Context, string, time.Duration) {}

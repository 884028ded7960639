package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricForecastCycle       = "ForecastCycle"
	MetricForecastUnavailable = "ForecastUnavailable"
	MetricForecastMaxAQI      = "ForecastMaxAQI"
	MetricAlertEvaluation     = "AlertEvaluation"
	MetricAlertDispatch       = "AlertDispatch"
	MetricDispatchLatency     = "DispatchLatency"
	MetricModelReload         = "ModelReload"
	MetricAPILatency          = "APILatency"

	// Dimension Keys
	DimDecision = "Decision"
	DimOutcome  = "Outcome"
	DimEndpoint = "Endpoint"

	// Metric Namespace
	MetricNamespace = "AQIWatch"
)

// Package handlers contains the HTTP handlers of the AQI Watch API:
//   - GET  /v1/status        current AQI, latest forecast and alert state
//   - POST /v1/observations  ingest one observation and run a forecast cycle
//   - GET  /v1/forecast      latest forecast
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"aqiwatch/internal/alerts"
	"aqiwatch/internal/core"
	"aqiwatch/internal/pipeline"
	"aqiwatch/internal/types"
)

// PipelineService is the part of *pipeline.Pipeline the handler uses.
type PipelineService interface {
	RunForecastCycle(ctx context.Context, obs types.Observation) (pipeline.CycleResult, error)
	GetCurrentStatus() pipeline.Status
	LatestForecast() (*types.ForecastResult, error)
}

// ObservationQueue enqueues observations for asynchronous processing.
type ObservationQueue interface {
	Publish(ctx context.Context, obs types.Observation) (string, error)
}

// ForecastHandler maps HTTP requests onto the forecast pipeline.
type ForecastHandler struct {
	service      PipelineService
	queue        ObservationQueue
	validator    *core.Validator
	logger       *slog.Logger
	cycleTimeout time.Duration
}

// NewForecastHandler wires the handler. queue may be nil, in which case
// asynchronous ingestion is rejected.
func NewForecastHandler(svc PipelineService, queue ObservationQueue, val *core.Validator, logger *slog.Logger, cycleTimeout time.Duration) *ForecastHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if val == nil {
		val = core.NewValidator()
	}
	return &ForecastHandler{
		service:      svc,
		queue:        queue,
		validator:    val,
		logger:       logger,
		cycleTimeout: cycleTimeout,
	}
}

// RegisterRoutes mounts the endpoints on a /v1 router.
func (h *ForecastHandler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.HandleGetStatus)
	r.Post("/observations", h.HandlePostObservation)
	r.Get("/forecast", h.HandleGetForecast)
}

// ObservationRequest is the ingestion payload. AQI may be omitted when PM2.5
// or PM10 readings are present; it is then derived with the US EPA formula.
type ObservationRequest struct {
	Timestamp    time.Time        `json:"timestamp" validate:"required"`
	AQI          *float64         `json:"aqi" validate:"omitempty,gte=0"`
	TemperatureC float64          `json:"temperature_c"`
	HumidityPct  float64          `json:"humidity_pct" validate:"gte=0,lte=100"`
	Pollutants   types.Pollutants `json:"pollutants"`
	Weather      types.Weather    `json:"weather"`
}

// Observation converts the request into a domain observation.
func (req ObservationRequest) Observation() (types.Observation, error) {
	obs := types.Observation{
		Timestamp:    req.Timestamp,
		TemperatureC: req.TemperatureC,
		HumidityPct:  req.HumidityPct,
		Pollutants:   req.Pollutants,
		Weather:      req.Weather,
	}
	switch {
	case req.AQI != nil:
		obs.AQI = *req.AQI
	case req.Pollutants.PM25 != nil || req.Pollutants.PM10 != nil:
		var pm25, pm10 float64
		if req.Pollutants.PM25 != nil {
			pm25 = *req.Pollutants.PM25
		}
		if req.Pollutants.PM10 != nil {
			pm10 = *req.Pollutants.PM10
		}
		obs.AQI = types.USAQI(pm25, pm10)
	default:
		return types.Observation{}, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"aqi is required unless pm2_5 or pm10 is provided", nil,
			map[string]any{"fields": map[string]any{"aqi": "required"}})
	}
	return obs, nil
}

// CycleResponse is the synchronous ingestion result.
type CycleResponse struct {
	CycleID           string                `json:"cycle_id"`
	Observation       types.Observation     `json:"observation"`
	Category          types.AQICategory     `json:"category"`
	Forecast          *types.ForecastResult `json:"forecast,omitempty"`
	ForecastAvailable bool                  `json:"forecast_available"`
	ForecastReason    string                `json:"forecast_unavailable_reason,omitempty"`
	Alert             AlertResponse         `json:"alert"`
}

// AlertResponse is the alert part of CycleResponse.
type AlertResponse struct {
	Decision alerts.Decision  `json:"decision"`
	Hazard   bool             `json:"hazard"`
	Trigger  *alerts.Trigger  `json:"trigger,omitempty"`
	State    types.AlertState `json:"state"`
	Error    string           `json:"error,omitempty"`
}

// EnqueuedResponse is returned for ?async=true.
type EnqueuedResponse struct {
	MessageID string `json:"message_id"`
}

// HandlePostObservation handles POST /v1/observations. With ?async=true the
// observation is queued and 202 is returned; otherwise a forecast cycle runs
// inline. A degraded forecast still yields 200 with forecast_available=false.
func (h *ForecastHandler) HandlePostObservation(w http.ResponseWriter, r *http.Request) {
	async := false
	if v := r.URL.Query().Get("async"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMalformedBody,
				"async must be a boolean", err))
			return
		}
		async = b
	}

	var req ObservationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	obs, err := req.Observation()
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if async {
		if h.queue == nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeUpstreamQueue,
				"asynchronous ingestion is not configured", nil))
			return
		}
		id, err := h.queue.Publish(r.Context(), obs)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: EnqueuedResponse{MessageID: id}})
		return
	}

	ctx := r.Context()
	if h.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cycleTimeout)
		defer cancel()
	}
	res, err := h.service.RunForecastCycle(ctx, obs)
	if err != nil {
		h.logger.ErrorContext(ctx, "forecast cycle failed",
			"cycle_id", res.CycleID,
			"request_id", types.GetRequestID(ctx),
			"error", err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: newCycleResponse(res)})
}

func newCycleResponse(res pipeline.CycleResult) CycleResponse {
	out := CycleResponse{
		CycleID:           res.CycleID,
		Observation:       res.Observation,
		Category:          types.CategoryFor(res.Observation.AQI),
		Forecast:          res.Forecast,
		ForecastAvailable: res.ForecastAvailable,
		Alert: AlertResponse{
			Decision: res.Alert.Decision,
			Hazard:   res.Alert.Hazard,
			Trigger:  res.Alert.Trigger,
			State:    res.Alert.State,
		},
	}
	if res.ForecastError != nil {
		out.ForecastReason = string(types.CodeOf(res.ForecastError))
		if out.ForecastReason == "" {
			out.ForecastReason = string(types.ErrCodeInternalUnexpected)
		}
	}
	if res.Alert.Err != nil {
		out.Alert.Error = string(types.CodeOf(res.Alert.Err))
	}
	return out
}

// HandleGetStatus handles GET /v1/status.
func (h *ForecastHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.service.GetCurrentStatus()})
}

// HandleGetForecast handles GET /v1/forecast. It answers 404 with the
// reason when the latest cycle produced no forecast.
func (h *ForecastHandler) HandleGetForecast(w http.ResponseWriter, r *http.Request) {
	fc, err := h.service.LatestForecast()
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: fc})
}

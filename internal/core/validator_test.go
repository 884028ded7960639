package core

import (
	"testing"

	"aqiwatch/internal/types"
)

type sampleRequest struct {
	AQI      *float64 `json:"aqi" validate:"omitempty,gte=0"`
	Humidity float64  `json:"humidity_pct" validate:"gte=0,lte=100"`
	Station  string   `json:"station" validate:"required"`
}

func TestValidateStruct(t *testing.T) {
	v := NewValidator()
	neg := -1.0

	if err := v.ValidateStruct(sampleRequest{Humidity: 50, Station: "lhr-01"}); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	err := v.ValidateStruct(sampleRequest{AQI: &neg, Humidity: 120, Station: "lhr-01"})
	appErr, ok := err.(*types.AppError)
	if !ok {
		t.Fatalf("ValidateStruct() error = %T, want *types.AppError", err)
	}
	if appErr.Code != types.ErrCodeValidationInvalidObservation {
		t.Errorf("code = %s", appErr.Code)
	}
	fields := appErr.Details["fields"].(map[string]any)
	if fields["aqi"] != "gte=0" || fields["humidity_pct"] != "lte=100" {
		t.Errorf("fields = %v", fields)
	}

	err = v.ValidateStruct(sampleRequest{Humidity: 10})
	if !types.IsCode(err, types.ErrCodeValidationMissingField) {
		t.Errorf("missing station: code = %s, want missing field", types.CodeOf(err))
	}
}

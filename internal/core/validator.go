package core

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"aqiwatch/internal/types"
)

// Validator wraps go-playground/validator and reports failures as
// validation AppErrors keyed by JSON field name.
type Validator struct {
	v *validator.Validate
}

// NewValidator registers JSON tag names so errors reference request fields.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{v: v}
}

// ValidateStruct returns nil or a validation_invalid_observation error whose
// details map each failing field to the rule it broke.
func (val *Validator) ValidateStruct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidObservation, "request could not be validated", err)
	}
	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fieldPath(fe.Namespace())] = rule
	}
	code := types.ErrCodeValidationInvalidObservation
	if verrs[0].Tag() == "required" {
		code = types.ErrCodeValidationMissingField
	}
	return types.NewAppErrorWithDetails(code, "request failed validation", err, map[string]any{"fields": fields})
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

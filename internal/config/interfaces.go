package config

import "context"

// SecretProvider resolves secret values by key. SSMProvider serves deployed
// environments and EnvVarProvider serves local runs.
type SecretProvider interface {
	// GetParametersBatch returns the values it could resolve, keyed by the
	// requested key. Missing keys are omitted rather than reported as errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError wraps a loading failure with its category.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: DATABASE_URL_SSM_PARAM holds the
// SSM path whose value becomes DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

// ssmTimeout bounds the whole secret resolution step.
const ssmTimeout = 30 * time.Second

// env abstracts the process environment so tests do not depend on global state.
type env struct {
	lookup  func(key string) (string, bool)
	set     func(key, value string) error
	environ func() []string
}

func osEnv() env {
	return env{lookup: os.LookupEnv, set: os.Setenv, environ: os.Environ}
}

// Load reads .env, resolves SSM pointers outside local environments, then
// populates and validates a Config. provider may be nil when APP_ENV=local.
func Load(provider SecretProvider) (*Config, error) {
	return load(provider, osEnv(), ".env")
}

func load(provider SecretProvider, e env, dotenvPaths ...string) (*Config, error) {
	time.Local = time.UTC

	// godotenv never overrides variables that are already set.
	for _, p := range dotenvPaths {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				return nil, &ConfigError{Type: ErrParsing, Message: "failed to read " + p, Err: err}
			}
		}
	}

	if appEnv, _ := e.lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, e); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	return &cfg, nil
}

// ResolveSecrets runs only the SSM step. Lambda entry points call it before
// Load when they need secrets injected early.
func ResolveSecrets(provider SecretProvider) error {
	e := osEnv()
	if appEnv, _ := e.lookup("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, e)
}

// resolveSSMParams fetches every *_SSM_PARAM path whose target variable is
// not already set and exports the values. Explicit variables win over SSM.
func resolveSSMParams(provider SecretProvider, e env) error {
	targets := make(map[string]string) // ssm path -> env var
	for _, entry := range e.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := e.lookup(target); set {
			continue
		}
		targets[path] = target
	}
	if len(targets) == 0 {
		return nil
	}

	paths := make([]string, 0, len(targets))
	for p := range targets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if provider == nil {
		names := make([]string, 0, len(paths))
		for _, p := range paths {
			names = append(names, targets[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "a secret provider is required outside local environments (need: " + strings.Join(names, ", ") + ")",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		v, ok := resolved[p]
		if !ok {
			missing = append(missing, targets[p])
			continue
		}
		if err := e.set(targets[p], v); err != nil {
			return &ConfigError{Type: ErrSSMResolution, Message: "failed to export " + targets[p], Err: err}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for: " + strings.Join(missing, ", "),
		}
	}
	return nil
}

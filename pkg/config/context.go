package config

import "context"

// ContextKey is an alias used for storing values in context
type ContextKey string

const configCtxKey ContextKey = "strata_config"

// ContextWithConfig stores cfg in ctx.
func ContextWithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configCtxKey, cfg)
}

// FromContext returns the configuration stored in ctx, or the defaults.
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if cfg, ok := ctx.Value(configCtxKey).(*Config); ok && cfg != nil {
			return cfg
		}
	}
	return Default()
}

const serviceCtxKey ContextKey = "strata_config_service"

// ContextWithService stores the service that loaded the configuration, so
// commands can report where values came from.
func ContextWithService(ctx context.Context, svc Service) context.Context {
	return context.WithValue(ctx, serviceCtxKey, svc)
}

// ServiceFromContext returns the stored service, if any.
func ServiceFromContext(ctx context.Context) (Service, bool) {
	if ctx == nil {
		return nil, false
	}
	svc, ok := ctx.Value(serviceCtxKey).(Service)
	return svc, ok && svc != nil
}

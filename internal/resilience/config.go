package resilience

import (
	"time"

	"go.uber.org/zap"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// RetrySettings is the config file form of a retry policy. Values that are
// not positive keep the default.
type RetrySettings struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// Policy returns the retry policy the settings describe.
func (s RetrySettings) Policy() RetryConfig {
	cfg := DefaultRetryConfig()
	if s.MaxAttempts > 0 {
		cfg.MaxAttempts = s.MaxAttempts
	}
	if s.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(s.InitialBackoffMs) * time.Millisecond
	}
	if s.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(s.MaxBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return cfg
}

// BreakerSettings is the config file form of the per-source circuit
// breaker.
type BreakerSettings struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Config returns the breaker configuration the settings describe. State
// changes are logged on the global logger.
func (s BreakerSettings) Config() CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if s.FailureThreshold > 0 {
		cfg.FailureThreshold = s.FailureThreshold
	}
	if s.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(s.ResetTimeoutSecs) * time.Second
	}
	cfg.OnStateChange = logStateChange
	return cfg
}

func logStateChange(source model.SourceType, from, to CircuitState) {
	log := zap.L().With(
		zap.String("source", string(source)),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if to == CircuitOpen {
		log.Warn("resilience: source breaker opened, skipping source")
		return
	}
	log.Info("resilience: source breaker state change")
}

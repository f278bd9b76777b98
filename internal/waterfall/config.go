package waterfall

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/source"
)

// Config is the top-level waterfall configuration.
type Config struct {
	Defaults DefaultConfig              `yaml:"defaults"`
	Tiers    map[string]TierConfig      `yaml:"tiers"`
	Sources  map[string]source.Override `yaml:"sources"`
}

// DefaultConfig holds global defaults.
type DefaultConfig struct {
	// ConfidenceThreshold is the score every required field must reach
	// before a subject stops escalating.
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	RequiredFields      []string `yaml:"required_fields"`

	// CallTimeout bounds one adapter call, fallback chain included.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// TierConfig toggles a scheduling tier.
type TierConfig struct {
	Disabled bool `yaml:"disabled"`
}

// Defaults used when the file leaves a value unset.
const (
	DefaultThreshold   = 0.8
	DefaultCallTimeout = 3 * time.Minute
)

// DefaultConfigValues returns the configuration used without a file.
func DefaultConfigValues() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads waterfall config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "waterfall: read config %s", path)
	}

	// The YAML has a top-level "waterfall" key
	var wrapper struct {
		Waterfall Config `yaml:"waterfall"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "waterfall: parse config")
	}

	cfg := &wrapper.Waterfall
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Defaults.ConfidenceThreshold == 0 {
		c.Defaults.ConfidenceThreshold = DefaultThreshold
	}
	if len(c.Defaults.RequiredFields) == 0 {
		c.Defaults.RequiredFields = []string{string(model.FieldCause)}
	}
	if c.Defaults.CallTimeout <= 0 {
		c.Defaults.CallTimeout = DefaultCallTimeout
	}
}

// Validate rejects thresholds outside (0,1], unknown fields and unknown
// tiers.
func (c *Config) Validate() error {
	if c.Defaults.ConfidenceThreshold <= 0 || c.Defaults.ConfidenceThreshold > 1 {
		return eris.Errorf("waterfall: confidence_threshold %v outside (0,1]", c.Defaults.ConfidenceThreshold)
	}
	for _, f := range c.Defaults.RequiredFields {
		if !model.ValidField(model.Field(f)) {
			return eris.Errorf("waterfall: unknown required field %q", f)
		}
	}
	for name := range c.Tiers {
		if _, ok := model.ParseTier(name); !ok {
			return eris.Errorf("waterfall: unknown tier %q", name)
		}
	}
	return nil
}

// Required returns the required fields.
func (c *Config) Required() []model.Field {
	out := make([]model.Field, 0, len(c.Defaults.RequiredFields))
	for _, f := range c.Defaults.RequiredFields {
		out = append(out, model.Field(f))
	}
	return out
}

// TierEnabled reports whether the file leaves a tier switched on.
func (c *Config) TierEnabled(t model.Tier) bool {
	return !c.Tiers[t.String()].Disabled
}

// EnabledTiers intersects the file's tiers with the allowed set, keeping
// escalation order. A nil allowed set allows every tier. The result is
// never nil.
func (c *Config) EnabledTiers(allowed map[model.Tier]bool) []model.Tier {
	out := []model.Tier{}
	for _, t := range model.Tiers {
		if !c.TierEnabled(t) {
			continue
		}
		if allowed != nil && !allowed[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

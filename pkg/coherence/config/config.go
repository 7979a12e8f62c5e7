// Package config declares the file-loadable configuration for the
// coordination layer: batch window, retry defaults, dependency edges,
// and warming strategies.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Duration accepts either a Go duration string ("150ms", "2m") or a
// bare number interpreted as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		parsed, err := time.ParseDuration(s[1 : len(s)-1])
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds float64
	if _, err := fmt.Sscanf(s, "%g", &seconds); err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

func parseDuration(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case string:
		return time.ParseDuration(v)
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration %v", raw)
}

// EdgeConfig declares one dependency rule.
type EdgeConfig struct {
	Source   string   `yaml:"source" json:"source"`
	Targets  []string `yaml:"targets" json:"targets"`
	Strategy string   `yaml:"strategy" json:"strategy"`
	Weight   int      `yaml:"weight" json:"weight"`
}

// WarmingConfig declares one warming strategy. Keys use "category" or
// "category:id" notation.
type WarmingConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Priority int      `yaml:"priority" json:"priority"`
	Triggers []string `yaml:"triggers" json:"triggers"`
	Keys     []string `yaml:"keys" json:"keys"`
	Cooldown Duration `yaml:"cooldown" json:"cooldown"`
	Interval Duration `yaml:"interval" json:"interval"`
}

// RetryConfig declares the default retry policy.
type RetryConfig struct {
	MaxRetries    int      `yaml:"max_retries" json:"max_retries"`
	BaseDelay     Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay      Duration `yaml:"max_delay" json:"max_delay"`
	BackoffFactor float64  `yaml:"backoff_factor" json:"backoff_factor"`
	Jitter        float64  `yaml:"jitter" json:"jitter"`
}

// Config is the full coordination-layer configuration.
type Config struct {
	BatchWindow     Duration        `yaml:"batch_window" json:"batch_window"`
	CleanupInterval Duration        `yaml:"cleanup_interval" json:"cleanup_interval"`
	DedupeTTL       Duration        `yaml:"dedupe_ttl" json:"dedupe_ttl"`
	Retry           RetryConfig     `yaml:"retry" json:"retry"`
	Edges           []EdgeConfig    `yaml:"edges" json:"edges"`
	Warming         []WarmingConfig `yaml:"warming" json:"warming"`
}

// Default returns the baseline configuration: a 100ms batch window and
// the standard retry policy, with no edges or warming strategies.
func Default() Config {
	return Config{
		BatchWindow:     Duration(100 * time.Millisecond),
		CleanupInterval: Duration(5 * time.Minute),
		Retry: RetryConfig{
			MaxRetries:    3,
			BaseDelay:     Duration(100 * time.Millisecond),
			MaxDelay:      Duration(5 * time.Second),
			BackoffFactor: 2.0,
			Jitter:        0.1,
		},
	}
}

// Validate checks the configuration for structural errors. Edge cycle
// detection happens at graph registration.
func (c *Config) Validate() error {
	if c.BatchWindow < 0 {
		return errors.New("batch_window must not be negative")
	}
	for i, edge := range c.Edges {
		if edge.Source == "" {
			return fmt.Errorf("edge %d: source is required", i)
		}
		if len(edge.Targets) == 0 {
			return fmt.Errorf("edge %d (%s): at least one target is required", i, edge.Source)
		}
		switch edge.Strategy {
		case "invalidate", "refresh", "optimistic":
		default:
			return fmt.Errorf("edge %d (%s): unknown strategy %q", i, edge.Source, edge.Strategy)
		}
	}
	for i, w := range c.Warming {
		if w.Name == "" {
			return fmt.Errorf("warming %d: name is required", i)
		}
		if len(w.Triggers) == 0 && w.Interval <= 0 {
			return fmt.Errorf("warming %d (%s): needs triggers or an interval", i, w.Name)
		}
		if len(w.Keys) == 0 {
			return fmt.Errorf("warming %d (%s): at least one key is required", i, w.Name)
		}
	}
	return nil
}

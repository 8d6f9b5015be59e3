package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "1.5s" style strings or plain seconds.
type Duration struct {
	time.Duration
}

// DurationFrom creates a Duration from a standard time.Duration.
func DurationFrom(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML emits the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// UnmarshalYAML accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	switch node.Tag {
	case "!!int", "!!float":
		secs, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, node.Value, err)
		}
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	default:
		return d.UnmarshalText([]byte(node.Value))
	}
}

// IsZero reports whether the duration is zero.
func (d Duration) IsZero() bool {
	return d.Duration == 0
}

// DelayRange is the uniform interval the politeness delay is drawn from.
type DelayRange struct {
	Min Duration `yaml:"min"`
	Max Duration `yaml:"max"`
}

// Validate rejects negative or inverted ranges.
func (r DelayRange) Validate() error {
	if r.Min.Duration < 0 || r.Max.Duration < 0 {
		return errors.New("delay bounds must be >= 0")
	}
	if r.Max.Duration < r.Min.Duration {
		return fmt.Errorf("max %s is below min %s", r.Max.Duration, r.Min.Duration)
	}
	return nil
}

package transform

import (
	"fmt"
	"sync/atomic"

	"datalineage/internal/common"
)

// State is the lifecycle stage of a Config.
type State int

const (
	StateEmpty State = iota
	StateBuilding
	StateValidated
	StateApplied
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateValidated:
		return "validated"
	case StateApplied:
		return "applied"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config is an ordered, append-only log of steps. Every change returns a new
// Config; a Config value is never modified after construction, so it can be
// shared between concurrent preview and validate calls.
//
// A validated config is consumed by the first Apply. The flag is shared by
// the validated value and the applied one derived from it.
type Config struct {
	steps    []Step
	state    State
	dataLoss float64
	consumed *atomic.Bool
}

// NewConfig returns a config holding steps, in Building state unless empty.
func NewConfig(steps ...Step) *Config {
	c := &Config{steps: append([]Step(nil), steps...)}
	if len(c.steps) > 0 {
		c.state = StateBuilding
	}
	return c
}

// AddStep returns a new config with s appended. Validated configs fall back
// to Building; Applied configs cannot change.
func (c *Config) AddStep(s Step) (*Config, error) {
	if c.state == StateApplied {
		return nil, fmt.Errorf("add step to %s config: %w", c.state, common.ErrInvalidState)
	}
	steps := make([]Step, len(c.steps), len(c.steps)+1)
	copy(steps, c.steps)
	return &Config{steps: append(steps, s), state: StateBuilding}, nil
}

// Clear returns an empty config.
func (c *Config) Clear() (*Config, error) {
	if c.state == StateApplied {
		return nil, fmt.Errorf("clear %s config: %w", c.state, common.ErrInvalidState)
	}
	return &Config{}, nil
}

// Steps returns a copy of the step log.
func (c *Config) Steps() []Step {
	return append([]Step(nil), c.steps...)
}

func (c *Config) State() State { return c.state }

func (c *Config) IsApplied() bool { return c.state == StateApplied }

// IsValid reports whether the config passed validation.
func (c *Config) IsValid() bool { return c.state == StateValidated || c.state == StateApplied }

func (c *Config) TotalTransformations() int { return len(c.steps) }

// DataLossPercentage is the cumulative loss recorded when the config was
// applied, or 0 before that.
func (c *Config) DataLossPercentage() float64 { return c.dataLoss }

func (c *Config) with(state State, dataLoss float64) *Config {
	consumed := c.consumed
	if state == StateValidated {
		consumed = new(atomic.Bool)
	}
	return &Config{steps: c.steps, state: state, dataLoss: dataLoss, consumed: consumed}
}

// consume marks a validated config as applied. It reports false when the
// config was applied before.
func (c *Config) consume() bool {
	return c.consumed != nil && c.consumed.CompareAndSwap(false, true)
}

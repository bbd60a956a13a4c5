package logic

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every *ConfigError.
	ErrInvalidConfig = errors.New("invalid event configuration")

	// ErrUnknownEvent is returned for ids not present in the schedule.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrDuplicateEvent is returned when adding an id twice.
	ErrDuplicateEvent = errors.New("duplicate event")
)

// ConfigError reports a rejected configuration value.
type ConfigError struct {
	Field string
	Value any
	Limit string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s=%v: must be %s", e.Field, e.Value, e.Limit)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

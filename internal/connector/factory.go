package connector

import (
	"github.com/rs/zerolog"
	"github.com/warpstreamlabs/cdcengine/internal/event"
)

// ValidationError collects one or more field-level validation failures
// found by a Factory's Validate, without performing any side effects.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	if len(v.Errors) == 0 {
		return "invalid configuration"
	}
	s := v.Errors[0]
	for _, e := range v.Errors[1:] {
		s += "; " + e
	}
	return s
}

// Factory validates a free-form configuration document and produces a live
// Connector. Factories must not perform network I/O from Validate or
// Create; any dialing happens lazily on Connector.Start/Test.
type Factory interface {
	// Kind returns the stable registry key, e.g. "nats", "kafka".
	Kind() string

	// Validate performs a static check of the config document without side
	// effects, returning a *ValidationError on failure.
	Validate(cfg event.RawConfig) error

	// Create constructs a Connector instance from a validated config
	// document. May fail with a config-shaped error; must not dial out.
	Create(cfg event.RawConfig, log zerolog.Logger) (Connector, error)
}

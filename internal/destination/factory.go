package destination

import (
	"github.com/rs/zerolog"
	"github.com/warpstreamlabs/cdcengine/internal/event"
)

// Factory validates a free-form configuration document and produces a live
// Destination. Mirrors connector.Factory; see that package for the
// no-side-effects contract on Validate/Create.
type Factory interface {
	Kind() string
	Validate(cfg event.RawConfig) error
	Create(cfg event.RawConfig, log zerolog.Logger) (Destination, error)
}

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

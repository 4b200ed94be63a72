package event

import (
	"time"

	"github.com/warpstreamlabs/cdcengine/internal/errs"
)

// RawConfig is an opaque, self-describing configuration document validated
// and interpreted by the owning plugin factory. The adapter layer never
// inspects its contents.
type RawConfig map[string]any

// ConnectorSpec names a configured instance of a connector kind.
type ConnectorSpec struct {
	Name        string    `yaml:"name" json:"name"`
	Kind        string    `yaml:"kind" json:"kind"`
	Config      RawConfig `yaml:"config" json:"config"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at"`
}

// DestinationSpec names a configured instance of a destination kind.
type DestinationSpec struct {
	Name        string    `yaml:"name" json:"name"`
	Kind        string    `yaml:"kind" json:"kind"`
	Config      RawConfig `yaml:"config" json:"config"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at"`
}

// DefaultBatchSize is used when a FlowSpec omits batch_size.
const DefaultBatchSize = 100

// DefaultMaxLinger is the default time-based flush deadline for a flow's
// batcher. Zero disables time-based flushing.
const DefaultMaxLinger = 500 * time.Millisecond

// FlowSpec binds one connector to an ordered, non-empty set of destinations
// under a batching policy.
//
// MaxLinger is a pointer so Normalize can tell "omitted from the request"
// apart from an explicit max_linger: 0, which disables time-based flushing
// and makes the batcher wait on batch_size alone.
type FlowSpec struct {
	Name             string         `yaml:"name" json:"name"`
	ConnectorName    string         `yaml:"connector_name" json:"connector_name"`
	DestinationNames []string       `yaml:"destination_names" json:"destination_names"`
	BatchSize        int            `yaml:"batch_size" json:"batch_size"`
	MaxLinger        *time.Duration `yaml:"max_linger" json:"max_linger"`
	AutoStart        bool           `yaml:"auto_start" json:"auto_start"`
	Description      string         `yaml:"description,omitempty" json:"description,omitempty"`
	CreatedAt        time.Time      `yaml:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `yaml:"updated_at" json:"updated_at"`
}

// Normalize fills in defaults for omitted optional fields. An explicit
// max_linger of 0 is left untouched; only a nil MaxLinger (never set) picks
// up DefaultMaxLinger.
func (f *FlowSpec) Normalize() {
	if f.BatchSize <= 0 {
		f.BatchSize = DefaultBatchSize
	}
	if f.MaxLinger == nil {
		d := DefaultMaxLinger
		f.MaxLinger = &d
	}
}

// EffectiveMaxLinger returns the batcher's time-based flush deadline,
// falling back to DefaultMaxLinger if called on a spec that was never
// normalized.
func (f FlowSpec) EffectiveMaxLinger() time.Duration {
	if f.MaxLinger == nil {
		return DefaultMaxLinger
	}
	return *f.MaxLinger
}

// Validate checks structural invariants that do not require resolving
// against the registry or config store (non-empty name, non-empty
// destination set with no duplicates, non-negative batch size; zero means
// unset and Normalize fills in the default).
func (f *FlowSpec) Validate() error {
	if f.Name == "" {
		return errs.Validation("flow name must not be empty")
	}
	if f.ConnectorName == "" {
		return errs.Validation("flow connector_name must not be empty")
	}
	if len(f.DestinationNames) == 0 {
		return errs.Validation("flow destination_names must be non-empty")
	}
	seen := make(map[string]struct{}, len(f.DestinationNames))
	for _, d := range f.DestinationNames {
		if d == "" {
			return errs.Validation("flow destination_names must not contain empty names")
		}
		if _, ok := seen[d]; ok {
			return errs.Validation("flow destination_names must not contain duplicates: " + d)
		}
		seen[d] = struct{}{}
	}
	if f.BatchSize < 0 {
		return errs.Validation("flow batch_size must be positive")
	}
	return nil
}

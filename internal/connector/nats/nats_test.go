package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warpstreamlabs/cdcengine/internal/event"
)

func TestValidateRequiresURLsAndSubject(t *testing.T) {
	f := Factory{}
	err := f.Validate(event.RawConfig{})
	assert.Error(t, err)
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	f := Factory{}
	err := f.Validate(event.RawConfig{
		"urls":    []any{"nats://localhost:4222"},
		"subject": "orders.>",
	})
	assert.NoError(t, err)
}

func TestValidateRejectsUnknownDeliverMode(t *testing.T) {
	f := Factory{}
	err := f.Validate(event.RawConfig{
		"urls":    []any{"nats://localhost:4222"},
		"subject": "orders.>",
		"deliver": "new",
	})
	assert.Error(t, err)
}

func TestValidateAcceptsDeliverLast(t *testing.T) {
	f := Factory{}
	err := f.Validate(event.RawConfig{
		"urls":    []any{"nats://localhost:4222"},
		"subject": "orders.>",
		"deliver": "last",
	})
	assert.NoError(t, err)
}

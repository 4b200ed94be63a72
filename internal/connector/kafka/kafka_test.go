package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warpstreamlabs/cdcengine/internal/event"
)

func TestValidateRequiresBrokersTopicAndGroup(t *testing.T) {
	f := Factory{}
	err := f.Validate(event.RawConfig{})
	assert.Error(t, err)
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	f := Factory{}
	err := f.Validate(event.RawConfig{
		"brokers":        []any{"localhost:9092"},
		"topic":          "orders",
		"consumer_group": "cdcengine",
	})
	assert.NoError(t, err)
}

func TestValidateRejectsUnknownOffsetReset(t *testing.T) {
	f := Factory{}
	err := f.Validate(event.RawConfig{
		"brokers":           []any{"localhost:9092"},
		"topic":             "orders",
		"consumer_group":    "cdcengine",
		"auto_offset_reset": "oldest",
	})
	assert.Error(t, err)
}

func TestValidateAcceptsEarliestOffsetReset(t *testing.T) {
	f := Factory{}
	err := f.Validate(event.RawConfig{
		"brokers":           []any{"localhost:9092"},
		"topic":             "orders",
		"consumer_group":    "cdcengine",
		"auto_offset_reset": "earliest",
	})
	assert.NoError(t, err)
}

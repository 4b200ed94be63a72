package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warpstreamlabs/cdcengine/internal/event"
)

func TestValidateRequiresDSNTableAndKeyColumn(t *testing.T) {
	f := Factory{}
	err := f.Validate(event.RawConfig{})
	assert.Error(t, err)
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	f := Factory{}
	err := f.Validate(event.RawConfig{
		"dsn":        "user:pass@tcp(127.0.0.1:3306)/cdc",
		"table":      "orders",
		"key_column": "id",
	})
	assert.NoError(t, err)
}

func TestValidateRejectsUnknownConflictPolicy(t *testing.T) {
	f := Factory{}
	err := f.Validate(event.RawConfig{
		"dsn":             "user:pass@tcp(127.0.0.1:3306)/cdc",
		"table":           "orders",
		"key_column":      "id",
		"conflict_policy": "merge",
	})
	assert.Error(t, err)
}

func TestValidateAcceptsEachKnownConflictPolicy(t *testing.T) {
	f := Factory{}
	for _, policy := range []string{"upsert", "replace", "ignore"} {
		err := f.Validate(event.RawConfig{
			"dsn":             "user:pass@tcp(127.0.0.1:3306)/cdc",
			"table":           "orders",
			"key_column":      "id",
			"conflict_policy": policy,
		})
		assert.NoError(t, err, "policy %q should be valid", policy)
	}
}

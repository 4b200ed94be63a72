package configstore

import (
	"encoding/json"

	"github.com/warpstreamlabs/cdcengine/internal/errs"
	"github.com/warpstreamlabs/cdcengine/internal/event"
)

func encodeJSONObject(cfg event.RawConfig) ([]byte, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "configstore: failed to encode config document")
	}
	return b, nil
}

func decodeJSONObject(b []byte) (event.RawConfig, error) {
	if len(b) == 0 {
		return event.RawConfig{}, nil
	}
	var cfg event.RawConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "configstore: failed to decode config document")
	}
	return cfg, nil
}

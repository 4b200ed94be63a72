// Package api is the Control Plane (spec §4.6, §6): a gin HTTP surface
// over the Flow Orchestrator, Config Store Adapter, and Plugin Registry,
// returning a uniform JSON envelope on every route. Generalizes the
// teacher's lib/api CORS-wrapped server (grounded via lib/api/api_test.go,
// the only surviving file of that package) into a resource-oriented REST
// API for connectors, destinations and flows.
package api

import (
	"github.com/warpstreamlabs/cdcengine/internal/connector"
	"github.com/warpstreamlabs/cdcengine/internal/destination"
	"github.com/warpstreamlabs/cdcengine/internal/errs"
)

// envelope is the uniform response body for every route (spec §6): Data on
// success, Message/Errors on failure. Code mirrors the errs taxonomy and is
// omitted on success.
type envelope struct {
	Data    any      `json:"data,omitempty"`
	Message string   `json:"message,omitempty"`
	Code    string   `json:"code,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func ok(data any) envelope {
	return envelope{Data: data}
}

func okMessage(msg string) envelope {
	return envelope{Message: msg}
}

func fail(err error) (int, envelope) {
	switch ve := err.(type) {
	case *connector.ValidationError:
		return 400, envelope{Message: ve.Error(), Code: string(errs.CodeValidation), Errors: ve.Errors}
	case *destination.ValidationError:
		return 400, envelope{Message: ve.Error(), Code: string(errs.CodeValidation), Errors: ve.Errors}
	}
	code := errs.CodeOf(err)
	return statusForCode(code), envelope{Message: err.Error(), Code: string(code)}
}

func statusForCode(code errs.Code) int {
	switch code {
	case errs.CodeValidation:
		return 400
	case errs.CodeNotFound:
		return 404
	case errs.CodeConflict, errs.CodeReferenced:
		return 409
	case errs.CodeConnect:
		return 502
	case errs.CodeState:
		return 409
	default:
		return 500
	}
}

package httpx

import (
	"errors"
	"net/http"
)

// ErrValidation marks malformed request input.
var ErrValidation = errors.New("validation failed")

// ErrorRule maps the errors Match accepts to a problem status.
type ErrorRule struct {
	Status int
	Title  string
	Match  func(error) bool
}

// Is matches errors wrapping any of targets.
func Is(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}

// ErrorMapper renders domain errors as RFC7807 problems. Rules are tried in
// order after the built-in ErrValidation rule. Unmatched errors become a 500
// without detail and are handed to OnUnhandled.
type ErrorMapper struct {
	Rules       []ErrorRule
	OnUnhandled func(r *http.Request, err error)
}

// Respond writes the problem for err.
func (m ErrorMapper) Respond(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrValidation) {
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	for _, rule := range m.Rules {
		if rule.Match != nil && rule.Match(err) {
			Problem(w, rule.Status, rule.Title, err.Error())
			return
		}
	}
	if m.OnUnhandled != nil {
		m.OnUnhandled(r, err)
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

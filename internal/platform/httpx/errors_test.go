package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var errMissing = errors.New("missing")

func TestErrorMapperRespond(t *testing.T) {
	var unhandled []error
	mapper := ErrorMapper{
		Rules: []ErrorRule{
			{Status: http.StatusNotFound, Title: "Not Found", Match: Is(errMissing)},
		},
		OnUnhandled: func(_ *http.Request, err error) { unhandled = append(unhandled, err) },
	}
	cases := []struct {
		name   string
		err    error
		status int
		detail bool
	}{
		{"validation", fmt.Errorf("%w: bad limit", ErrValidation), http.StatusBadRequest, true},
		{"rule", fmt.Errorf("load: %w", errMissing), http.StatusNotFound, true},
		{"unmatched", errors.New("db down"), http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mapper.Respond(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Fatalf("unexpected content type %q", ct)
			}
			var problem ProblemDetail
			if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
				t.Fatalf("decode problem: %v", err)
			}
			if problem.Status != tc.status || (problem.Detail != "") != tc.detail {
				t.Fatalf("unexpected problem %+v", problem)
			}
		})
	}
	if len(unhandled) != 1 {
		t.Fatalf("expected one unhandled error, got %d", len(unhandled))
	}
}

func TestDecodeJSONRejectsUnknownAndTrailing(t *testing.T) {
	var dst struct {
		Reason string `json:"reason"`
	}
	for _, body := range []string{`{"reason":"x","extra":1}`, `{"reason":"x"}{}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if err := DecodeJSON(req, &dst); !errors.Is(err, ErrValidation) {
			t.Fatalf("body %q: expected validation error, got %v", body, err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"duplicate"}`))
	if err := DecodeJSON(req, &dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dst.Reason != "duplicate" {
		t.Fatalf("unexpected reason %q", dst.Reason)
	}
}

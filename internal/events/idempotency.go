package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// keyNamespace scopes idempotency keys so they never collide with other
// name-based UUIDs derived in the system.
var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("farmledger:idempotency"))

// GenerateIdempotencyKey derives a stable key for one logical action. The
// fingerprint holds the fields that make two requests "the same" action; it
// is hashed as JSON, so map keys are order independent. The label prefixes
// the key and takes part in the hash, keeping different operations apart.
func GenerateIdempotencyKey(tenantID, label string, fingerprint any) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	label = strings.TrimSpace(label)
	if tenantID == "" || label == "" {
		return "", fmt.Errorf("%w: tenant and label required", ErrInvalidFingerprint)
	}
	canonical, err := json.Marshal(fingerprint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}
	name := make([]byte, 0, len(tenantID)+len(label)+len(canonical)+2)
	name = append(name, tenantID...)
	name = append(name, 0)
	name = append(name, label...)
	name = append(name, 0)
	name = append(name, canonical...)
	return label + ":" + uuid.NewSHA1(keyNamespace, name).String(), nil
}

// TimeBucket truncates t to a window of width in UTC, so repeated submissions
// within one window fingerprint alike.
func TimeBucket(t time.Time, width time.Duration) string {
	if width <= 0 {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC().Truncate(width).Format(time.RFC3339)
}

func defaultKey(tenantID string, in CreateInput) (string, error) {
	var payload any
	if err := json.Unmarshal(in.Payload, &payload); err != nil {
		return "", fmt.Errorf("%w: payload: %v", ErrValidation, err)
	}
	return GenerateIdempotencyKey(tenantID, strings.ToLower(string(in.Type)), map[string]any{
		"site_id":     in.SiteID,
		"occurred_at": in.OccurredAt.UTC().Format(time.RFC3339Nano),
		"payload":     payload,
	})
}

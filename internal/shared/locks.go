package shared

import "fmt"

// EventLockKey builds the lease key guarding processing of a single event.
func EventLockKey(tenantID, eventID string) string {
	return fmt.Sprintf("posting:tenant:%s:event:%s:lock", tenantID, eventID)
}

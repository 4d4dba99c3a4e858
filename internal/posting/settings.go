package posting

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FeedCosting selects where consumed feed is charged.
type FeedCosting string

const (
	// FeedCostingExpense charges feed to the feed expense account.
	FeedCostingExpense FeedCosting = "EXPENSE"
	// FeedCostingCapitalize adds feed cost to the livestock asset.
	FeedCostingCapitalize FeedCosting = "CAPITALIZE"
)

// ParseFeedCosting parses a configured costing mode.
func ParseFeedCosting(v string) (FeedCosting, error) {
	switch mode := FeedCosting(strings.ToUpper(strings.TrimSpace(v))); mode {
	case FeedCostingExpense, FeedCostingCapitalize:
		return mode, nil
	case "":
		return FeedCostingExpense, nil
	default:
		return "", fmt.Errorf("posting: unknown feed costing mode %q", v)
	}
}

// Settings are the tenant level posting options.
type Settings struct {
	FeedCosting FeedCosting `json:"feed_costing"`
	// ReverseInventory re-runs the inverse of recorded stock movements when an
	// event is reversed. When false a reversal touches the ledger only.
	ReverseInventory bool `json:"reverse_inventory"`
}

// SettingsProvider resolves tenant settings.
type SettingsProvider interface {
	Settings(ctx context.Context, tenantID string) (Settings, error)
}

// StaticSettings serves a default with per-tenant overrides.
type StaticSettings struct {
	mu        sync.RWMutex
	defaults  Settings
	overrides map[string]Settings
}

// NewStaticSettings constructs StaticSettings.
func NewStaticSettings(defaults Settings) *StaticSettings {
	if defaults.FeedCosting == "" {
		defaults.FeedCosting = FeedCostingExpense
	}
	return &StaticSettings{defaults: defaults, overrides: make(map[string]Settings)}
}

// Set overrides the settings of one tenant.
func (s *StaticSettings) Set(tenantID string, settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if settings.FeedCosting == "" {
		settings.FeedCosting = s.defaults.FeedCosting
	}
	s.overrides[tenantID] = settings
}

// Settings implements SettingsProvider.
func (s *StaticSettings) Settings(_ context.Context, tenantID string) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.overrides[tenantID]; ok {
		return v, nil
	}
	return s.defaults, nil
}

// Package memory is an in-process implementation of every storage port. It
// backs the engine tests and local runs without PostgreSQL. All writes go
// through one mutex, so an apply is atomic by construction.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/inventory"
	"github.com/odyssey-erp/farmledger/internal/ledger"
	"github.com/odyssey-erp/farmledger/internal/posting"
	"github.com/odyssey-erp/farmledger/internal/shared"
)

type roleKey struct {
	tenantID string
	role     ledger.Role
}

type idemKey struct {
	tenantID string
	key      string
}

// Store holds events, ledger and inventory state in memory.
type Store struct {
	mu sync.RWMutex

	events      map[uuid.UUID]events.Event
	idempotency map[idemKey]events.IdempotencyRecord

	accounts map[uuid.UUID]ledger.Account
	roles    map[roleKey]uuid.UUID
	entries  map[uuid.UUID]ledger.JournalEntry
	order    []uuid.UUID

	balances  map[inventory.Key]inventory.Balance
	movements []inventory.Movement

	audit []shared.AuditLog
}

var (
	_ events.RepositoryPort = (*Store)(nil)
	_ ledger.RepositoryPort = (*Store)(nil)
	_ posting.Store         = (*Store)(nil)
	_ shared.AuditRecorder  = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		events:      make(map[uuid.UUID]events.Event),
		idempotency: make(map[idemKey]events.IdempotencyRecord),
		accounts:    make(map[uuid.UUID]ledger.Account),
		roles:       make(map[roleKey]uuid.UUID),
		entries:     make(map[uuid.UUID]ledger.JournalEntry),
		balances:    make(map[inventory.Key]inventory.Balance),
	}
}

// Record implements shared.AuditRecorder.
func (s *Store) Record(_ context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, log)
	return nil
}

// AuditLogs returns the recorded audit trail.
func (s *Store) AuditLogs() []shared.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]shared.AuditLog, len(s.audit))
	copy(out, s.audit)
	return out
}

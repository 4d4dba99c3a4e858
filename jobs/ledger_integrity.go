package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/farmledger/internal/jobs"
	"github.com/odyssey-erp/farmledger/internal/ledger"
)

// ErrLedgerImbalance is returned when at least one tenant's trial balance
// does not net to zero.
var ErrLedgerImbalance = errors.New("ledger integrity: trial balance out of balance")

// TrialBalanceReader lists tenants and computes their trial balance.
type TrialBalanceReader interface {
	ListTenants(ctx context.Context) ([]string, error)
	TrialBalance(ctx context.Context, tenantID string) (ledger.TrialBalance, error)
}

// LedgerIntegrityJob verifies that debits equal credits for every tenant.
type LedgerIntegrityJob struct {
	Ledger  TrialBalanceReader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerIntegrityJob constructs the job.
func NewLedgerIntegrityJob(reader TrialBalanceReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Ledger: reader, Logger: logger, Metrics: metrics}
}

// Handle implements the asynq handler.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Run(ctx)
	return err
}

// Run checks every tenant and returns the ones out of balance.
func (j *LedgerIntegrityJob) Run(ctx context.Context) ([]string, error) {
	if j == nil || j.Ledger == nil {
		return nil, errors.New("ledger integrity: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	tenants, err := j.Ledger.ListTenants(ctx)
	if err != nil {
		return nil, tracker.End(fmt.Errorf("ledger integrity: list tenants: %w", err))
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var broken []string
	for _, tenantID := range tenants {
		tb, err := j.Ledger.TrialBalance(ctx, tenantID)
		if err != nil {
			return broken, tracker.End(fmt.Errorf("ledger integrity: tenant %s: %w", tenantID, err))
		}
		if tb.Balanced() {
			continue
		}
		broken = append(broken, tenantID)
		j.Metrics.AddImbalance(tenantID)
		logger.Error("trial balance out of balance",
			slog.String("tenant_id", tenantID),
			slog.String("total_debit", tb.TotalDebit.String()),
			slog.String("total_credit", tb.TotalCredit.String()))
	}
	logger.Info("ledger integrity check executed",
		slog.String("job", TaskLedgerIntegrity),
		slog.Int("tenants", len(tenants)),
		slog.Int("imbalanced", len(broken)))
	if len(broken) > 0 {
		return broken, tracker.End(fmt.Errorf("%w: %d tenant(s)", ErrLedgerImbalance, len(broken)))
	}
	return nil, tracker.End(nil)
}

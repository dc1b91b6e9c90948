// Package credit implements the double-entry credit ledger that funds
// projects and pays workers. Every movement writes matched DEBIT/CREDIT
// entries in one transaction, so SUM(debits) == SUM(credits) always holds.
package credit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/labelmint/labelmint/internal/domain"
	"github.com/labelmint/labelmint/internal/infra/metrics"
	"github.com/labelmint/labelmint/internal/infra/sqlite"
)

// Service manages project budgets and worker earnings.
// It implements domain.RewardDisburser, domain.BillingProvider and
// domain.EarningsProvider.
type Service struct {
	db     *sqlite.DB
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ domain.RewardDisburser  = (*Service)(nil)
	_ domain.BillingProvider  = (*Service)(nil)
	_ domain.EarningsProvider = (*Service)(nil)
)

// NewService creates a credit service. A nil logger discards output.
func NewService(db *sqlite.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger, now: time.Now}
}

// Balance returns the current balance of a ledger account.
func (s *Service) Balance(ctx context.Context, account string) (int64, error) {
	return s.db.CreditBalance(ctx, account)
}

// History returns recent ledger entries for an account, newest first.
func (s *Service) History(ctx context.Context, account string, limit int) ([]domain.LedgerEntry, error) {
	return s.db.LedgerEntries(ctx, account, limit)
}

// FundProject moves credits from the system pool into a project's budget.
func (s *Service) FundProject(ctx context.Context, projectID string, amount int64) error {
	if projectID == "" {
		return fmt.Errorf("fund project: %w: empty project id", domain.ErrInvalidTaskData)
	}
	if amount <= 0 {
		return fmt.Errorf("fund project: %w: amount must be positive, got %d", domain.ErrInvalidTaskData, amount)
	}

	err := s.db.PostLedger(ctx, domain.TxFund, "", "project funding", s.now(), []sqlite.Posting{
		{Account: domain.SystemAccount, EntryType: domain.EntryDebit, Amount: amount},
		{Account: domain.ProjectAccount(projectID), EntryType: domain.EntryCredit, Amount: amount},
	})
	if err != nil {
		return fmt.Errorf("fund project %s: %w", projectID, err)
	}
	s.logger.Info("project funded", zap.String("project_id", projectID), zap.Int64("amount", amount))
	return nil
}

// Disburse pays a completed task's reward. The amount is split evenly among
// recipients, the remainder going to the first. The owning project's budget
// is debited even if that takes it below zero.
func (s *Service) Disburse(ctx context.Context, taskID string, recipients []string, amount int64) error {
	if amount <= 0 || len(recipients) == 0 {
		return nil
	}

	projectID, err := s.db.TaskProject(ctx, taskID)
	if err != nil {
		return fmt.Errorf("disburse %s: %w", taskID, err)
	}
	project := domain.ProjectAccount(projectID)

	shares := SplitReward(amount, len(recipients))
	postings := make([]sqlite.Posting, 0, len(recipients)+1)
	postings = append(postings, sqlite.Posting{Account: project, EntryType: domain.EntryDebit, Amount: amount})
	for i, workerID := range recipients {
		if shares[i] == 0 {
			continue
		}
		postings = append(postings, sqlite.Posting{
			Account:   domain.WorkerAccount(workerID),
			EntryType: domain.EntryCredit,
			Amount:    shares[i],
		})
	}

	if err := s.db.PostLedger(ctx, domain.TxReward, taskID, "task reward", s.now(), postings); err != nil {
		return fmt.Errorf("disburse %s: %w", taskID, err)
	}
	metrics.CreditsDisbursed.Add(float64(amount))

	if bal, err := s.db.CreditBalance(ctx, project); err == nil && bal < 0 {
		s.logger.Warn("project budget overdrawn",
			zap.String("project_id", projectID),
			zap.String("task_id", taskID),
			zap.Int64("balance", bal))
	}
	return nil
}

// ProjectBudget reports how much a project was funded, how much it has paid
// out, and what is left.
func (s *Service) ProjectBudget(ctx context.Context, projectID string) (domain.ProjectBudget, error) {
	account := domain.ProjectAccount(projectID)
	funded, err := s.db.LedgerSum(ctx, account, domain.TxFund, domain.EntryCredit)
	if err != nil {
		return domain.ProjectBudget{}, fmt.Errorf("project budget: %w", err)
	}
	spent, err := s.db.LedgerSum(ctx, account, domain.TxReward, domain.EntryDebit)
	if err != nil {
		return domain.ProjectBudget{}, fmt.Errorf("project budget: %w", err)
	}
	return domain.ProjectBudget{Funded: funded, Spent: spent, Remaining: funded - spent}, nil
}

// WorkerEarnings returns the total reward credited to a worker.
func (s *Service) WorkerEarnings(ctx context.Context, workerID string) (int64, error) {
	return s.db.LedgerSum(ctx, domain.WorkerAccount(workerID), domain.TxReward, domain.EntryCredit)
}

// ─── Reward Split ───────────────────────────────────────────────────────────

// SplitReward divides amount evenly among n recipients. The remainder goes to
// the first share so the shares always sum to amount.
func SplitReward(amount int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	shares := make([]int64, n)
	base := amount / int64(n)
	for i := range shares {
		shares[i] = base
	}
	shares[0] += amount - base*int64(n)
	return shares
}

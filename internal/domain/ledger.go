package domain

import "time"

// TxType classifies a credit transaction.
type TxType string

const (
	TxFund   TxType = "FUND"   // project budget top-up
	TxReward TxType = "REWARD" // payout for a completed task
)

// EntryType is the side of a double-entry pair.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// LedgerEntry is one side of a double-entry credit movement.
// Balance is the account's running balance after this entry.
type LedgerEntry struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Type        TxType    `json:"type"`
	EntryType   EntryType `json:"entry_type"`
	Account     string    `json:"account"`
	Amount      int64     `json:"amount"`
	TaskID      string    `json:"task_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Balance     int64     `json:"balance"`
}

// ProjectAccount returns the ledger account holding a project's budget.
func ProjectAccount(projectID string) string { return "project:" + projectID }

// WorkerAccount returns the ledger account holding a worker's earnings.
func WorkerAccount(workerID string) string { return "worker:" + workerID }

// SystemAccount funds project budgets.
const SystemAccount = "system_pool"

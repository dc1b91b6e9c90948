package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/labelmint/labelmint/internal/domain"
)

// ─── Credit Ledger ──────────────────────────────────────────────────────────

// Posting is one leg of a ledger transfer.
type Posting struct {
	Account   string
	EntryType domain.EntryType
	Amount    int64
}

// PostLedger writes every posting in one transaction, computing each
// account's running balance inside the transaction.
func (d *DB) PostLedger(ctx context.Context, txType domain.TxType, taskID, description string, at time.Time, postings []Posting) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin ledger tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, p := range postings {
		if p.Amount <= 0 {
			return fmt.Errorf("posting to %s: amount must be positive, got %d", p.Account, p.Amount)
		}
		bal, err := balanceOf(ctx, tx, p.Account)
		if err != nil {
			return unavailable("ledger balance", err)
		}
		switch p.EntryType {
		case domain.EntryDebit:
			bal -= p.Amount
		case domain.EntryCredit:
			bal += p.Amount
		default:
			return fmt.Errorf("posting to %s: unknown entry type %q", p.Account, p.EntryType)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO credit_ledger (timestamp, type, entry_type, account, amount, task_id, description, balance)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			at.UnixMilli(), string(txType), string(p.EntryType),
			p.Account, p.Amount, nullStr(taskID), nullStr(description), bal,
		)
		if err != nil {
			return unavailable("insert ledger entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit ledger tx", err)
	}
	return nil
}

// CreditBalance returns the current balance for an account.
func (d *DB) CreditBalance(ctx context.Context, account string) (int64, error) {
	bal, err := balanceOf(ctx, d.db, account)
	if err != nil {
		return 0, unavailable("ledger balance", err)
	}
	return bal, nil
}

// LedgerSum totals the amounts of an account's entries of one kind.
func (d *DB) LedgerSum(ctx context.Context, account string, txType domain.TxType, entryType domain.EntryType) (int64, error) {
	var sum int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_ledger
		 WHERE account = ? AND type = ? AND entry_type = ?`,
		account, string(txType), string(entryType),
	).Scan(&sum)
	if err != nil {
		return 0, unavailable("ledger sum", err)
	}
	return sum, nil
}

// LedgerEntries returns recent ledger entries for an account, newest first.
func (d *DB) LedgerEntries(ctx context.Context, account string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, timestamp, type, entry_type, account, amount, task_id, description, balance
		 FROM credit_ledger WHERE account = ? ORDER BY id DESC LIMIT ?`,
		account, limit,
	)
	if err != nil {
		return nil, unavailable("ledger entries", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var ts int64
		var txType, entryType string
		var taskID, desc sql.NullString
		err := rows.Scan(&e.ID, &ts, &txType, &entryType, &e.Account,
			&e.Amount, &taskID, &desc, &e.Balance)
		if err != nil {
			return nil, unavailable("scan ledger entry", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.Type = domain.TxType(txType)
		e.EntryType = domain.EntryType(entryType)
		if taskID.Valid {
			e.TaskID = taskID.String
		}
		if desc.Valid {
			e.Description = desc.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("ledger entries", err)
	}
	return entries, nil
}

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func balanceOf(ctx context.Context, q queryRower, account string) (int64, error) {
	var balance int64
	err := q.QueryRowContext(ctx,
		`SELECT balance FROM credit_ledger WHERE account = ? ORDER BY id DESC LIMIT 1`,
		account,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/n1ngu/sii/internal/application/billing"
	"github.com/n1ngu/sii/internal/domain/repository"
)

var _ billing.SubmissionTxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunSubmission ejecuta fn con los repos de facturas y envíos atados a una
// misma tx. Commit si fn no falla; Rollback en cualquier otro caso.
func (r *TxRunner) RunSubmission(ctx context.Context, fn func(
	invoiceRepo repository.InvoiceRepository,
	submissionRepo repository.SubmissionRepository,
) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(NewInvoiceRepository(tx), NewSubmissionRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

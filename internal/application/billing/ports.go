package billing

import (
	"context"

	"github.com/n1ngu/sii/internal/domain/repository"
	"github.com/n1ngu/sii/internal/domain/sii"
)

// SubmissionTxRunner ejecuta una función dentro de una transacción que incluye
// la factura y el registro de envíos.
type SubmissionTxRunner interface {
	RunSubmission(ctx context.Context, fn func(
		invoiceRepo repository.InvoiceRepository,
		submissionRepo repository.SubmissionRepository,
	) error) error
}

// Submitter envía un registro validado. *Dispatcher lo implementa.
type Submitter interface {
	Submit(ctx context.Context, rec sii.ValidatedRecord, dir sii.Direction) (*SubmissionResult, error)
}

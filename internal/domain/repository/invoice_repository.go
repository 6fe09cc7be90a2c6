package repository

import (
	"context"

	"github.com/n1ngu/sii/internal/domain/entity"
)

// InvoiceRepository define el puerto de persistencia para las facturas enviadas al SII.
type InvoiceRepository interface {
	// Save inserta la factura o, si ya existe, actualiza sus datos de origen.
	Save(ctx context.Context, invoice *entity.Invoice) error
	// UpdateStatus actualiza sii_status y sii_reason tras un intento de envío.
	UpdateStatus(ctx context.Context, id, status, reason string) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
}

// SubmissionRepository registro de auditoría de los intentos de envío.
type SubmissionRepository interface {
	Create(ctx context.Context, s *entity.Submission) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.Submission, error)
}

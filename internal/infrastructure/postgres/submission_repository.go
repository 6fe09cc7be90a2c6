package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/n1ngu/sii/internal/domain/entity"
	"github.com/n1ngu/sii/internal/domain/repository"
)

var _ repository.SubmissionRepository = (*SubmissionRepo)(nil)

// SubmissionRepo registro de auditoría de envíos (append-only).
type SubmissionRepo struct {
	q Querier
}

// NewSubmissionRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSubmissionRepository(q Querier) *SubmissionRepo {
	return &SubmissionRepo{q: q}
}

// Create inserta un intento de envío.
func (r *SubmissionRepo) Create(ctx context.Context, s *entity.Submission) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	var ack []byte
	if len(s.Ack) > 0 {
		ack = s.Ack
	}
	query := `
		INSERT INTO sii_submissions (id, invoice_id, direction, operation, state, sent, reason, fault, ack, fingerprint, total_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.q.Exec(ctx, query,
		s.ID, s.InvoiceID, s.Direction, nullIfEmpty(s.Operation), s.State, s.Sent,
		nullIfEmpty(s.Reason), nullIfEmpty(s.Fault), ack, nullIfEmpty(s.Fingerprint),
		s.TotalAmount, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// ListByInvoice devuelve los intentos de una factura, del más reciente al más antiguo.
func (r *SubmissionRepo) ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.Submission, error) {
	const query = `
		SELECT id, invoice_id, direction, operation, state, sent, reason, fault, ack, fingerprint, total_amount, created_at
		FROM sii_submissions WHERE invoice_id = $1 ORDER BY created_at DESC, id`
	rows, err := r.q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()
	var list []*entity.Submission
	for rows.Next() {
		var s entity.Submission
		var operation, reason, fault, fingerprint *string
		var ack []byte
		if err := rows.Scan(&s.ID, &s.InvoiceID, &s.Direction, &operation, &s.State, &s.Sent,
			&reason, &fault, &ack, &fingerprint, &s.TotalAmount, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		s.Operation = deref(operation)
		s.Reason = deref(reason)
		s.Fault = deref(fault)
		s.Fingerprint = deref(fingerprint)
		s.Ack = ack
		list = append(list, &s)
	}
	return list, rows.Err()
}

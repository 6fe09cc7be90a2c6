package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/n1ngu/sii/internal/domain"
	"github.com/n1ngu/sii/internal/domain/entity"
	"github.com/n1ngu/sii/internal/domain/repository"
	"github.com/n1ngu/sii/internal/domain/sii"
	"github.com/n1ngu/sii/internal/infrastructure/metrics"
)

// SubmitOutcome resultado de procesar una factura: o violaciones locales, o
// el resultado del envío.
type SubmitOutcome struct {
	Invoice    *entity.Invoice
	Direction  sii.Direction
	Violations []sii.Violation
	Result     *SubmissionResult
}

// Sent indica si la AEAT aceptó el envío.
func (o *SubmitOutcome) Sent() bool {
	return o != nil && o.Result != nil && o.Result.Sent
}

// SubmitInvoiceUseCase construye, valida y envía facturas al SII, y deja
// constancia del estado y de cada intento.
type SubmitInvoiceUseCase struct {
	txRunner       SubmissionTxRunner
	invoiceRepo    repository.InvoiceRepository
	submissionRepo repository.SubmissionRepository
	model          *sii.Model
	builder        *RecordBuilder
	submitters     sync.Pool
	log            zerolog.Logger
	metrics        *metrics.Metrics
}

// NewSubmitInvoiceUseCase construye el caso de uso. newSubmitter se llama
// cuando no hay ningún submitter libre: cada uno lo usa una sola petición a la vez.
func NewSubmitInvoiceUseCase(
	txRunner SubmissionTxRunner,
	invoiceRepo repository.InvoiceRepository,
	submissionRepo repository.SubmissionRepository,
	model *sii.Model,
	builder *RecordBuilder,
	newSubmitter func() Submitter,
	log zerolog.Logger,
	m *metrics.Metrics,
) *SubmitInvoiceUseCase {
	uc := &SubmitInvoiceUseCase{
		txRunner:       txRunner,
		invoiceRepo:    invoiceRepo,
		submissionRepo: submissionRepo,
		model:          model,
		builder:        builder,
		log:            log,
		metrics:        m,
	}
	uc.submitters.New = func() any { return newSubmitter() }
	return uc
}

// Validate construye y valida la factura sin persistir ni enviar nada.
func (uc *SubmitInvoiceUseCase) Validate(inv *entity.Invoice) (sii.ValidatedRecord, error) {
	dir, values, err := uc.builder.Build(inv)
	if err != nil {
		return sii.ValidatedRecord{}, err
	}
	rec := uc.model.Validate(dir, values)
	for _, v := range rec.Violations() {
		uc.metrics.IncrementViolation(v.Code)
	}
	return rec, nil
}

// Submit procesa una factura de principio a fin.
// Con violaciones locales devuelve el outcome con Violations y error nil: la
// factura queda INVALID y no se contacta con la AEAT. Ante un fallo remoto
// devuelve el outcome (Result.State Faulted) y el error remoto sin traducir.
func (uc *SubmitInvoiceUseCase) Submit(ctx context.Context, inv *entity.Invoice) (*SubmitOutcome, error) {
	rec, err := uc.Validate(inv)
	if err != nil {
		return nil, err
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	log := uc.log.With().Str("invoice_id", inv.ID).Str("number", inv.Number).Str("direction", rec.Direction().String()).Logger()

	now := time.Now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	inv.SIIStatus = entity.SIIStatusPending
	if err := uc.invoiceRepo.Save(ctx, inv); err != nil {
		return nil, fmt.Errorf("guardar factura: %w", err)
	}

	out := &SubmitOutcome{Invoice: inv, Direction: rec.Direction()}

	// ═══════════════════════════════════════════════════════════════════════════
	// 1. Registro inválido: no llega a la red
	// ═══════════════════════════════════════════════════════════════════════════
	if !rec.Valid() {
		out.Violations = rec.Violations()
		reason := rec.Err().Error()
		log.Warn().Int("violations", len(out.Violations)).Msg("factura rechazada por validación local")
		uc.metrics.ObserveSubmission(rec.Direction().String(), metrics.OutcomeInvalid, time.Time{})
		sub := &entity.Submission{
			InvoiceID:   inv.ID,
			Direction:   rec.Direction().String(),
			State:       entity.SubmissionStateInvalid,
			Reason:      reason,
			TotalAmount: inv.Total,
		}
		if err := uc.record(ctx, inv, entity.SIIStatusInvalid, reason, sub); err != nil {
			return out, err
		}
		return out, nil
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 2. Envío fuera de transacción
	// ═══════════════════════════════════════════════════════════════════════════
	submitter := uc.submitters.Get().(Submitter)
	res, sendErr := submitter.Submit(ctx, rec, rec.Direction())
	uc.submitters.Put(submitter)
	if res == nil {
		// Sin resultado no hubo intento remoto (dirección o registro incoherente).
		return nil, sendErr
	}
	out.Result = res

	// ═══════════════════════════════════════════════════════════════════════════
	// 3. Estado y auditoría
	// ═══════════════════════════════════════════════════════════════════════════
	status := entity.SIIStatusRejected
	state := entity.SubmissionStateAcknowledged
	switch {
	case res.State == StateFaulted:
		status, state = entity.SIIStatusError, entity.SubmissionStateFaulted
	case res.Sent:
		status = entity.SIIStatusSent
	}
	sub := &entity.Submission{
		ID:          res.ID,
		InvoiceID:   inv.ID,
		Direction:   res.Direction.String(),
		Operation:   res.Operation,
		State:       state,
		Sent:        res.Sent,
		Reason:      res.Reason,
		Fingerprint: res.Fingerprint,
		TotalAmount: inv.Total,
	}
	if res.Fault != nil {
		sub.Fault = res.Fault.Error()
	}
	if res.Ack != nil {
		if raw, err := json.Marshal(res.Ack); err == nil {
			sub.Ack = raw
		}
	}
	if err := uc.record(ctx, inv, status, res.Reason, sub); err != nil {
		return out, errors.Join(sendErr, err)
	}
	return out, sendErr
}

// record persiste estado de la factura y fila de auditoría en una transacción.
func (uc *SubmitInvoiceUseCase) record(ctx context.Context, inv *entity.Invoice, status, reason string, sub *entity.Submission) error {
	inv.SIIStatus = status
	inv.SIIReason = reason
	sub.CreatedAt = time.Now()
	err := uc.txRunner.RunSubmission(ctx, func(invoiceRepo repository.InvoiceRepository, submissionRepo repository.SubmissionRepository) error {
		if err := invoiceRepo.UpdateStatus(ctx, inv.ID, status, reason); err != nil {
			return err
		}
		return submissionRepo.Create(ctx, sub)
	})
	if err != nil {
		uc.log.Error().Err(err).Str("invoice_id", inv.ID).Str("status", status).Msg("no se pudo persistir el resultado del envío")
		return fmt.Errorf("persistir envío: %w", err)
	}
	return nil
}

// GetInvoice devuelve una factura con su estado SII.
func (uc *SubmitInvoiceUseCase) GetInvoice(ctx context.Context, id string) (*entity.Invoice, error) {
	if id == "" {
		return nil, domain.ErrInvalidInput
	}
	return uc.invoiceRepo.GetByID(ctx, id)
}

// ListSubmissions devuelve los intentos de envío de una factura, del más reciente al más antiguo.
func (uc *SubmitInvoiceUseCase) ListSubmissions(ctx context.Context, invoiceID string) ([]*entity.Submission, error) {
	if _, err := uc.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return uc.submissionRepo.ListByInvoice(ctx, invoiceID)
}

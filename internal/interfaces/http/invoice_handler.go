package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/n1ngu/sii/internal/application/billing"
	"github.com/n1ngu/sii/internal/application/dto"
	"github.com/n1ngu/sii/internal/domain"
	"github.com/n1ngu/sii/internal/domain/entity"
	"github.com/n1ngu/sii/internal/domain/sii"
	catalog "github.com/n1ngu/sii/pkg/sii"
)

// invoiceSubmitter lo que el handler necesita del caso de uso de envío.
// Lo implementa *billing.SubmitInvoiceUseCase.
type invoiceSubmitter interface {
	Validate(inv *entity.Invoice) (sii.ValidatedRecord, error)
	Submit(ctx context.Context, inv *entity.Invoice) (*billing.SubmitOutcome, error)
	ListSubmissions(ctx context.Context, invoiceID string) ([]*entity.Submission, error)
}

// InvoiceHandler maneja la validación y el envío de facturas al SII (protegido).
type InvoiceHandler struct {
	uc  invoiceSubmitter
	log zerolog.Logger
}

// NewInvoiceHandler construye el handler.
func NewInvoiceHandler(uc invoiceSubmitter, log zerolog.Logger) *InvoiceHandler {
	return &InvoiceHandler{uc: uc, log: log}
}

// parseInvoice lee el cuerpo y comprueba que el titular coincide con el del token.
func (h *InvoiceHandler) parseInvoice(c *fiber.Ctx) (*entity.Invoice, error) {
	var in dto.InvoiceRequest
	if err := c.BodyParser(&in); err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	inv, err := in.ToEntity()
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}
	if vat := GetCompanyVAT(c); vat != "" && catalog.NormalizeNIF(vat) != catalog.NormalizeNIF(inv.Company.VAT) {
		return nil, c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "el titular no coincide con el del token"})
	}
	return inv, nil
}

// Validate construye y valida el registro SII sin enviarlo.
// POST /api/sii/invoices/validate
func (h *InvoiceHandler) Validate(c *fiber.Ctx) error {
	inv, err := h.parseInvoice(c)
	if inv == nil {
		return err
	}
	rec, err := h.uc.Validate(inv)
	if err != nil {
		return h.mappingError(c, err)
	}
	resp := dto.NewValidationResponse(rec)
	if !rec.Valid() {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(resp)
	}
	return c.JSON(resp)
}

// Submit valida y envía la factura.
// POST /api/sii/invoices
//
// 201 aceptada (Correcto), 202 respondida sin aceptar, 422 violaciones locales,
// 409 número ya registrado con otro id, 502 fallo remoto.
func (h *InvoiceHandler) Submit(c *fiber.Ctx) error {
	inv, err := h.parseInvoice(c)
	if inv == nil {
		return err
	}
	out, err := h.uc.Submit(c.UserContext(), inv)
	switch {
	case out == nil:
		return h.mappingError(c, err)
	case out.Result != nil && out.Result.State == billing.StateFaulted:
		return c.Status(fiber.StatusBadGateway).JSON(dto.NewSubmitResponse(out))
	case err != nil:
		h.log.Error().Err(err).Str("invoice_id", out.Invoice.ID).Msg("envío sin persistir")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "no se pudo registrar el envío"})
	case len(out.Violations) > 0:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.NewSubmitResponse(out))
	case out.Sent():
		return c.Status(fiber.StatusCreated).JSON(dto.NewSubmitResponse(out))
	default:
		return c.Status(fiber.StatusAccepted).JSON(dto.NewSubmitResponse(out))
	}
}

// Submissions registro de intentos de envío de una factura.
// GET /api/sii/invoices/:id/submissions
func (h *InvoiceHandler) Submissions(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}
	list, err := h.uc.ListSubmissions(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "factura no encontrada"})
		}
		return h.internal(c, err)
	}
	return c.JSON(dto.NewSubmissionResponses(list))
}

// mappingError traduce los errores previos al envío.
func (h *InvoiceHandler) mappingError(c *fiber.Ctx, err error) error {
	var me *billing.MappingError
	switch {
	case errors.As(err, &me):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "MAPPING", Message: me.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: "la factura ya está registrada con otro id; reenvíe con ese id"})
	default:
		return h.internal(c, err)
	}
}

func (h *InvoiceHandler) internal(c *fiber.Ctx, err error) error {
	h.log.Error().Err(err).Str("path", c.Path()).Msg("error interno")
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}

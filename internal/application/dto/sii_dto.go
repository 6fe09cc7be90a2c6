package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/n1ngu/sii/internal/application/billing"
	"github.com/n1ngu/sii/internal/application/nif"
	"github.com/n1ngu/sii/internal/domain"
	"github.com/n1ngu/sii/internal/domain/entity"
	"github.com/n1ngu/sii/internal/domain/sii"
)

// DateLayout formato de fecha en las peticiones (ISO 8601).
const DateLayout = "2006-01-02"

// InvoiceRequest body para POST /api/sii/invoices y /api/sii/invoices/validate.
type InvoiceRequest struct {
	ID                string           `json:"id,omitempty"`
	Type              string           `json:"type"` // out_invoice, out_refund, in_invoice, in_refund
	Number            string           `json:"number"`
	Date              string           `json:"date"`
	AccountingDate    string           `json:"accounting_date,omitempty"`
	Description       string           `json:"description,omitempty"`
	Company           PartyRequest     `json:"company"`
	Partner           PartyRequest     `json:"partner"`
	SIIType           string           `json:"sii_type,omitempty"`
	RegimeKey         string           `json:"regime_key,omitempty"`
	CommunicationType string           `json:"communication_type,omitempty"`
	RectificationType string           `json:"rectification_type,omitempty"`
	RectifiedBase     decimal.Decimal  `json:"rectified_base"`
	RectifiedTax      decimal.Decimal  `json:"rectified_tax"`
	Lines             []TaxLineRequest `json:"lines"`
	Total             decimal.Decimal  `json:"total"`
	DeductibleTax     *decimal.Decimal `json:"deductible_tax,omitempty"`
}

// PartyRequest empresa o contraparte.
type PartyRequest struct {
	Name    string `json:"name"`
	VAT     string `json:"vat"`
	Country string `json:"country,omitempty"`
	IDType  string `json:"id_type,omitempty"`
}

// TaxLineRequest línea de impuesto.
type TaxLineRequest struct {
	Base                decimal.Decimal `json:"base"`
	Rate                decimal.Decimal `json:"rate"`
	Amount              decimal.Decimal `json:"amount"`
	Exempt              bool            `json:"exempt,omitempty"`
	ExemptionCause      string          `json:"exemption_cause,omitempty"`
	NotSubject          bool            `json:"not_subject,omitempty"`
	ReverseCharge       bool            `json:"reverse_charge,omitempty"`
	Service             bool            `json:"service,omitempty"`
	CompensationPercent string          `json:"compensation_percent,omitempty"`
	CompensationAmount  decimal.Decimal `json:"compensation_amount"`
}

// ToEntity convierte la petición en la factura de dominio. Las fechas mal
// formadas envuelven domain.ErrInvalidInput.
func (r InvoiceRequest) ToEntity() (*entity.Invoice, error) {
	date, err := parseDate("date", r.Date)
	if err != nil {
		return nil, err
	}
	var accounting time.Time
	if strings.TrimSpace(r.AccountingDate) != "" {
		if accounting, err = parseDate("accounting_date", r.AccountingDate); err != nil {
			return nil, err
		}
	}
	inv := &entity.Invoice{
		ID:                r.ID,
		Type:              r.Type,
		Number:            r.Number,
		Date:              date,
		AccountingDate:    accounting,
		Description:       r.Description,
		Company:           entity.Party(r.Company),
		Partner:           entity.Party(r.Partner),
		SIIType:           r.SIIType,
		RegimeKey:         r.RegimeKey,
		CommunicationType: r.CommunicationType,
		RectificationType: r.RectificationType,
		RectifiedBase:     r.RectifiedBase,
		RectifiedTax:      r.RectifiedTax,
		Total:             r.Total,
		DeductibleTax:     r.DeductibleTax,
	}
	for _, l := range r.Lines {
		inv.Lines = append(inv.Lines, entity.TaxLine(l))
	}
	return inv, nil
}

func parseDate(field, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s debe tener formato AAAA-MM-DD", domain.ErrInvalidInput, field)
	}
	return t, nil
}

// ValidationResponse resultado de la validación local.
type ValidationResponse struct {
	Valid      bool            `json:"valid"`
	Direction  string          `json:"direction"`
	Record     sii.Mapping     `json:"record,omitempty"`
	Violations []sii.Violation `json:"violations,omitempty"`
}

// NewValidationResponse construye la respuesta desde el registro validado.
func NewValidationResponse(rec sii.ValidatedRecord) ValidationResponse {
	return ValidationResponse{
		Valid:      rec.Valid(),
		Direction:  rec.Direction().String(),
		Record:     rec.Mapping(),
		Violations: rec.Violations(),
	}
}

// SubmitResponse resultado de POST /api/sii/invoices.
type SubmitResponse struct {
	InvoiceID   string              `json:"invoice_id"`
	Direction   string              `json:"direction"`
	Status      string              `json:"status"` // PENDING|INVALID|SENT|REJECTED|ERROR
	Sent        bool                `json:"sent"`
	Reason      string              `json:"reason,omitempty"`
	Violations  []sii.Violation     `json:"violations,omitempty"`
	Submission  *SubmissionResponse `json:"submission,omitempty"`
	Fingerprint string              `json:"fingerprint,omitempty"`
}

// NewSubmitResponse construye la respuesta desde el resultado del caso de uso.
func NewSubmitResponse(out *billing.SubmitOutcome) SubmitResponse {
	resp := SubmitResponse{
		InvoiceID:  out.Invoice.ID,
		Direction:  out.Direction.String(),
		Status:     out.Invoice.SIIStatus,
		Sent:       out.Sent(),
		Reason:     out.Invoice.SIIReason,
		Violations: out.Violations,
	}
	if res := out.Result; res != nil {
		resp.Fingerprint = res.Fingerprint
		resp.Submission = &SubmissionResponse{
			ID:          res.ID,
			Direction:   res.Direction.String(),
			Operation:   res.Operation,
			State:       string(res.State),
			Sent:        res.Sent,
			Reason:      res.Reason,
			Fingerprint: res.Fingerprint,
		}
		if res.Ack != nil {
			resp.Submission.Ack = res.Ack
		}
		if res.Fault != nil {
			resp.Submission.Fault = res.Fault.Error()
		}
	}
	return resp
}

// SubmissionResponse un intento de envío del registro de auditoría.
type SubmissionResponse struct {
	ID          string          `json:"id"`
	Direction   string          `json:"direction"`
	Operation   string          `json:"operation,omitempty"`
	State       string          `json:"state"`
	Sent        bool            `json:"sent"`
	Reason      string          `json:"reason,omitempty"`
	Fault       string          `json:"fault,omitempty"`
	Ack         any             `json:"ack,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   string          `json:"created_at,omitempty"`
}

// NewSubmissionResponses convierte el registro de auditoría.
func NewSubmissionResponses(list []*entity.Submission) []SubmissionResponse {
	out := make([]SubmissionResponse, 0, len(list))
	for _, s := range list {
		r := SubmissionResponse{
			ID:          s.ID,
			Direction:   s.Direction,
			Operation:   s.Operation,
			State:       s.State,
			Sent:        s.Sent,
			Reason:      s.Reason,
			Fault:       s.Fault,
			Fingerprint: s.Fingerprint,
			TotalAmount: s.TotalAmount,
			CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		}
		if len(s.Ack) > 0 {
			r.Ack = s.Ack
		}
		out = append(out, r)
	}
	return out
}

// IdentifierRequest NIF y nombre a validar en el censo.
type IdentifierRequest struct {
	NIF  string `json:"nif"`
	Name string `json:"name"`
}

// ToIdentifier convierte a nif.Identifier.
func (r IdentifierRequest) ToIdentifier() nif.Identifier {
	return nif.Identifier{NIF: r.NIF, Name: r.Name}
}

// ToIdentifiers convierte una lista de peticiones.
func ToIdentifiers(in []IdentifierRequest) []nif.Identifier {
	out := make([]nif.Identifier, len(in))
	for i, r := range in {
		out[i] = r.ToIdentifier()
	}
	return out
}

// VerdictResponse veredicto de la AEAT para un identificador.
type VerdictResponse struct {
	NIF        string `json:"nif"`
	Name       string `json:"name"`
	Recognized bool   `json:"recognized"`
	Result     string `json:"result,omitempty"`
}

// NewVerdictResponses convierte los veredictos.
func NewVerdictResponses(vs []nif.Verdict) []VerdictResponse {
	out := make([]VerdictResponse, len(vs))
	for i, v := range vs {
		out[i] = VerdictResponse{NIF: v.NIF, Name: v.Name, Recognized: v.Recognized, Result: v.Result}
	}
	return out
}

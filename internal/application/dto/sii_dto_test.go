package dto_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n1ngu/sii/internal/application/dto"
	"github.com/n1ngu/sii/internal/domain"
	"github.com/n1ngu/sii/internal/domain/entity"
)

const supplierJSON = `{
  "type": "in_invoice",
  "number": "PROV-778",
  "date": "2024-03-10",
  "accounting_date": "2024-03-20",
  "company": {"name": "ACME SOLUCIONES SL", "vat": "ESB12345674"},
  "partner": {"name": "PROVEEDOR EJEMPLO", "vat": "12345678Z"},
  "lines": [{"base": "100", "rate": "21", "amount": "21"}],
  "total": "121",
  "deductible_tax": "21"
}`

func TestInvoiceRequest_ToEntity(t *testing.T) {
	var req dto.InvoiceRequest
	require.NoError(t, json.Unmarshal([]byte(supplierJSON), &req))

	inv, err := req.ToEntity()
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceTypeInInvoice, inv.Type)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), inv.Date)
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), inv.AccountingDate)
	assert.Equal(t, "ESB12345674", inv.Company.VAT)
	assert.Equal(t, "PROVEEDOR EJEMPLO", inv.Partner.Name)
	require.Len(t, inv.Lines, 1)
	assert.True(t, decimal.NewFromInt(21).Equal(inv.Lines[0].Amount))
	require.NotNil(t, inv.DeductibleTax)
	assert.True(t, decimal.NewFromInt(121).Equal(inv.Total))
}

func TestInvoiceRequest_ToEntity_BadDate(t *testing.T) {
	_, err := dto.InvoiceRequest{Type: "out_invoice", Date: "15/03/2024"}.ToEntity()
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.ErrorContains(t, err, "date")

	_, err = dto.InvoiceRequest{Type: "in_invoice", Date: "2024-03-15", AccountingDate: "mañana"}.ToEntity()
	assert.ErrorContains(t, err, "accounting_date")
}

func TestInvoiceRequest_ToEntity_AccountingDateOptional(t *testing.T) {
	inv, err := dto.InvoiceRequest{Type: "in_invoice", Date: "2024-03-15"}.ToEntity()
	require.NoError(t, err)
	assert.True(t, inv.AccountingDate.IsZero())
}

func TestNewSubmissionResponses_KeepsAckAsJSON(t *testing.T) {
	out := dto.NewSubmissionResponses([]*entity.Submission{{
		ID:    "s-1",
		State: entity.SubmissionStateAcknowledged,
		Sent:  true,
		Ack:   json.RawMessage(`{"EstadoEnvio":"Correcto"}`),
	}})
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"ack":{"EstadoEnvio":"Correcto"}`)
}

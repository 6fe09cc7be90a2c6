package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/n1ngu/sii/internal/domain"
	"github.com/n1ngu/sii/internal/domain/entity"
	"github.com/n1ngu/sii/internal/domain/repository"
)

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

// InvoiceRepo implementación de InvoiceRepository (usable con pool o tx).
type InvoiceRepo struct {
	q Querier
}

// NewInvoiceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewInvoiceRepository(q Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

// taxLineRow forma JSONB de una línea de impuesto.
type taxLineRow struct {
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

func encodeLines(lines []entity.TaxLine) ([]byte, error) {
	rows := make([]taxLineRow, len(lines))
	for i, l := range lines {
		rows[i] = taxLineRow(l)
	}
	return json.Marshal(rows)
}

func decodeLines(raw []byte) ([]entity.TaxLine, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []taxLineRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	lines := make([]entity.TaxLine, len(rows))
	for i, r := range rows {
		lines[i] = entity.TaxLine(r)
	}
	return lines, nil
}

// Save inserta la factura o, si el id ya existe, reemplaza sus datos de origen.
func (r *InvoiceRepo) Save(ctx context.Context, invoice *entity.Invoice) error {
	if invoice.ID == "" {
		invoice.ID = uuid.New().String()
	}
	lines, err := encodeLines(invoice.Lines)
	if err != nil {
		return fmt.Errorf("encode tax lines: %w", err)
	}
	var accountingDate *time.Time
	if !invoice.AccountingDate.IsZero() {
		accountingDate = &invoice.AccountingDate
	}
	query := `
		INSERT INTO sii_invoices (
			id, type, number, date, accounting_date, description,
			company_name, company_vat, partner_name, partner_vat, partner_country, partner_id_type,
			sii_type, regime_key, communication_type, rectification_type, rectified_base, rectified_tax,
			tax_lines, total, deductible_tax, sii_status, sii_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		        $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (id) DO UPDATE
		SET type               = EXCLUDED.type,
		    number             = EXCLUDED.number,
		    date               = EXCLUDED.date,
		    accounting_date    = EXCLUDED.accounting_date,
		    description        = EXCLUDED.description,
		    company_name       = EXCLUDED.company_name,
		    company_vat        = EXCLUDED.company_vat,
		    partner_name       = EXCLUDED.partner_name,
		    partner_vat        = EXCLUDED.partner_vat,
		    partner_country    = EXCLUDED.partner_country,
		    partner_id_type    = EXCLUDED.partner_id_type,
		    sii_type           = EXCLUDED.sii_type,
		    regime_key         = EXCLUDED.regime_key,
		    communication_type = EXCLUDED.communication_type,
		    rectification_type = EXCLUDED.rectification_type,
		    rectified_base     = EXCLUDED.rectified_base,
		    rectified_tax      = EXCLUDED.rectified_tax,
		    tax_lines          = EXCLUDED.tax_lines,
		    total              = EXCLUDED.total,
		    deductible_tax     = EXCLUDED.deductible_tax,
		    sii_status         = EXCLUDED.sii_status,
		    sii_reason         = EXCLUDED.sii_reason,
		    updated_at         = EXCLUDED.updated_at`
	_, err = r.q.Exec(ctx, query,
		invoice.ID, invoice.Type, invoice.Number, invoice.Date, accountingDate, nullIfEmpty(invoice.Description),
		invoice.Company.Name, invoice.Company.VAT, nullIfEmpty(invoice.Partner.Name), nullIfEmpty(invoice.Partner.VAT),
		nullIfEmpty(invoice.Partner.Country), nullIfEmpty(invoice.Partner.IDType),
		nullIfEmpty(invoice.SIIType), nullIfEmpty(invoice.RegimeKey), nullIfEmpty(invoice.CommunicationType),
		nullIfEmpty(invoice.RectificationType), invoice.RectifiedBase, invoice.RectifiedTax,
		lines, invoice.Total, invoice.DeductibleTax, invoice.SIIStatus, nullIfEmpty(invoice.SIIReason),
		invoice.CreatedAt, invoice.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("invoice number already exists: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("save invoice: %w", err)
	}
	return nil
}

// UpdateStatus fija el estado SII tras un intento de envío.
func (r *InvoiceRepo) UpdateStatus(ctx context.Context, id, status, reason string) error {
	const query = `
		UPDATE sii_invoices
		SET sii_status = $2,
		    sii_reason = $3,
		    updated_at = now()
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query, id, status, nullIfEmpty(reason))
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update invoice status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID obtiene una factura completa por ID.
func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	const query = `
		SELECT id, type, number, date, accounting_date, description,
		       company_name, company_vat, partner_name, partner_vat, partner_country, partner_id_type,
		       sii_type, regime_key, communication_type, rectification_type, rectified_base, rectified_tax,
		       tax_lines, total, deductible_tax, sii_status, sii_reason, created_at, updated_at
		FROM sii_invoices WHERE id = $1`
	var inv entity.Invoice
	var accountingDate *time.Time
	var description, partnerName, partnerVAT, partnerCountry, partnerIDType *string
	var siiType, regimeKey, communicationType, rectificationType, reason *string
	var lines []byte
	err := r.q.QueryRow(ctx, query, id).Scan(
		&inv.ID, &inv.Type, &inv.Number, &inv.Date, &accountingDate, &description,
		&inv.Company.Name, &inv.Company.VAT, &partnerName, &partnerVAT, &partnerCountry, &partnerIDType,
		&siiType, &regimeKey, &communicationType, &rectificationType, &inv.RectifiedBase, &inv.RectifiedTax,
		&lines, &inv.Total, &inv.DeductibleTax, &inv.SIIStatus, &reason, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if accountingDate != nil {
		inv.AccountingDate = *accountingDate
	}
	inv.Description = deref(description)
	inv.Partner = entity.Party{
		Name:    deref(partnerName),
		VAT:     deref(partnerVAT),
		Country: deref(partnerCountry),
		IDType:  deref(partnerIDType),
	}
	inv.SIIType = deref(siiType)
	inv.RegimeKey = deref(regimeKey)
	inv.CommunicationType = deref(communicationType)
	inv.RectificationType = deref(rectificationType)
	inv.SIIReason = deref(reason)
	if inv.Lines, err = decodeLines(lines); err != nil {
		return nil, fmt.Errorf("decode tax lines: %w", err)
	}
	return &inv, nil
}

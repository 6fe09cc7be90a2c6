package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/n1ngu/sii/internal/domain"
	"github.com/n1ngu/sii/internal/domain/entity"
	"github.com/n1ngu/sii/internal/domain/sii"
	catalog "github.com/n1ngu/sii/pkg/sii"
)

// Valores por defecto del registro cuando la factura no los trae.
const (
	DefaultInvoiceType   = "F1"
	DefaultRefundType    = "R1"
	DefaultRegimeKey     = "01"
	DefaultForeignIDType = "02" // NIF-IVA
)

// MappingError la factura no tiene los datos mínimos para construir un registro.
// Es un fallo previo a la validación, no una violación del esquema.
type MappingError struct {
	Field  string
	Reason string
	Err    error
}

func (e *MappingError) Error() string {
	if e.Field == "" {
		return "sii: " + e.Reason
	}
	return fmt.Sprintf("sii: %s: %s", e.Field, e.Reason)
}

// Unwrap permite errors.Is con domain.ErrMapping y con la causa.
func (e *MappingError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrMapping}
	}
	return []error{domain.ErrMapping, e.Err}
}

func mappingErr(field, reason string) error {
	return &MappingError{Field: field, Reason: reason}
}

// RecordBuilder convierte una factura del sistema de origen en la instancia
// del registro SII. No valida: eso corresponde al modelo.
type RecordBuilder struct {
	version string
}

// NewRecordBuilder constructor. version es el IDVersionSii que se informa en la cabecera.
func NewRecordBuilder(version string) *RecordBuilder {
	if version == "" {
		version = catalog.DefaultVersion
	}
	return &RecordBuilder{version: version}
}

// Build devuelve la dirección y la instancia poblada de la factura.
// Una fecha de registro contable vacía no es un error aquí: el modelo la
// reportará como violación en recibidas.
func (b *RecordBuilder) Build(inv *entity.Invoice) (sii.Direction, sii.Values, error) {
	if inv == nil {
		return 0, nil, mappingErr("", "factura nula")
	}
	dir, err := inv.Direction()
	if err != nil {
		return 0, nil, &MappingError{Field: "type", Reason: err.Error(), Err: domain.ErrUnknownInvoiceType}
	}
	if strings.TrimSpace(inv.Company.VAT) == "" {
		return 0, nil, mappingErr("company.vat", "la empresa no tiene identificador fiscal")
	}
	if strings.TrimSpace(inv.Number) == "" {
		return 0, nil, mappingErr("number", "la factura no tiene número")
	}
	if inv.Date.IsZero() {
		return 0, nil, mappingErr("date", "la factura no tiene fecha de expedición")
	}

	var registro sii.Values
	var envelope string
	if dir == sii.Emitted {
		envelope = sii.RecordKeyEmitted
		registro = b.emitted(inv)
	} else {
		envelope = sii.RecordKeyReceived
		registro = b.received(inv)
	}
	return dir, sii.Values{
		sii.HeaderKey: b.header(inv),
		envelope:      registro,
	}, nil
}

func (b *RecordBuilder) header(inv *entity.Invoice) sii.Values {
	comm := inv.CommunicationType
	if comm == "" {
		comm = catalog.CommunicationRegister
	}
	return sii.Values{
		"IDVersionSii": b.version,
		"Titular": sii.Values{
			"NombreRazon": inv.Company.Name,
			"NIF":         catalog.NormalizeNIF(inv.Company.VAT),
		},
		"TipoComunicacion": comm,
	}
}

func period(inv *entity.Invoice, dir sii.Direction) sii.Values {
	d := inv.Date
	if dir == sii.Received && !inv.AccountingDate.IsZero() {
		d = inv.AccountingDate
	}
	return sii.Values{
		"Ejercicio": fmt.Sprintf("%d", d.Year()),
		"Periodo":   fmt.Sprintf("%02d", int(d.Month())),
	}
}

// identity NIF o IDOtro de una parte.
func identity(p entity.Party) (string, sii.Values) {
	if !p.Foreign() {
		return catalog.NormalizeNIF(p.VAT), nil
	}
	idType := p.IDType
	if idType == "" {
		idType = DefaultForeignIDType
	}
	return "", sii.Values{
		"CodigoPais": strings.ToUpper(p.Country),
		"IDType":     idType,
		"ID":         strings.ToUpper(strings.TrimSpace(p.VAT)),
	}
}

func counterparty(p entity.Party) sii.Values {
	out := sii.Values{"NombreRazon": p.Name}
	nif, other := identity(p)
	if other != nil {
		out["IDOtro"] = other
	} else if nif != "" {
		out["NIF"] = nif
	}
	return out
}

func invoiceType(inv *entity.Invoice) string {
	switch {
	case inv.SIIType != "":
		return inv.SIIType
	case inv.Refund():
		return DefaultRefundType
	default:
		return DefaultInvoiceType
	}
}

func description(inv *entity.Invoice) string {
	if d := strings.TrimSpace(inv.Description); d != "" {
		return d
	}
	return "Factura " + inv.Number
}

// common campos compartidos por FacturaExpedida y FacturaRecibida.
func common(inv *entity.Invoice) sii.Values {
	regime := inv.RegimeKey
	if regime == "" {
		regime = DefaultRegimeKey
	}
	out := sii.Values{
		"TipoFactura":                        invoiceType(inv),
		"ClaveRegimenEspecialOTrascendencia": regime,
		"DescripcionOperacion":               description(inv),
	}
	if !inv.Total.IsZero() {
		out["ImporteTotal"] = amount(inv.Total)
	}
	if inv.RectificationType != "" {
		out["TipoRectificativa"] = inv.RectificationType
		if inv.RectificationType == catalog.RectificationSubstitution {
			out["ImporteRectificacion"] = sii.Values{
				"BaseRectificada":  amount(inv.RectifiedBase),
				"CuotaRectificada": amount(inv.RectifiedTax),
			}
		}
	}
	return out
}

func (b *RecordBuilder) emitted(inv *entity.Invoice) sii.Values {
	factura := common(inv)
	if inv.Partner.VAT != "" || inv.Partner.Name != "" {
		factura["Contraparte"] = counterparty(inv.Partner)
	}
	if inv.Partner.Foreign() {
		var services, goods []entity.TaxLine
		for _, l := range inv.Lines {
			if l.Service {
				services = append(services, l)
			} else {
				goods = append(goods, l)
			}
		}
		byOperation := sii.Values{}
		if len(services) > 0 {
			byOperation["PrestacionServicios"] = emittedBreakdown(services, true)
		}
		if len(goods) > 0 {
			byOperation["Entrega"] = emittedBreakdown(goods, true)
		}
		factura["TipoDesglose"] = sii.Values{"DesgloseTipoOperacion": byOperation}
	} else {
		factura["TipoDesglose"] = sii.Values{"DesgloseFactura": emittedBreakdown(inv.Lines, false)}
	}

	return sii.Values{
		"PeriodoImpositivo": period(inv, sii.Emitted),
		"IDFactura": sii.Values{
			"IDEmisorFactura":              sii.Values{"NIF": catalog.NormalizeNIF(inv.Company.VAT)},
			"NumSerieFacturaEmisor":        inv.Number,
			"FechaExpedicionFacturaEmisor": sii.FormatDate(inv.Date),
		},
		sii.InvoiceKeyEmitted: factura,
	}
}

// emittedBreakdown reparte las líneas entre sujeta (exenta / no exenta) y no
// sujeta. Si la factura mezcla varias, se informan todas y el modelo lo
// reportará como unión múltiple.
func emittedBreakdown(lines []entity.TaxLine, foreign bool) sii.Values {
	var exempt, taxed, notSubject []entity.TaxLine
	for _, l := range lines {
		switch {
		case l.NotSubject:
			notSubject = append(notSubject, l)
		case l.Exempt:
			exempt = append(exempt, l)
		default:
			taxed = append(taxed, l)
		}
	}

	out := sii.Values{}
	subject := sii.Values{}
	if len(exempt) > 0 {
		ex := sii.Values{"BaseImponible": amount(sumBase(exempt))}
		for _, l := range exempt {
			if l.ExemptionCause != "" {
				ex["CausaExencion"] = l.ExemptionCause
				break
			}
		}
		subject["Exenta"] = ex
	}
	if len(taxed) > 0 {
		nonExemptType := catalog.NonExemptWithoutISP
		for _, l := range taxed {
			if l.ReverseCharge {
				nonExemptType = catalog.NonExemptWithISP
				break
			}
		}
		var details []sii.Values
		for _, g := range groupByRate(taxed) {
			details = append(details, sii.Values{
				"TipoImpositivo":   g.rate.InexactFloat64(),
				"BaseImponible":    amount(g.base),
				"CuotaRepercutida": amount(g.amount),
			})
		}
		subject["NoExenta"] = sii.Values{
			"TipoNoExenta": nonExemptType,
			"DesgloseIVA":  sii.Values{"DetalleIVA": details},
		}
	}
	if len(subject) > 0 {
		out["Sujeta"] = subject
	}
	if len(notSubject) > 0 {
		key := "ImportePorArticulos7_14_Otros"
		if foreign {
			key = "ImporteTAIReglasLocalizacion"
		}
		out["NoSujeta"] = sii.Values{key: amount(sumBase(notSubject))}
	}
	return out
}

func (b *RecordBuilder) received(inv *entity.Invoice) sii.Values {
	factura := common(inv)
	factura["Contraparte"] = counterparty(inv.Partner)

	var reverse, regular []entity.TaxLine
	for _, l := range inv.Lines {
		if l.ReverseCharge {
			reverse = append(reverse, l)
		} else {
			regular = append(regular, l)
		}
	}
	breakdown := sii.Values{}
	if len(reverse) > 0 {
		breakdown["InversionSujetoPasivo"] = sii.Values{"DetalleIVA": receivedDetails(reverse)}
	}
	if len(regular) > 0 {
		breakdown["DesgloseIVA"] = sii.Values{"DetalleIVA": receivedDetails(regular)}
	}
	factura["DesgloseFactura"] = breakdown

	if !inv.AccountingDate.IsZero() {
		factura["FechaRegContable"] = sii.FormatDate(inv.AccountingDate)
	}
	deductible := sumAmount(inv.Lines)
	if inv.DeductibleTax != nil {
		deductible = *inv.DeductibleTax
	}
	factura["CuotaDeducible"] = amount(deductible)

	issuer := sii.Values{}
	if nif, other := identity(inv.Partner); other != nil {
		issuer["IDOtro"] = other
	} else {
		issuer["NIF"] = nif
	}
	return sii.Values{
		"PeriodoImpositivo": period(inv, sii.Received),
		"IDFactura": sii.Values{
			"IDEmisorFactura":              issuer,
			"NumSerieFacturaEmisor":        inv.Number,
			"FechaExpedicionFacturaEmisor": sii.FormatDate(inv.Date),
		},
		sii.InvoiceKeyReceived: factura,
	}
}

func receivedDetails(lines []entity.TaxLine) []sii.Values {
	var out []sii.Values
	for _, g := range groupByRate(lines) {
		d := sii.Values{
			"TipoImpositivo": g.rate.InexactFloat64(),
			"BaseImponible":  amount(g.base),
			"CuotaSoportada": amount(g.amount),
		}
		if g.compensationPercent != "" {
			d["PorcentCompensacionREAGYP"] = g.compensationPercent
			d["ImporteCompensacionREAGYP"] = amount(g.compensation)
		}
		out = append(out, d)
	}
	return out
}

type rateGroup struct {
	rate                decimal.Decimal
	base                decimal.Decimal
	amount              decimal.Decimal
	compensationPercent string
	compensation        decimal.Decimal
}

// groupByRate agrupa líneas por tipo impositivo en orden de aparición.
func groupByRate(lines []entity.TaxLine) []*rateGroup {
	var groups []*rateGroup
	for _, l := range lines {
		var g *rateGroup
		for _, cand := range groups {
			if cand.rate.Equal(l.Rate) {
				g = cand
				break
			}
		}
		if g == nil {
			g = &rateGroup{rate: l.Rate}
			groups = append(groups, g)
		}
		g.base = g.base.Add(l.Base)
		g.amount = g.amount.Add(l.Amount)
		if l.CompensationPercent != "" {
			g.compensationPercent = l.CompensationPercent
			g.compensation = g.compensation.Add(l.CompensationAmount)
		}
	}
	return groups
}

func sumBase(lines []entity.TaxLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Base)
	}
	return total
}

func sumAmount(lines []entity.TaxLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

// amount importe con dos decimales tal como lo espera el esquema.
func amount(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// IsMappingError indica si err procede de Build.
func IsMappingError(err error) bool {
	var me *MappingError
	return errors.As(err, &me)
}

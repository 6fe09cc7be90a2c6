package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/n1ngu/sii/internal/domain/sii"
)

// Tipos de factura del sistema de origen. El prefijo fija la dirección SII.
const (
	InvoiceTypeOutInvoice = "out_invoice"
	InvoiceTypeOutRefund  = "out_refund"
	InvoiceTypeInInvoice  = "in_invoice"
	InvoiceTypeInRefund   = "in_refund"
)

// Estados de envío al SII.
const (
	SIIStatusPending  = "PENDING"  // Sin enviar
	SIIStatusInvalid  = "INVALID"  // Rechazada por validación local, no llegó a la AEAT
	SIIStatusSent     = "SENT"     // EstadoEnvio Correcto
	SIIStatusRejected = "REJECTED" // Respuesta de la AEAT distinta de Correcto
	SIIStatusError    = "ERROR"    // Fallo de transporte o SOAP Fault
)

// Invoice factura tal como la conoce el sistema de origen.
type Invoice struct {
	ID     string
	Type   string // out_invoice, out_refund, in_invoice, in_refund
	Number string // número y serie; en recibidas, el del proveedor
	Date   time.Time
	// AccountingDate fecha de registro contable (solo recibidas). Cero = no informada.
	AccountingDate time.Time
	Description    string
	Company        Party // titular del libro
	Partner        Party // cliente (emitidas) o proveedor (recibidas)
	// SIIType tipo de factura SII (F1..R5). Vacío: F1, o R1 si es abono.
	SIIType string
	// RegimeKey clave de régimen especial o trascendencia. Vacío: "01".
	RegimeKey         string
	CommunicationType string // A0 por defecto
	// Rectificación: RectificationType "S" exige RectifiedBase y RectifiedTax.
	RectificationType string
	RectifiedBase     decimal.Decimal
	RectifiedTax      decimal.Decimal
	Lines             []TaxLine
	Total             decimal.Decimal
	// DeductibleTax cuota deducible (recibidas). Nil: suma de cuotas soportadas.
	DeductibleTax *decimal.Decimal
	SIIStatus     string
	SIIReason     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Party empresa o contraparte de la factura.
type Party struct {
	Name string
	// VAT identificador fiscal. Para España se admite con o sin prefijo "ES".
	VAT string
	// Country código ISO alfa-2. Vacío o "ES": contraparte nacional identificada por NIF.
	Country string
	// IDType tipo de identificación para contrapartes extranjeras (02 NIF-IVA, 04 documento oficial...).
	IDType string
}

// Foreign indica si la parte debe identificarse con IDOtro en lugar de NIF.
func (p Party) Foreign() bool {
	c := strings.ToUpper(p.Country)
	return c != "" && c != "ES"
}

// TaxLine una línea de impuesto (base, tipo, cuota).
type TaxLine struct {
	Base   decimal.Decimal
	Rate   decimal.Decimal // porcentaje, p. ej. 21
	Amount decimal.Decimal // cuota
	// Exempt operación sujeta y exenta; ExemptionCause E1..E6.
	Exempt         bool
	ExemptionCause string
	// NotSubject operación no sujeta (art. 7, 14 y otros).
	NotSubject bool
	// ReverseCharge inversión del sujeto pasivo.
	ReverseCharge bool
	// Service prestación de servicios frente a entrega de bienes.
	Service bool
	// Compensación REAGYP (recibidas con clave 02).
	CompensationPercent string
	CompensationAmount  decimal.Decimal
}

// Direction deriva la dirección SII del tipo de factura.
func (i *Invoice) Direction() (sii.Direction, error) {
	switch {
	case strings.HasPrefix(i.Type, "out_"):
		return sii.Emitted, nil
	case strings.HasPrefix(i.Type, "in_"):
		return sii.Received, nil
	default:
		return 0, fmt.Errorf("tipo de factura %q sin dirección SII", i.Type)
	}
}

// Refund indica si la factura es un abono.
func (i *Invoice) Refund() bool {
	return strings.HasSuffix(i.Type, "_refund")
}

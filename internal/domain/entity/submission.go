package entity

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Estados finales de un intento de envío.
const (
	SubmissionStateInvalid      = "INVALID"
	SubmissionStateAcknowledged = "ACKNOWLEDGED"
	SubmissionStateFaulted      = "FAULTED"
)

// Submission registro de auditoría de un intento de envío al SII.
type Submission struct {
	ID          string
	InvoiceID   string
	Direction   string // emitted, received
	Operation   string // SuministroLRFacturasEmitidas, ...
	State       string
	Sent        bool
	Reason      string
	Fault       string
	Ack         json.RawMessage // respuesta completa de la AEAT
	Fingerprint string          // SHA-256 del sobre SOAP canonicalizado
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
}

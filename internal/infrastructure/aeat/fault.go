package aeat

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// NotRecognizedCode código AEAT del fallo VNifV1 para un NIF no identificado.
const NotRecognizedCode = "-1"

// legacyNotRecognized texto exacto del fallo "no identificado" (comportamiento heredado).
const legacyNotRecognized = "Codigo[-1].No identificado"

var faultCodePattern = regexp.MustCompile(`^\s*Codigo\[(-?\d+)\]\.`)

// RemoteFault fallo de transporte o SOAP Fault devuelto por la AEAT. Conserva
// el detalle remoto sin traducir.
type RemoteFault struct {
	Operation  string
	FaultCode  string // faultcode SOAP (soapenv:Server, soapenv:Client)
	Code       string // código AEAT extraído de "Codigo[n]." si existe
	Message    string // faultstring
	StatusCode int    // estado HTTP, 0 si no hubo respuesta
	Err        error  // causa de transporte, si la hay
}

func (f *RemoteFault) Error() string {
	switch {
	case f.Err != nil:
		return fmt.Sprintf("aeat: %s: %v", f.Operation, f.Err)
	case f.FaultCode != "":
		return fmt.Sprintf("aeat: %s: [%s] %s", f.Operation, f.FaultCode, f.Message)
	default:
		return fmt.Sprintf("aeat: %s: HTTP %d: %s", f.Operation, f.StatusCode, f.Message)
	}
}

func (f *RemoteFault) Unwrap() error { return f.Err }

// FaultString faultstring tal como lo envió la AEAT.
func (f *RemoteFault) FaultString() string { return f.Message }

func newSOAPFault(operation string, status int, faultCode, message string) *RemoteFault {
	f := &RemoteFault{
		Operation:  operation,
		FaultCode:  faultCode,
		Message:    strings.TrimSpace(message),
		StatusCode: status,
	}
	if m := faultCodePattern.FindStringSubmatch(f.Message); m != nil {
		f.Code = m[1]
	}
	return f
}

func transportFault(operation string, err error) *RemoteFault {
	return &RemoteFault{Operation: operation, Err: err}
}

// IsNotRecognized indica si err es el fallo VNif de identificador no
// reconocido: código AEAT -1, o el texto exacto heredado.
func IsNotRecognized(err error) bool {
	var f *RemoteFault
	if !errors.As(err, &f) {
		return false
	}
	return f.Code == NotRecognizedCode || f.Message == legacyNotRecognized
}

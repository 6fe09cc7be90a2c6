package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound           = errors.New("recurso no encontrado")
	ErrInvalidInput       = errors.New("entrada inválida")
	ErrDuplicate          = errors.New("recurso duplicado")
	ErrMapping            = errors.New("la factura no puede convertirse en registro SII")
	ErrUnknownInvoiceType = errors.New("tipo de factura desconocido")
)

// Package sii modela el registro de facturas del SII (Suministro Inmediato de
// Información) como un árbol declarativo y lo valida en una sola pasada.
//
// El árbol (campos, vocabularios, restricciones condicionales) es
// configuración de solo lectura construida en el arranque; el motor no
// contiene reglas específicas de ninguna dirección.
package sii

import (
	"fmt"
	"strings"
)

// Direction sentido de la factura: emitida o recibida.
// Determina árbol, operación remota y campos obligatorios.
type Direction int

const (
	Emitted Direction = iota + 1
	Received
)

// String devuelve el nombre estable usado en logs, métricas y persistencia.
func (d Direction) String() string {
	switch d {
	case Emitted:
		return "emitted"
	case Received:
		return "received"
	default:
		return "unknown"
	}
}

// Valid indica si la dirección es una de las dos conocidas.
func (d Direction) Valid() bool {
	return d == Emitted || d == Received
}

// ParseDirection interpreta "emitted"/"received" (también "out"/"in").
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "emitted", "out", "emitida":
		return Emitted, nil
	case "received", "in", "recibida":
		return Received, nil
	default:
		return 0, fmt.Errorf("sii: dirección desconocida %q", s)
	}
}

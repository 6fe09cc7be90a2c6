package sii

import (
	"errors"
	"fmt"
)

// ErrInvalidRecord el registro tiene al menos una violación y no puede enviarse.
var ErrInvalidRecord = errors.New("registro SII inválido")

// Códigos de regla de las violaciones.
const (
	CodeRequired      = "required"
	CodeForbidden     = "forbidden"
	CodeUnionNone     = "union_none"
	CodeUnionMultiple = "union_multiple"
	CodeAtLeastOne    = "at_least_one"
	CodeEnum          = "enum"
	CodeFormat        = "format"
	CodeMaxLength     = "max_length"
	CodeType          = "type"
	CodeMinItems      = "min_items"
	CodeCheck         = "check"
	CodeDirection     = "direction"
)

// Violation un fallo de validación localizado por ruta
// ("RegistroLRFacturasRecibidas.FacturaRecibida.FechaRegContable").
type Violation struct {
	Path    string `json:"path"`
	Code    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) Error() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// ValidatedRecord resultado de validar un registro: o bien el mapping listo
// para el transporte, o bien la lista de violaciones. Nunca ambos.
type ValidatedRecord struct {
	direction  Direction
	mapping    Mapping
	violations []Violation
}

// Direction dirección con la que se validó el registro.
func (r ValidatedRecord) Direction() Direction { return r.direction }

// Valid indica si el registro superó la validación.
func (r ValidatedRecord) Valid() bool {
	return len(r.violations) == 0 && r.mapping != nil
}

// Mapping estructura de transporte; nil si el registro no es válido.
func (r ValidatedRecord) Mapping() Mapping {
	if !r.Valid() {
		return nil
	}
	return r.mapping
}

// Violations copia de las violaciones en orden de recorrido.
func (r ValidatedRecord) Violations() []Violation {
	out := make([]Violation, len(r.violations))
	copy(out, r.violations)
	return out
}

// Err agrupa las violaciones bajo ErrInvalidRecord; nil si el registro es válido.
func (r ValidatedRecord) Err() error {
	if r.Valid() {
		return nil
	}
	if len(r.violations) == 0 {
		return fmt.Errorf("%w: registro no validado", ErrInvalidRecord)
	}
	errs := make([]error, 0, len(r.violations)+1)
	errs = append(errs, ErrInvalidRecord)
	for _, v := range r.violations {
		errs = append(errs, v)
	}
	return errors.Join(errs...)
}

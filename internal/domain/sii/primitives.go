package sii

import (
	"fmt"
	"strconv"
	"time"

	"github.com/n1ngu/sii/pkg/sii"
)

// DateLayout formato de fecha del SII (dd-mm-aaaa).
const DateLayout = "02-01-2006"

// FormatDate formatea una fecha con el layout del SII.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// ParseDate interpreta una fecha dd-mm-aaaa.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("fecha %q no tiene formato dd-mm-aaaa", s)
	}
	return t, nil
}

// CheckNIF comprueba el formato y el carácter de control de un NIF español.
func CheckNIF(s string) error { return sii.ValidateNIF(s) }

// CheckYear ejercicio de cuatro dígitos.
func CheckYear(s string) error {
	if len(s) != 4 {
		return fmt.Errorf("el ejercicio %q debe tener cuatro dígitos", s)
	}
	if _, err := strconv.Atoi(s); err != nil {
		return fmt.Errorf("el ejercicio %q debe ser numérico", s)
	}
	return nil
}

// CheckCountry código de país ISO 3166-1 alfa-2 en mayúsculas.
func CheckCountry(s string) error {
	if len(s) != 2 || s[0] < 'A' || s[0] > 'Z' || s[1] < 'A' || s[1] > 'Z' {
		return fmt.Errorf("el código de país %q debe tener dos letras mayúsculas", s)
	}
	return nil
}

// toFloat acepta los numéricos que un llamador puede poner en Values.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case interface{ Float64() (float64, error) }:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// text representación textual de una hoja para comparar con códigos.
func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return fmt.Sprint(v)
	}
}

func asValues(v any) (Values, bool) {
	switch t := v.(type) {
	case Values:
		return t, true
	case map[string]any:
		return Values(t), true
	default:
		return nil, false
	}
}

func asList(v any) ([]Values, bool) {
	switch t := v.(type) {
	case []Values:
		return t, true
	case []map[string]any:
		out := make([]Values, len(t))
		for i, m := range t {
			out[i] = Values(m)
		}
		return out, true
	case []any:
		out := make([]Values, len(t))
		for i, e := range t {
			m, ok := asValues(e)
			if !ok {
				return nil, false
			}
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

// absent un campo sin valor o con texto vacío cuenta como no informado.
func absent(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case Values:
		return t == nil
	case []Values:
		return t == nil
	default:
		return false
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

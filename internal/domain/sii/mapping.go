package sii

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Values instancia poblada de un registro: claves con el nombre de campo del
// esquema. Los registros anidados son Values, las listas []Values y las hojas
// string o float64.
type Values map[string]any

// Entry par clave/valor de un Mapping.
type Entry struct {
	Key   string
	Value any
}

// Mapping estructura anidada clave/valor lista para el transporte. Conserva el
// orden del árbol del modelo. Los valores son string, float64, Mapping o
// []Mapping. Las respuestas remotas pueden traer además []any cuando un
// elemento se repite con copias de texto.
type Mapping []Entry

// Get devuelve el valor de key en este nivel.
func (m Mapping) Get(key string) (any, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Record devuelve el submapping de key, si existe y es un registro.
func (m Mapping) Record(key string) (Mapping, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	sub, ok := v.(Mapping)
	return sub, ok
}

// Records devuelve la lista de submappings de key. Un registro suelto se
// devuelve como lista de un elemento; de una lista mixta solo los registros.
func (m Mapping) Records(key string) []Mapping {
	v, ok := m.Get(key)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []Mapping:
		return t
	case Mapping:
		return []Mapping{t}
	case []any:
		var out []Mapping
		for _, item := range t {
			if r, ok := item.(Mapping); ok {
				out = append(out, r)
			}
		}
		return out
	default:
		return nil
	}
}

// Text devuelve el valor de key como texto ("" si no existe). Si key se
// repite, el primer valor de texto.
func (m Mapping) Text(key string) string {
	if texts := m.Texts(key); len(texts) > 0 {
		return texts[0]
	}
	return ""
}

// Texts devuelve todos los valores de texto de key, en orden.
func (m Mapping) Texts(key string) []string {
	v, ok := m.Get(key)
	if !ok {
		return nil
	}
	if list, ok := v.([]any); ok {
		var out []string
		for _, item := range list {
			if s, ok := scalarText(item); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := scalarText(v); ok {
		return []string{s}
	}
	return nil
}

func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Path recorre claves anidadas ("RespuestaLinea", "EstadoRegistro").
func (m Mapping) Path(keys ...string) (any, bool) {
	var cur any = m
	for _, k := range keys {
		mm, ok := cur.(Mapping)
		if !ok {
			return nil, false
		}
		if cur, ok = mm.Get(k); !ok {
			return nil, false
		}
	}
	return cur, true
}

// MarshalJSON serializa respetando el orden de las claves.
func (m Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

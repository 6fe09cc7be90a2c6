package sii

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validate recorre la instancia contra el esquema en profundidad y devuelve
// el mapping de transporte (bajo la clave del sobre de la dirección) o la
// lista de violaciones. No guarda estado: puede llamarse en paralelo con el
// mismo esquema.
func Validate(schema *Schema, rec Values) ValidatedRecord {
	w := &walker{}
	out := w.record(schema.Root, rec, "", nil)
	if len(w.violations) > 0 {
		return ValidatedRecord{direction: schema.Direction, violations: w.violations}
	}
	env := Mapping{{Key: schema.Envelope, Value: out}}
	return ValidatedRecord{direction: schema.Direction, mapping: env}
}

type walker struct {
	violations []Violation
}

func (w *walker) add(path, code, format string, args ...any) {
	w.violations = append(w.violations, Violation{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

// scope un registro ya recorrido, visible para las condiciones de sus hijos.
type scope struct {
	node   *Node
	vals   Values
	parent *scope
}

// lookup resuelve ref del registro más cercano hacia la raíz. El primer
// registro cuyo esquema declara el campo decide, esté informado o no.
func (s *scope) lookup(ref []string) (any, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if sc.node.index(ref[0]) < 0 {
			continue
		}
		v, ok := sc.vals[ref[0]]
		if !ok || absent(v) {
			return nil, false
		}
		for _, seg := range ref[1:] {
			m, ok := asValues(v)
			if !ok {
				return nil, false
			}
			if v, ok = m[seg]; !ok || absent(v) {
				return nil, false
			}
		}
		return v, true
	}
	return nil, false
}

func (p Predicate) holds(sc *scope) bool {
	v, ok := sc.lookup(p.ref)
	in := ok && contains(p.values, text(v))
	if p.negate {
		return !in
	}
	return in
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func (w *walker) record(n *Node, vals Values, path string, parent *scope) Mapping {
	sc := &scope{node: n, vals: vals, parent: parent}
	present := func(name string) bool {
		v, ok := vals[name]
		return ok && !absent(v)
	}

	if n.Kind == KindUnion {
		names := make([]string, len(n.Fields))
		for i, f := range n.Fields {
			names[i] = f.Name
		}
		w.exactlyOne(path, names, present)
	}
	for _, g := range n.Groups {
		switch g.Mode {
		case GroupExactlyOne:
			w.exactlyOne(path, g.Names, present)
		case GroupAtLeastOne:
			if countPresent(g.Names, present) == 0 {
				w.add(path, CodeAtLeastOne, "debe informarse al menos uno de %s", strings.Join(g.Names, ", "))
			}
		}
	}

	out := make(Mapping, 0, len(n.Fields))
	for _, f := range n.Fields {
		fp := join(path, f.Name)
		raw := vals[f.Name]
		has := present(f.Name)
		required := f.Required
		var allowed []string
		for _, c := range f.When {
			if !c.If.holds(sc) {
				continue
			}
			switch c.Effect {
			case EffectRequire:
				required = true
			case EffectForbid:
				if has {
					w.add(fp, CodeForbidden, "%s no debe informarse cuando %s", f.Label, c.If.describe())
					has = false
				}
			case EffectRestrict:
				allowed = c.Values
			}
		}
		if !has {
			if required {
				w.add(fp, CodeRequired, "falta el campo obligatorio %s", fp)
			}
			continue
		}
		if v, ok := w.value(f, raw, fp, sc, allowed); ok {
			out = append(out, Entry{Key: f.Name, Value: v})
		}
	}

	for _, r := range n.Rules {
		args := make([]any, len(r.Refs))
		for i, ref := range r.Refs {
			args[i], _ = sc.lookup(strings.Split(ref, "."))
		}
		if err := r.Check(args); err != nil {
			w.add(path, CodeCheck, "%s", err.Error())
		}
	}
	return out
}

func countPresent(names []string, present func(string) bool) int {
	n := 0
	for _, name := range names {
		if present(name) {
			n++
		}
	}
	return n
}

func (w *walker) exactlyOne(path string, names []string, present func(string) bool) {
	switch countPresent(names, present) {
	case 0:
		w.add(path, CodeUnionNone, "debe informarse exactamente uno de %s y no se informó ninguno", strings.Join(names, ", "))
	case 1:
	default:
		var got []string
		for _, name := range names {
			if present(name) {
				got = append(got, name)
			}
		}
		w.add(path, CodeUnionMultiple, "debe informarse exactamente uno de %s y se informaron %s", strings.Join(names, ", "), strings.Join(got, ", "))
	}
}

func (w *walker) value(f *Node, raw any, path string, sc *scope, allowed []string) (any, bool) {
	switch f.Kind {
	case KindFloat:
		v, ok := toFloat(raw)
		if !ok {
			w.add(path, CodeType, "%s debe ser numérico", f.Label)
			return nil, false
		}
		return v, true

	case KindString, KindDate, KindEnum:
		s, ok := raw.(string)
		if !ok {
			w.add(path, CodeType, "%s debe ser texto", f.Label)
			return nil, false
		}
		return w.leaf(f, s, path, allowed)

	case KindRecord, KindUnion:
		vals, ok := asValues(raw)
		if !ok {
			w.add(path, CodeType, "%s debe ser un registro", f.Label)
			return nil, false
		}
		return w.record(f, vals, path, sc), true

	case KindList:
		items, ok := asList(raw)
		if !ok {
			w.add(path, CodeType, "%s debe ser una lista de registros", f.Label)
			return nil, false
		}
		if len(items) < f.MinItems {
			w.add(path, CodeMinItems, "%s requiere al menos %d elemento(s)", f.Label, f.MinItems)
			return nil, false
		}
		out := make([]Mapping, len(items))
		for i, item := range items {
			out[i] = w.record(f, item, fmt.Sprintf("%s[%d]", path, i), sc)
		}
		return out, true
	}
	w.add(path, CodeType, "tipo de nodo desconocido %s", f.Kind)
	return nil, false
}

func (w *walker) leaf(f *Node, s, path string, allowed []string) (any, bool) {
	ok := true
	switch f.Kind {
	case KindDate:
		if _, err := ParseDate(s); err != nil {
			w.add(path, CodeFormat, "%s: %s", f.Label, err.Error())
			ok = false
		}
	case KindEnum:
		if !f.Vocabulary.Contains(s) {
			w.add(path, CodeEnum, "%s", f.Vocabulary.InvalidMessage(s))
			ok = false
		}
	}
	if ok && allowed != nil && !contains(allowed, s) {
		w.add(path, CodeEnum, "El valor %q de %s no está permitido en este contexto (admitidos: %s)", s, f.Label, strings.Join(allowed, ", "))
		ok = false
	}
	if f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
		w.add(path, CodeMaxLength, "%s admite como máximo %d caracteres", f.Label, f.MaxLength)
		ok = false
	}
	for _, check := range f.Checks {
		if err := check(s); err != nil {
			w.add(path, CodeFormat, "%s: %s", f.Label, err.Error())
			ok = false
		}
	}
	return s, ok
}

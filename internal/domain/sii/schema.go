package sii

import (
	"fmt"
	"strings"

	"github.com/n1ngu/sii/pkg/sii"
)

// Kind tipo de nodo del árbol.
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindDate
	KindEnum
	KindRecord
	KindList
	KindUnion
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	case KindEnum:
		return "enum"
	case KindRecord:
		return "record"
	case KindList:
		return "list"
	case KindUnion:
		return "union"
	default:
		return "unknown"
	}
}

// LeafCheck validación de formato sobre el texto de una hoja.
type LeafCheck func(string) error

// Node un campo del árbol. Registros, listas y uniones tienen hijos en
// Fields; en una lista, Fields describe cada elemento. En una unión se exige
// exactamente un hijo informado.
type Node struct {
	Name       string
	Label      string
	Kind       Kind
	Required   bool
	MaxLength  int
	MinItems   int
	Vocabulary *sii.Vocabulary
	Checks     []LeafCheck
	Fields     []*Node
	Groups     []Group
	When       []Constraint
	Rules      []Rule
}

// String hoja de texto libre. maxLen 0 significa sin límite.
func String(name, label string, maxLen int) *Node {
	return &Node{Name: name, Label: label, Kind: KindString, MaxLength: maxLen}
}

// Float hoja numérica.
func Float(name, label string) *Node {
	return &Node{Name: name, Label: label, Kind: KindFloat}
}

// Date hoja de fecha en formato dd-mm-aaaa.
func Date(name, label string) *Node {
	return &Node{Name: name, Label: label, Kind: KindDate}
}

// Enum hoja restringida a un vocabulario cerrado.
func Enum(name string, vocab *sii.Vocabulary) *Node {
	return &Node{Name: name, Label: vocab.Label, Kind: KindEnum, Vocabulary: vocab}
}

// Record registro anidado con campos en el orden dado.
func Record(name, label string, fields ...*Node) *Node {
	return &Node{Name: name, Label: label, Kind: KindRecord, Fields: fields}
}

// List lista ordenada no vacía de registros con los campos dados.
func List(name, label string, fields ...*Node) *Node {
	return &Node{Name: name, Label: label, Kind: KindList, MinItems: 1, Fields: fields}
}

// Union exactamente una de las variantes debe estar informada.
func Union(name, label string, variants ...*Node) *Node {
	return &Node{Name: name, Label: label, Kind: KindUnion, Fields: variants}
}

// Mandatory marca el campo como obligatorio.
func (n *Node) Mandatory() *Node {
	n.Required = true
	return n
}

// Check añade validaciones de formato a una hoja.
func (n *Node) Check(checks ...LeafCheck) *Node {
	n.Checks = append(n.Checks, checks...)
	return n
}

// If añade restricciones condicionales sobre la presencia o los valores del campo.
func (n *Node) If(cs ...Constraint) *Node {
	n.When = append(n.When, cs...)
	return n
}

// ExactlyOneOf exige que se informe exactamente uno de los campos indicados.
func (n *Node) ExactlyOneOf(names ...string) *Node {
	n.Groups = append(n.Groups, Group{Mode: GroupExactlyOne, Names: names})
	return n
}

// AtLeastOneOf exige que se informe al menos uno de los campos indicados.
func (n *Node) AtLeastOneOf(names ...string) *Node {
	n.Groups = append(n.Groups, Group{Mode: GroupAtLeastOne, Names: names})
	return n
}

// Verify añade una regla de registro que se evalúa tras validar sus campos.
func (n *Node) Verify(rules ...Rule) *Node {
	n.Rules = append(n.Rules, rules...)
	return n
}

// Field devuelve el hijo con ese nombre.
func (n *Node) Field(name string) (*Node, bool) {
	i := n.index(name)
	if i < 0 {
		return nil, false
	}
	return n.Fields[i], true
}

func (n *Node) index(name string) int {
	for i, f := range n.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (n *Node) composite() bool {
	return n.Kind == KindRecord || n.Kind == KindList || n.Kind == KindUnion
}

// GroupMode cardinalidad de un grupo de campos hermanos.
type GroupMode int

const (
	GroupExactlyOne GroupMode = iota
	GroupAtLeastOne
)

// Group restricción de cardinalidad sobre campos hermanos.
type Group struct {
	Mode  GroupMode
	Names []string
}

// Effect efecto de una restricción condicional cuando su predicado se cumple.
type Effect int

const (
	EffectRequire Effect = iota
	EffectForbid
	EffectRestrict
)

// Predicate compara el valor de otro campo (ruta con puntos, resuelta desde
// el registro actual hacia los ancestros) con un conjunto de códigos.
type Predicate struct {
	ref    []string
	values []string
	negate bool
}

// When inicia un predicado sobre el campo referenciado.
func When(ref string) Predicate {
	return Predicate{ref: strings.Split(ref, ".")}
}

// In se cumple si el campo está informado con uno de los valores.
func (p Predicate) In(values ...string) Predicate {
	p.values = values
	p.negate = false
	return p
}

// NotIn se cumple si el campo no está informado o tiene otro valor.
func (p Predicate) NotIn(values ...string) Predicate {
	p.values = values
	p.negate = true
	return p
}

// Require hace obligatorio el campo cuando se cumple el predicado.
func (p Predicate) Require() Constraint {
	return Constraint{If: p, Effect: EffectRequire}
}

// Forbid prohíbe el campo cuando se cumple el predicado.
func (p Predicate) Forbid() Constraint {
	return Constraint{If: p, Effect: EffectForbid}
}

// Restrict limita los valores admitidos del campo cuando se cumple el predicado.
func (p Predicate) Restrict(values ...string) Constraint {
	return Constraint{If: p, Effect: EffectRestrict, Values: values}
}

// Ref ruta referenciada por el predicado.
func (p Predicate) Ref() string { return strings.Join(p.ref, ".") }

func (p Predicate) describe() string {
	op := "es"
	if p.negate {
		op = "no es"
	}
	return fmt.Sprintf("%s %s %s", p.Ref(), op, strings.Join(p.values, "/"))
}

// Constraint restricción condicional de un campo.
type Constraint struct {
	If     Predicate
	Effect Effect
	Values []string
}

// Rule comprobación sobre varios campos de un registro. Args llega en el
// orden de Refs, con nil para los campos no informados.
type Rule struct {
	Name  string
	Refs  []string
	Check func(args []any) error
}

// Schema árbol completo de una dirección, ya compilado.
type Schema struct {
	Direction Direction
	Version   string
	Envelope  string
	RecordKey string
	Root      *Node
}

// NewSchema compila el árbol de una dirección. Root es el registro sobre el
// que se valida cada instancia (la cabecera y el registro de factura).
func NewSchema(d Direction, version, recordKey string, root *Node) (*Schema, error) {
	if root == nil {
		return nil, fmt.Errorf("sii: esquema %s sin raíz", d)
	}
	s := &Schema{Direction: d, Version: version, Envelope: root.Name, RecordKey: recordKey, Root: root}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return s, nil
}

// compile recorre el árbol y rechaza referencias que apunten a campos
// inexistentes o posteriores al campo que las usa.
func (s *Schema) compile() error {
	if !s.Root.composite() {
		return fmt.Errorf("sii: esquema %s sin raíz compuesta", s.Direction)
	}
	return compileNode(s.Root, nil, s.Root.Name)
}

type frame struct {
	node *Node
	pos  int // campos con índice < pos son visibles
}

func compileNode(n *Node, stack []frame, path string) error {
	for _, g := range n.Groups {
		for _, name := range g.Names {
			if n.index(name) < 0 {
				return fmt.Errorf("sii: %s: grupo referencia campo inexistente %q", path, name)
			}
		}
	}
	for i, f := range n.Fields {
		fp := path + "." + f.Name
		inner := append(stack[:len(stack):len(stack)], frame{node: n, pos: i})
		for _, c := range f.When {
			if err := resolveStatic(inner, c.If.ref); err != nil {
				return fmt.Errorf("sii: %s: condición sobre %s: %w", fp, c.If.Ref(), err)
			}
			if c.Effect == EffectRestrict && f.Kind != KindEnum && f.Kind != KindString {
				return fmt.Errorf("sii: %s: restricción de valores sobre campo %s", fp, f.Kind)
			}
		}
		if f.Kind == KindEnum && f.Vocabulary == nil {
			return fmt.Errorf("sii: %s: enumerado sin vocabulario", fp)
		}
		if f.composite() {
			if len(f.Fields) == 0 {
				return fmt.Errorf("sii: %s: %s sin campos", fp, f.Kind)
			}
			if err := compileNode(f, inner, fp); err != nil {
				return err
			}
		}
	}
	all := append(stack[:len(stack):len(stack)], frame{node: n, pos: len(n.Fields)})
	for _, r := range n.Rules {
		for _, ref := range r.Refs {
			if err := resolveStatic(all, strings.Split(ref, ".")); err != nil {
				return fmt.Errorf("sii: %s: regla %s sobre %s: %w", path, r.Name, ref, err)
			}
		}
	}
	return nil
}

// resolveStatic aplica la misma resolución que el motor: el primer segmento se
// busca del registro más cercano al más lejano; el resto desciende.
func resolveStatic(stack []frame, ref []string) error {
	for i := len(stack) - 1; i >= 0; i-- {
		fr := stack[i]
		idx := fr.node.index(ref[0])
		if idx < 0 {
			continue
		}
		if idx >= fr.pos {
			return fmt.Errorf("referencia adelantada a %s", ref[0])
		}
		cur := fr.node.Fields[idx]
		for _, seg := range ref[1:] {
			if cur.Kind == KindList {
				return fmt.Errorf("referencia a través de la lista %s", cur.Name)
			}
			next, ok := cur.Field(seg)
			if !ok {
				return fmt.Errorf("campo %s inexistente en %s", seg, cur.Name)
			}
			cur = next
		}
		return nil
	}
	return fmt.Errorf("campo %s inexistente", ref[0])
}

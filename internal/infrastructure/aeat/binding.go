package aeat

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"

	"github.com/n1ngu/sii/internal/domain/sii"
)

// Espacios de nombres de los WSDL/XSD de la AEAT.
const (
	NamespaceSOAP   = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceSiiLR  = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/ssii/fact/ws/SuministroLR.xsd"
	NamespaceSii    = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/ssii/fact/ws/SuministroInformacion.xsd"
	NamespaceVNifV1 = "http://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/burt/jdit/ws/VNifV1Ent.xsd"
	NamespaceVNifV2 = "http://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/burt/jdit/ws/VNifV2Ent.xsd"
)

type namespace struct {
	prefix string
	uri    string
}

// binding cómo se serializa el cuerpo de una operación: elemento raíz,
// espacios de nombres y prefijo de cada elemento.
type binding struct {
	root       string
	namespaces []namespace
	// elementos declarados en el primer espacio de nombres; el resto va en el segundo
	first map[string]bool
}

func (b binding) qualified(name string) string {
	if len(b.namespaces) == 1 || b.first[name] {
		return b.namespaces[0].prefix + ":" + name
	}
	return b.namespaces[1].prefix + ":" + name
}

func supplyBinding(root, recordKey, invoiceKey string) binding {
	return binding{
		root:       root,
		namespaces: []namespace{{"siiLR", NamespaceSiiLR}, {"sii", NamespaceSii}},
		first:      map[string]bool{root: true, recordKey: true, "IDFactura": true, invoiceKey: true},
	}
}

var bindings = map[string]binding{
	sii.EnvelopeEmitted:  supplyBinding(sii.EnvelopeEmitted, sii.RecordKeyEmitted, sii.InvoiceKeyEmitted),
	sii.EnvelopeReceived: supplyBinding(sii.EnvelopeReceived, sii.RecordKeyReceived, sii.InvoiceKeyReceived),
	"VNifV1":             {root: "VNifV1Ent", namespaces: []namespace{{"vnif", NamespaceVNifV1}}},
	"VNifV2":             {root: "VNifV2Ent", namespaces: []namespace{{"vnif", NamespaceVNifV2}}},
}

func bindingFor(operation string) (binding, error) {
	b, ok := bindings[operation]
	if !ok {
		return binding{}, fmt.Errorf("%w: %s", ErrUnknownOperation, operation)
	}
	return b, nil
}

// envelope construye el sobre SOAP 1.1 con body como contenido de la operación.
func (b binding) envelope(body sii.Mapping) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", NamespaceSOAP)
	for _, ns := range b.namespaces {
		env.CreateAttr("xmlns:"+ns.prefix, ns.uri)
	}
	env.CreateElement("soapenv:Header")
	root := env.CreateElement("soapenv:Body").CreateElement(b.qualified(b.root))
	b.encode(root, body)
	return doc
}

func (b binding) encode(parent *etree.Element, m sii.Mapping) {
	for _, e := range m {
		tag := b.qualified(e.Key)
		switch v := e.Value.(type) {
		case sii.Mapping:
			b.encode(parent.CreateElement(tag), v)
		case []sii.Mapping:
			for _, item := range v {
				b.encode(parent.CreateElement(tag), item)
			}
		case []any:
			for _, item := range v {
				b.encode(parent, sii.Mapping{{Key: e.Key, Value: item}})
			}
		case string:
			parent.CreateElement(tag).SetText(v)
		case float64:
			parent.CreateElement(tag).SetText(strconv.FormatFloat(v, 'f', 2, 64))
		default:
			parent.CreateElement(tag).SetText(fmt.Sprint(v))
		}
	}
}

// decode convierte un elemento de respuesta en Mapping sin perder contenido.
// Los hermanos repetidos se agrupan en orden de documento: []Mapping si todas
// las copias tienen hijos, []any en cualquier otro caso. Las hojas son texto.
func decode(el *etree.Element) sii.Mapping {
	var out sii.Mapping
	seen := map[string]int{}
	for _, c := range el.ChildElements() {
		var v any
		if len(c.ChildElements()) > 0 {
			v = decode(c)
		} else {
			v = c.Text()
		}
		i, dup := seen[c.Tag]
		if !dup {
			seen[c.Tag] = len(out)
			out = append(out, sii.Entry{Key: c.Tag, Value: v})
			continue
		}
		out[i].Value = appendRepeated(out[i].Value, v)
	}
	return out
}

func appendRepeated(prev, v any) any {
	m, isRecord := v.(sii.Mapping)
	switch p := prev.(type) {
	case []sii.Mapping:
		if isRecord {
			return append(p, m)
		}
		items := make([]any, 0, len(p)+1)
		for _, r := range p {
			items = append(items, r)
		}
		return append(items, v)
	case []any:
		return append(p, v)
	case sii.Mapping:
		if isRecord {
			return []sii.Mapping{p, m}
		}
	}
	return []any{prev, v}
}

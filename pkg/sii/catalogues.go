// Package sii contiene los catálogos y las validaciones de formato del
// Suministro Inmediato de Información (SII) de la AEAT.
//
// Los catálogos se publican por versión de esquema y se cargan desde YAML
// embebido: una actualización normativa es un cambio de datos, no de código.
package sii

import (
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalogues/*.yaml
var catalogueFS embed.FS

// DefaultVersion versión de catálogo usada si la configuración no indica otra.
const DefaultVersion = "0.7"

// Nombres de los vocabularios que el modelo de registro necesita.
const (
	VocabSIIVersion        = "version_sii"
	VocabCommunicationType = "tipo_comunicacion"
	VocabInvoiceType       = "tipo_factura"
	VocabNonExemptType     = "tipo_no_exenta"
	VocabRectificationType = "tipo_rectificativa"
	VocabExemptionCause    = "causa_exencion"
	VocabPeriod            = "periodo"
	VocabREAGYPPercent     = "porcentaje_compensacion_reagyp"
	VocabRegimeEmitted     = "clave_regimen_emitidas"
	VocabRegimeReceived    = "clave_regimen_recibidas"
	VocabIDType            = "id_type"
)

// Códigos con significado propio en las reglas condicionales.
const (
	RectificationSubstitution = "S"  // TipoRectificativa por sustitución
	RegimeREAGYP              = "02" // Clave de régimen de compensaciones REAGYP (recibidas)
	RegimeExport              = "02" // Exportación (emitidas)
	ExemptionExport           = "E2" // Exenta por el artículo 21
	CommunicationRegister     = "A0" // Alta de facturas
	NonExemptWithoutISP       = "S1"
	NonExemptWithISP          = "S2"
)

// ErrUnknownVersion la versión de catálogo solicitada no está embebida.
var ErrUnknownVersion = errors.New("sii: versión de catálogo desconocida")

// Entry un código de un vocabulario cerrado con su descripción oficial.
type Entry struct {
	Code        string `yaml:"code"`
	Description string `yaml:"description"`
}

// Vocabulary lista cerrada de códigos. Inmutable una vez cargada.
type Vocabulary struct {
	Name  string  `yaml:"name"`
	Label string  `yaml:"label"`
	Error string  `yaml:"error,omitempty"` // plantilla con {input}; opcional
	Items []Entry `yaml:"items"`

	index map[string]string
}

// Contains indica si code pertenece al vocabulario.
func (v *Vocabulary) Contains(code string) bool {
	_, ok := v.index[code]
	return ok
}

// Description devuelve la descripción oficial del código.
func (v *Vocabulary) Description(code string) (string, bool) {
	d, ok := v.index[code]
	return d, ok
}

// Codes devuelve los códigos ordenados.
func (v *Vocabulary) Codes() []string {
	out := make([]string, 0, len(v.Items))
	for _, it := range v.Items {
		out = append(out, it.Code)
	}
	sort.Strings(out)
	return out
}

// InvalidMessage formatea el mensaje de error para un valor fuera del vocabulario.
// Si el vocabulario no define plantilla propia se usa una genérica con la etiqueta.
func (v *Vocabulary) InvalidMessage(input string) string {
	if v.Error != "" {
		return strings.ReplaceAll(v.Error, "{input}", input)
	}
	return fmt.Sprintf("El valor %q no es válido para %s", input, v.Label)
}

// Catalogue conjunto de vocabularios de una versión de esquema.
type Catalogue struct {
	Version      string        `yaml:"version"`
	Vocabularies []*Vocabulary `yaml:"vocabularies"`

	byName map[string]*Vocabulary
}

// Vocabulary devuelve el vocabulario por nombre.
func (c *Catalogue) Vocabulary(name string) (*Vocabulary, bool) {
	v, ok := c.byName[name]
	return v, ok
}

// MustVocabulary igual que Vocabulary pero entra en pánico si no existe.
// Pensado para la construcción del modelo en el arranque.
func (c *Catalogue) MustVocabulary(name string) *Vocabulary {
	v, ok := c.byName[name]
	if !ok {
		panic(fmt.Sprintf("sii: vocabulario %q no definido en catálogo %s", name, c.Version))
	}
	return v
}

// LoadCatalogue carga el catálogo embebido de la versión indicada ("0.7").
func LoadCatalogue(version string) (*Catalogue, error) {
	if version == "" {
		version = DefaultVersion
	}
	file := "catalogues/v" + strings.ReplaceAll(version, ".", "") + ".yaml"
	data, err := catalogueFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue interpreta un catálogo en YAML y construye los índices.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("sii: parsear catálogo: %w", err)
	}
	if c.Version == "" {
		return nil, fmt.Errorf("sii: catálogo sin versión")
	}
	c.byName = make(map[string]*Vocabulary, len(c.Vocabularies))
	for _, v := range c.Vocabularies {
		if v.Name == "" {
			return nil, fmt.Errorf("sii: vocabulario sin nombre en catálogo %s", c.Version)
		}
		if _, dup := c.byName[v.Name]; dup {
			return nil, fmt.Errorf("sii: vocabulario %q duplicado", v.Name)
		}
		v.index = make(map[string]string, len(v.Items))
		for _, it := range v.Items {
			if _, dup := v.index[it.Code]; dup {
				return nil, fmt.Errorf("sii: código %q duplicado en %s", it.Code, v.Name)
			}
			v.index[it.Code] = it.Description
		}
		c.byName[v.Name] = v
	}
	return &c, nil
}

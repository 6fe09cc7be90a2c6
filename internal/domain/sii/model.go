package sii

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/n1ngu/sii/pkg/sii"
)

// Claves de transporte fijas del suministro.
const (
	HeaderKey          = "Cabecera"
	EnvelopeEmitted    = "SuministroLRFacturasEmitidas"
	EnvelopeReceived   = "SuministroLRFacturasRecibidas"
	RecordKeyEmitted   = "RegistroLRFacturasEmitidas"
	RecordKeyReceived  = "RegistroLRFacturasRecibidas"
	InvoiceKeyEmitted  = "FacturaExpedida"
	InvoiceKeyReceived = "FacturaRecibida"
)

const (
	maxNameLength      = 120
	maxNumberLength    = 60
	maxDescriptionLen  = 500
	maxForeignIDLength = 20
	compensationMargin = 0.01
)

// ErrUnknownDirection la dirección no corresponde a ningún árbol del modelo.
var ErrUnknownDirection = errors.New("sii: dirección desconocida")

var (
	// RectifyingTypes tipos de factura rectificativa.
	RectifyingTypes = []string{"R1", "R2", "R3", "R4", "R5"}
	// TypesWithoutCounterparty facturas emitidas que no identifican al destinatario.
	TypesWithoutCounterparty = []string{"F2", "F4"}
)

// Model los dos árboles (emitidas y recibidas) construidos sobre un catálogo.
// Solo lectura tras NewModel.
type Model struct {
	catalogue *sii.Catalogue
	emitted   *Schema
	received  *Schema
}

// NewModel construye y compila los árboles de ambas direcciones. Falla si
// alguna condición referencia un campo inexistente o posterior.
func NewModel(cat *sii.Catalogue) (m *Model, err error) {
	if cat == nil {
		return nil, fmt.Errorf("sii: catálogo nulo")
	}
	defer func() {
		// MustVocabulary entra en pánico con catálogos incompletos.
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("%v", r)
		}
	}()
	b := builder{cat: cat}
	m = &Model{catalogue: cat}
	if m.emitted, err = b.emitted(); err != nil {
		return nil, err
	}
	if m.received, err = b.received(); err != nil {
		return nil, err
	}
	return m, nil
}

// Catalogue catálogo con el que se construyó el modelo.
func (m *Model) Catalogue() *sii.Catalogue { return m.catalogue }

// Version versión de esquema SII del modelo.
func (m *Model) Version() string { return m.catalogue.Version }

// Schema árbol de la dirección indicada.
func (m *Model) Schema(d Direction) (*Schema, error) {
	switch d {
	case Emitted:
		return m.emitted, nil
	case Received:
		return m.received, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownDirection, d)
	}
}

// Validate valida la instancia con el árbol de su dirección.
func (m *Model) Validate(d Direction, rec Values) ValidatedRecord {
	s, err := m.Schema(d)
	if err != nil {
		return ValidatedRecord{direction: d, violations: []Violation{{Code: CodeDirection, Message: err.Error()}}}
	}
	return Validate(s, rec)
}

type builder struct {
	cat *sii.Catalogue
}

func (b builder) vocab(name string) *sii.Vocabulary { return b.cat.MustVocabulary(name) }

func (b builder) header() *Node {
	return Record(HeaderKey, "Cabecera",
		Enum("IDVersionSii", b.vocab(sii.VocabSIIVersion)).Mandatory(),
		Record("Titular", "Titular del libro",
			String("NombreRazon", "Nombre o razón social del titular", maxNameLength).Mandatory(),
			String("NIF", "NIF del titular", sii.NIFLength).Mandatory().Check(CheckNIF),
		).Mandatory(),
		Enum("TipoComunicacion", b.vocab(sii.VocabCommunicationType)).Mandatory(),
	).Mandatory()
}

func (b builder) period() *Node {
	return Record("PeriodoImpositivo", "Periodo impositivo",
		String("Ejercicio", "Ejercicio", 4).Mandatory().Check(CheckYear),
		Enum("Periodo", b.vocab(sii.VocabPeriod)).Mandatory(),
	).Mandatory()
}

func (b builder) foreignID() *Node {
	return Record("IDOtro", "Identificación en el país de residencia",
		String("CodigoPais", "Código de país", 2).Check(CheckCountry),
		Enum("IDType", b.vocab(sii.VocabIDType)).Mandatory(),
		String("ID", "Número de identificación", maxForeignIDLength).Mandatory(),
	)
}

func (b builder) invoiceID(d Direction) *Node {
	issuer := Record("IDEmisorFactura", "Emisor de la factura",
		String("NIF", "NIF del emisor", sii.NIFLength).Check(CheckNIF),
	).Mandatory()
	if d == Emitted {
		issuer.Fields[0].Mandatory()
	} else {
		issuer.Fields = append(issuer.Fields, b.foreignID())
		issuer.ExactlyOneOf("NIF", "IDOtro")
	}
	return Record("IDFactura", "Identificación de la factura",
		issuer,
		String("NumSerieFacturaEmisor", "Número y serie de la factura", maxNumberLength).Mandatory(),
		Date("FechaExpedicionFacturaEmisor", "Fecha de expedición").Mandatory(),
	).Mandatory()
}

func (b builder) counterparty() *Node {
	return Record("Contraparte", "Contraparte",
		String("NombreRazon", "Nombre o razón social de la contraparte", maxNameLength).Mandatory(),
		String("NIF", "NIF de la contraparte", sii.NIFLength).Check(CheckNIF),
		b.foreignID(),
	).ExactlyOneOf("NIF", "IDOtro")
}

// rectification campos comunes de facturas rectificativas.
func (b builder) rectification() []*Node {
	return []*Node{
		Enum("TipoRectificativa", b.vocab(sii.VocabRectificationType)).If(
			When("TipoFactura").In(RectifyingTypes...).Require(),
			When("TipoFactura").NotIn(RectifyingTypes...).Forbid(),
		),
		Record("ImporteRectificacion", "Importe rectificado",
			Float("BaseRectificada", "Base imponible rectificada").Mandatory(),
			Float("CuotaRectificada", "Cuota rectificada").Mandatory(),
			Float("CuotaRecargoRectificado", "Cuota de recargo rectificada"),
		).If(When("TipoRectificativa").In(sii.RectificationSubstitution).Require()),
	}
}

func (b builder) emitted() (*Schema, error) {
	fields := []*Node{Enum("TipoFactura", b.vocab(sii.VocabInvoiceType)).Mandatory()}
	fields = append(fields, b.rectification()...)
	fields = append(fields,
		Enum("ClaveRegimenEspecialOTrascendencia", b.vocab(sii.VocabRegimeEmitted)).Mandatory(),
		Float("ImporteTotal", "Importe total"),
		String("DescripcionOperacion", "Descripción de la operación", maxDescriptionLen).Mandatory(),
		b.counterparty().If(When("TipoFactura").NotIn(TypesWithoutCounterparty...).Require()),
		Union("TipoDesglose", "Tipo de desglose",
			b.emittedBreakdown("DesgloseFactura", "Desglose de la factura"),
			Record("DesgloseTipoOperacion", "Desglose por tipo de operación",
				b.emittedBreakdown("PrestacionServicios", "Prestación de servicios"),
				b.emittedBreakdown("Entrega", "Entrega de bienes"),
			).AtLeastOneOf("PrestacionServicios", "Entrega"),
		).Mandatory(),
	)

	registro := Record(RecordKeyEmitted, "Registro de factura emitida",
		b.period(),
		b.invoiceID(Emitted),
		Record(InvoiceKeyEmitted, "Factura expedida", fields...).Mandatory(),
	).Mandatory().Verify(Rule{
		Name:  "emisor_titular",
		Refs:  []string{"Cabecera.Titular.NIF", "IDFactura.IDEmisorFactura.NIF"},
		Check: sameIdentifier("el NIF del emisor debe coincidir con el del titular en facturas emitidas"),
	})

	return NewSchema(Emitted, b.cat.Version, RecordKeyEmitted,
		Record(EnvelopeEmitted, "Suministro de facturas emitidas", b.header(), registro))
}

// emittedBreakdown desglose sujeta/no sujeta de una factura emitida.
func (b builder) emittedBreakdown(name, label string) *Node {
	exempt := Record("Exenta", "Operación exenta",
		Enum("CausaExencion", b.vocab(sii.VocabExemptionCause)).If(
			When("ClaveRegimenEspecialOTrascendencia").In(sii.RegimeExport).Restrict(sii.ExemptionExport),
		),
		Float("BaseImponible", "Base imponible exenta").Mandatory(),
	)
	nonExempt := Record("NoExenta", "Operación no exenta",
		Enum("TipoNoExenta", b.vocab(sii.VocabNonExemptType)).Mandatory(),
		Record("DesgloseIVA", "Desglose de IVA",
			List("DetalleIVA", "Detalle de IVA",
				Float("TipoImpositivo", "Tipo impositivo"),
				Float("BaseImponible", "Base imponible").Mandatory(),
				Float("CuotaRepercutida", "Cuota repercutida"),
				Float("TipoRecargoEquivalencia", "Tipo de recargo de equivalencia"),
				Float("CuotaRecargoEquivalencia", "Cuota de recargo de equivalencia"),
			).Mandatory(),
		).Mandatory(),
	)
	return Union(name, label,
		Union("Sujeta", "Operación sujeta", exempt, nonExempt),
		Record("NoSujeta", "Operación no sujeta",
			Float("ImportePorArticulos7_14_Otros", "Importe no sujeto por artículos 7, 14 y otros"),
			Float("ImporteTAIReglasLocalizacion", "Importe no sujeto por reglas de localización"),
		).AtLeastOneOf("ImportePorArticulos7_14_Otros", "ImporteTAIReglasLocalizacion"),
	)
}

func (b builder) received() (*Schema, error) {
	regimeIsREAGYP := When("ClaveRegimenEspecialOTrascendencia").In(sii.RegimeREAGYP)
	regimeNotREAGYP := When("ClaveRegimenEspecialOTrascendencia").NotIn(sii.RegimeREAGYP)

	fields := []*Node{Enum("TipoFactura", b.vocab(sii.VocabInvoiceType)).Mandatory()}
	fields = append(fields, b.rectification()...)
	fields = append(fields,
		Enum("ClaveRegimenEspecialOTrascendencia", b.vocab(sii.VocabRegimeReceived)).Mandatory(),
		Float("ImporteTotal", "Importe total"),
		String("DescripcionOperacion", "Descripción de la operación", maxDescriptionLen).Mandatory(),
		Record("DesgloseFactura", "Desglose de la factura",
			Record("InversionSujetoPasivo", "Inversión del sujeto pasivo",
				List("DetalleIVA", "Detalle de IVA con inversión del sujeto pasivo",
					Float("TipoImpositivo", "Tipo impositivo").Mandatory(),
					Float("BaseImponible", "Base imponible").Mandatory(),
					Float("CuotaSoportada", "Cuota soportada").Mandatory(),
				).Mandatory(),
			),
			Record("DesgloseIVA", "Desglose de IVA",
				List("DetalleIVA", "Detalle de IVA",
					Float("TipoImpositivo", "Tipo impositivo").Mandatory(),
					Float("BaseImponible", "Base imponible").Mandatory(),
					Float("CuotaSoportada", "Cuota soportada").Mandatory(),
					Float("TipoRecargoEquivalencia", "Tipo de recargo de equivalencia"),
					Float("CuotaRecargoEquivalencia", "Cuota de recargo de equivalencia"),
					Enum("PorcentCompensacionREAGYP", b.vocab(sii.VocabREAGYPPercent)).If(
						regimeIsREAGYP.Require(), regimeNotREAGYP.Forbid(),
					),
					Float("ImporteCompensacionREAGYP", "Importe de compensación REAGYP").If(
						regimeIsREAGYP.Require(), regimeNotREAGYP.Forbid(),
					),
				).Mandatory().Verify(Rule{
					Name:  "compensacion_reagyp",
					Refs:  []string{"BaseImponible", "PorcentCompensacionREAGYP", "ImporteCompensacionREAGYP"},
					Check: compensationMatches,
				}),
			),
		).Mandatory().AtLeastOneOf("InversionSujetoPasivo", "DesgloseIVA"),
		b.counterparty().Mandatory(),
		Date("FechaRegContable", "Fecha de registro contable").Mandatory(),
		Float("CuotaDeducible", "Cuota deducible").Mandatory(),
	)

	factura := Record(InvoiceKeyReceived, "Factura recibida", fields...).Mandatory().Verify(
		Rule{
			Name:  "fecha_registro_contable",
			Refs:  []string{"FechaRegContable", "IDFactura.FechaExpedicionFacturaEmisor"},
			Check: notBefore,
		},
		Rule{
			Name:  "emisor_contraparte",
			Refs:  []string{"IDFactura.IDEmisorFactura.NIF", "Contraparte.NIF"},
			Check: sameIdentifier("el NIF del emisor debe coincidir con el de la contraparte en facturas recibidas"),
		},
	)

	registro := Record(RecordKeyReceived, "Registro de factura recibida",
		b.period(),
		b.invoiceID(Received),
		factura,
	).Mandatory()

	return NewSchema(Received, b.cat.Version, RecordKeyReceived,
		Record(EnvelopeReceived, "Suministro de facturas recibidas", b.header(), registro))
}

func sameIdentifier(msg string) func([]any) error {
	return func(args []any) error {
		a, b := text(args[0]), text(args[1])
		if a == "" || b == "" || a == b {
			return nil
		}
		return fmt.Errorf("%s (%s != %s)", msg, b, a)
	}
}

// notBefore la fecha de registro contable no puede ser anterior a la de expedición.
func notBefore(args []any) error {
	reg, err1 := ParseDate(text(args[0]))
	issued, err2 := ParseDate(text(args[1]))
	if err1 != nil || err2 != nil {
		return nil
	}
	if reg.Before(issued) {
		return fmt.Errorf("la fecha de registro contable %s es anterior a la fecha de expedición %s", text(args[0]), text(args[1]))
	}
	return nil
}

// compensationMatches el importe de compensación REAGYP debe ser base × porcentaje
// con una tolerancia del 1 % de la base.
func compensationMatches(args []any) error {
	base, ok1 := toFloat(args[0])
	amount, ok3 := toFloat(args[2])
	pct, err := strconv.ParseFloat(text(args[1]), 64)
	if !ok1 || !ok3 || err != nil {
		return nil
	}
	expected := base * pct / 100
	if math.Abs(amount-expected) > math.Abs(base)*compensationMargin {
		return fmt.Errorf("el importe de compensación REAGYP %.2f no corresponde al %s%% de la base %.2f (esperado %.2f)", amount, text(args[1]), base, expected)
	}
	return nil
}

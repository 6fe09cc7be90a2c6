package sii_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/n1ngu/sii/internal/domain/sii"
	catalog "github.com/n1ngu/sii/pkg/sii"
)

func newModel(t *testing.T) *sii.Model {
	t.Helper()
	cat, err := catalog.LoadCatalogue(catalog.DefaultVersion)
	require.NoError(t, err)
	m, err := sii.NewModel(cat)
	require.NoError(t, err)
	return m
}

func header() sii.Values {
	return sii.Values{
		"IDVersionSii": "0.7",
		"Titular": sii.Values{
			"NombreRazon": "ACME SOLUCIONES SL",
			"NIF":         "B12345674",
		},
		"TipoComunicacion": "A0",
	}
}

// emittedRecord factura emitida F1 válida con una base exenta de 1000.
func emittedRecord() sii.Values {
	return sii.Values{
		"Cabecera": header(),
		"RegistroLRFacturasEmitidas": sii.Values{
			"PeriodoImpositivo": sii.Values{"Ejercicio": "2024", "Periodo": "03"},
			"IDFactura": sii.Values{
				"IDEmisorFactura":              sii.Values{"NIF": "B12345674"},
				"NumSerieFacturaEmisor":        "A-0001",
				"FechaExpedicionFacturaEmisor": "15-03-2024",
			},
			"FacturaExpedida": sii.Values{
				"TipoFactura":                        "F1",
				"ClaveRegimenEspecialOTrascendencia": "01",
				"ImporteTotal":                       1000.0,
				"DescripcionOperacion":               "Servicios de formación",
				"Contraparte": sii.Values{
					"NombreRazon": "CLIENTE EJEMPLO",
					"NIF":         "12345678Z",
				},
				"TipoDesglose": sii.Values{
					"DesgloseFactura": sii.Values{
						"Sujeta": sii.Values{
							"Exenta": sii.Values{"BaseImponible": 1000.0},
						},
					},
				},
			},
		},
	}
}

// receivedRecord factura recibida F1 válida con IVA al 21 %.
func receivedRecord() sii.Values {
	return sii.Values{
		"Cabecera": header(),
		"RegistroLRFacturasRecibidas": sii.Values{
			"PeriodoImpositivo": sii.Values{"Ejercicio": "2024", "Periodo": "03"},
			"IDFactura": sii.Values{
				"IDEmisorFactura":              sii.Values{"NIF": "12345678Z"},
				"NumSerieFacturaEmisor":        "P-77",
				"FechaExpedicionFacturaEmisor": "10-03-2024",
			},
			"FacturaRecibida": sii.Values{
				"TipoFactura":                        "F1",
				"ClaveRegimenEspecialOTrascendencia": "01",
				"ImporteTotal":                       121.0,
				"DescripcionOperacion":               "Material de oficina",
				"DesgloseFactura": sii.Values{
					"DesgloseIVA": sii.Values{
						"DetalleIVA": []sii.Values{
							{"TipoImpositivo": 21.0, "BaseImponible": 100.0, "CuotaSoportada": 21.0},
						},
					},
				},
				"Contraparte": sii.Values{
					"NombreRazon": "PROVEEDOR EJEMPLO",
					"NIF":         "12345678Z",
				},
				"FechaRegContable": "20-03-2024",
				"CuotaDeducible":   21.0,
			},
		},
	}
}

// at devuelve el registro anidado en la ruta con puntos.
func at(v sii.Values, path string) sii.Values {
	cur := v
	if path == "" {
		return cur
	}
	for _, seg := range strings.Split(path, ".") {
		cur = cur[seg].(sii.Values)
	}
	return cur
}

// drop elimina la hoja indicada por la ruta con puntos.
func drop(v sii.Values, path string) {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		delete(v, path)
		return
	}
	delete(at(v, path[:i]), path[i+1:])
}

func paths(vs []sii.Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Path
	}
	return out
}

const (
	emittedInvoice  = "RegistroLRFacturasEmitidas.FacturaExpedida"
	receivedInvoice = "RegistroLRFacturasRecibidas.FacturaRecibida"
)

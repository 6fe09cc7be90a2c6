package ports

import (
	"context"

	"github.com/n1ngu/sii/internal/domain/sii"
)

// Endpoint identidad de una operación remota de la AEAT: puerto WSDL, ruta
// relativa a la dirección base (o al proxy) y nombre de la operación.
type Endpoint struct {
	Service   string // siiService, VNifV1Service, VNifV2Service
	Port      string // SuministroFactEmitidas, SuministroFactEmitidasPruebas, VNifPort1
	Path      string // /wlpl/SSII-FACT/ws/fe/SiiFactFEV1SOAP
	Operation string // SuministroLRFacturasEmitidas, VNifV1, VNifV2
}

// Conn conexión autenticada con un servicio de la AEAT.
// No es segura para uso concurrente.
type Conn interface {
	// Invoke envía body como cuerpo de la operación y devuelve la respuesta
	// decodificada. Los SOAP Fault y los fallos de transporte se devuelven como
	// error sin traducir.
	Invoke(ctx context.Context, operation string, body sii.Mapping) (sii.Mapping, error)
}

// Connector abre conexiones con certificado de cliente hacia un Endpoint.
// Cualquier adaptador (SOAP real, httptest, stub) debe implementar esta interfaz.
type Connector interface {
	Connect(ctx context.Context, ep Endpoint) (Conn, error)
}

// Fingerprinter calcula una huella estable de la petición que se enviaría,
// para auditoría. Opcional.
type Fingerprinter interface {
	Fingerprint(operation string, body sii.Mapping) (string, error)
}

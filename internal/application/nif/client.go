// Package nif valida identificadores fiscales contra el servicio VNif de la
// AEAT, de uno en uno (VNifV1) o en lotes (VNifV2).
package nif

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/n1ngu/sii/internal/application/ports"
	"github.com/n1ngu/sii/internal/domain/sii"
	"github.com/n1ngu/sii/internal/infrastructure/aeat"
	"github.com/n1ngu/sii/internal/infrastructure/metrics"
	catalog "github.com/n1ngu/sii/pkg/sii"
)

// ChunkSize tope de identificadores por llamada VNifV2 publicado por la AEAT.
const ChunkSize = 10000

// ResultNotIdentified valor de Resultado para un identificador no reconocido.
const ResultNotIdentified = "NO IDENTIFICADO"

// Endpoints VNif.
const (
	ServiceV1   = "VNifV1Service"
	ServiceV2   = "VNifV2Service"
	Port        = "VNifPort1"
	PathV1      = "/wlpl/BURT-JDIT/ws/VNifV1SOAP"
	PathV2      = "/wlpl/BURT-JDIT/ws/VNifV2SOAP"
	OperationV1 = "VNifV1"
	OperationV2 = "VNifV2"

	modeSingle = "single"
	modeBulk   = "bulk"
)

// ErrReplyMismatch la respuesta de un lote no trae un veredicto por identificador.
var ErrReplyMismatch = errors.New("nif: la respuesta no corresponde al lote enviado")

// Identifier par NIF / nombre tal como se consulta.
type Identifier struct {
	NIF  string `json:"nif"`
	Name string `json:"name"`
}

// Verdict resultado de la comprobación de un identificador.
type Verdict struct {
	Identifier
	Recognized bool        `json:"recognized"`
	Result     string      `json:"result"`
	Raw        sii.Mapping `json:"raw,omitempty"`
}

// Client cliente VNif. Mantiene una conexión por operación, creada en el
// primer uso. No es seguro para uso concurrente.
type Client struct {
	connector ports.Connector
	single    ports.Conn
	bulk      ports.Conn
	upper     cases.Caser
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// Option configura el Client.
type Option func(*Client)

// WithLogger fija el logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics fija las métricas.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient constructor.
func NewClient(connector ports.Connector, opts ...Option) *Client {
	c := &Client{
		connector: connector,
		upper:     cases.Upper(language.Spanish),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EndpointV1 operación de consulta individual.
func EndpointV1() ports.Endpoint {
	return ports.Endpoint{Service: ServiceV1, Port: Port, Path: PathV1, Operation: OperationV1}
}

// EndpointV2 operación de consulta por lotes.
func EndpointV2() ports.Endpoint {
	return ports.Endpoint{Service: ServiceV2, Port: Port, Path: PathV2, Operation: OperationV2}
}

func (c *Client) normalize(id Identifier) Identifier {
	return Identifier{
		NIF:  catalog.NormalizeNIF(id.NIF),
		Name: c.upper.String(norm.NFC.String(id.Name)),
	}
}

func request(id Identifier) sii.Mapping {
	return sii.Mapping{{Key: "Nif", Value: id.NIF}, {Key: "Nombre", Value: id.Name}}
}

func verdict(id Identifier, reply sii.Mapping) Verdict {
	result := reply.Text("Resultado")
	return Verdict{
		Identifier: id,
		Recognized: result != ResultNotIdentified,
		Result:     result,
		Raw:        reply,
	}
}

// faultReply conserva el fallo remoto como respuesta en bruto del veredicto.
func faultReply(err error) sii.Mapping {
	var f *aeat.RemoteFault
	if !errors.As(err, &f) {
		return nil
	}
	raw := sii.Mapping{}
	if f.FaultCode != "" {
		raw = append(raw, sii.Entry{Key: "faultcode", Value: f.FaultCode})
	}
	return append(raw, sii.Entry{Key: "faultstring", Value: f.FaultString()})
}

func (c *Client) invokeSingle(ctx context.Context, id Identifier) (sii.Mapping, error) {
	if c.single == nil {
		conn, err := c.connector.Connect(ctx, EndpointV1())
		if err != nil {
			return nil, err
		}
		c.single = conn
	}
	c.metrics.IncrementIdentifierCall(modeSingle)
	return c.single.Invoke(ctx, OperationV1, request(id))
}

// Validate comprueba un identificador con VNifV1. El fallo remoto "no
// identificado" es una respuesta válida: Recognized=false y error nil.
func (c *Client) Validate(ctx context.Context, id Identifier) (Verdict, error) {
	id = c.normalize(id)
	reply, err := c.invokeSingle(ctx, id)
	if err != nil {
		if aeat.IsNotRecognized(err) {
			c.metrics.AddIdentifierChecks(metrics.OutcomeNotRecognized, 1)
			return Verdict{Identifier: id, Result: ResultNotIdentified, Raw: faultReply(err)}, nil
		}
		c.log.Error().Err(err).Str("nif", id.NIF).Msg("fallo en VNifV1")
		return Verdict{}, err
	}
	v := verdict(id, reply)
	c.count([]Verdict{v})
	return v, nil
}

// Invalid variante individual de InvalidMany: devuelve la entrada original
// solo si VNifV1 respondió con el fallo "no identificado". Cualquier otra
// respuesta correcta devuelve nil; cualquier otro fallo se propaga.
func (c *Client) Invalid(ctx context.Context, id Identifier) (*Identifier, error) {
	_, err := c.invokeSingle(ctx, c.normalize(id))
	switch {
	case err == nil:
		return nil, nil
	case aeat.IsNotRecognized(err):
		return &id, nil
	default:
		return nil, err
	}
}

// ValidateMany comprueba la lista con VNifV2 en lotes secuenciales de
// ChunkSize. Los veredictos conservan el orden de entrada.
func (c *Client) ValidateMany(ctx context.Context, ids []Identifier) ([]Verdict, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if c.bulk == nil {
		conn, err := c.connector.Connect(ctx, EndpointV2())
		if err != nil {
			return nil, err
		}
		c.bulk = conn
	}

	out := make([]Verdict, 0, len(ids))
	for start := 0; start < len(ids); start += ChunkSize {
		end := min(start+ChunkSize, len(ids))
		chunk := make([]Identifier, end-start)
		items := make([]sii.Mapping, end-start)
		for i, id := range ids[start:end] {
			chunk[i] = c.normalize(id)
			items[i] = request(chunk[i])
		}

		c.metrics.IncrementIdentifierCall(modeBulk)
		reply, err := c.bulk.Invoke(ctx, OperationV2, sii.Mapping{{Key: "Contribuyente", Value: items}})
		if err != nil {
			c.log.Error().Err(err).Int("offset", start).Int("size", len(chunk)).Msg("fallo en VNifV2")
			return nil, err
		}
		results := reply.Records("Contribuyente")
		if len(results) != len(chunk) {
			return nil, fmt.Errorf("%w: %d identificadores, %d resultados (desde %d)", ErrReplyMismatch, len(chunk), len(results), start)
		}
		verdicts := make([]Verdict, len(chunk))
		for i := range chunk {
			verdicts[i] = verdict(chunk[i], results[i])
		}
		c.count(verdicts)
		out = append(out, verdicts...)
	}
	c.log.Debug().Int("identifiers", len(ids)).Msg("validación VNifV2 completada")
	return out, nil
}

// InvalidMany veredictos de ValidateMany con Resultado "NO IDENTIFICADO".
func (c *Client) InvalidMany(ctx context.Context, ids []Identifier) ([]Verdict, error) {
	verdicts, err := c.ValidateMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	var out []Verdict
	for _, v := range verdicts {
		if !v.Recognized {
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *Client) count(verdicts []Verdict) {
	recognized := 0
	for _, v := range verdicts {
		if v.Recognized {
			recognized++
		}
	}
	c.metrics.AddIdentifierChecks(metrics.OutcomeRecognized, recognized)
	c.metrics.AddIdentifierChecks(metrics.OutcomeNotRecognized, len(verdicts)-recognized)
}

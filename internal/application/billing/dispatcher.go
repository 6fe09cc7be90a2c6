package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/n1ngu/sii/internal/application/ports"
	"github.com/n1ngu/sii/internal/domain/sii"
	"github.com/n1ngu/sii/internal/infrastructure/metrics"
)

// Rutas y puertos del servicio de suministro (WSDL V_07).
const (
	ServiceSII       = "siiService"
	PathEmitted      = "/wlpl/SSII-FACT/ws/fe/SiiFactFEV1SOAP"
	PathReceived     = "/wlpl/SSII-FACT/ws/fr/SiiFactFRV1SOAP"
	PortEmitted      = "SuministroFactEmitidas"
	PortReceived     = "SuministroFactRecibidas"
	TestPortSuffix   = "Pruebas"
	StatusAccepted   = "Correcto"
	replyStatusField = "EstadoEnvio"
)

// ErrDirectionMismatch el registro validado no corresponde a la dirección pedida.
var ErrDirectionMismatch = errors.New("la dirección del registro no coincide con la del envío")

// State estado de un intento de envío.
type State string

const (
	StateBuilt        State = "BUILT"
	StateDispatching  State = "DISPATCHING"
	StateAcknowledged State = "ACKNOWLEDGED"
	StateFaulted      State = "FAULTED"
)

// SubmissionResult resultado de un intento de envío. Si State es Faulted,
// Fault contiene el mismo error que devuelve Submit.
type SubmissionResult struct {
	ID          string
	Direction   sii.Direction
	Operation   string
	State       State
	Sent        bool
	Ack         sii.Mapping // respuesta completa de la AEAT, sea cual sea su estado
	Fault       error
	Reason      string
	Fingerprint string
}

// EndpointFor selecciona la operación remota en función solo de la dirección.
// El modo de pruebas cambia únicamente el nombre del puerto.
func EndpointFor(d sii.Direction, test bool) (ports.Endpoint, error) {
	var ep ports.Endpoint
	switch d {
	case sii.Emitted:
		ep = ports.Endpoint{Service: ServiceSII, Port: PortEmitted, Path: PathEmitted, Operation: sii.EnvelopeEmitted}
	case sii.Received:
		ep = ports.Endpoint{Service: ServiceSII, Port: PortReceived, Path: PathReceived, Operation: sii.EnvelopeReceived}
	default:
		return ports.Endpoint{}, fmt.Errorf("%w: %d", sii.ErrUnknownDirection, d)
	}
	if test {
		ep.Port += TestPortSuffix
	}
	return ep, nil
}

// Dispatcher envía registros validados al SII. Mantiene una conexión por
// dirección, creada en el primer envío de esa dirección.
// No es seguro para uso concurrente: usar una instancia por envío paralelo.
type Dispatcher struct {
	connector   ports.Connector
	fingerprint ports.Fingerprinter
	test        bool
	conns       [2]ports.Conn // [Emitted-1], [Received-1]
	log         zerolog.Logger
	metrics     *metrics.Metrics
}

// DispatcherOption configura el Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTestMode usa los puertos de pruebas de la AEAT.
func WithTestMode(test bool) DispatcherOption {
	return func(d *Dispatcher) { d.test = test }
}

// WithDispatcherLogger fija el logger.
func WithDispatcherLogger(l zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// WithDispatcherMetrics fija las métricas.
func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithFingerprinter calcula la huella de cada petición antes de enviarla.
func WithFingerprinter(f ports.Fingerprinter) DispatcherOption {
	return func(d *Dispatcher) { d.fingerprint = f }
}

// NewDispatcher construye el dispatcher sobre un Connector.
func NewDispatcher(connector ports.Connector, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{connector: connector, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit envía el registro. Un registro con violaciones no llega a la red.
// Ante un fallo remoto devuelve a la vez el resultado (State Faulted, Fault
// informado) y el error.
func (d *Dispatcher) Submit(ctx context.Context, rec sii.ValidatedRecord, dir sii.Direction) (*SubmissionResult, error) {
	ep, err := EndpointFor(dir, d.test)
	if err != nil {
		return nil, err
	}
	if !rec.Valid() {
		return nil, rec.Err()
	}
	if rec.Direction() != dir {
		return nil, fmt.Errorf("%w: %s != %s", ErrDirectionMismatch, rec.Direction(), dir)
	}
	body, err := requestBody(rec.Mapping(), dir)
	if err != nil {
		return nil, err
	}

	res := &SubmissionResult{
		ID:        uuid.New().String(),
		Direction: dir,
		Operation: ep.Operation,
		State:     StateBuilt,
	}
	log := d.log.With().Str("submission_id", res.ID).Str("direction", dir.String()).Str("operation", ep.Operation).Logger()

	if d.fingerprint != nil {
		if fp, err := d.fingerprint.Fingerprint(ep.Operation, body); err == nil {
			res.Fingerprint = fp
		} else {
			log.Warn().Err(err).Msg("no se pudo calcular la huella de la petición")
		}
	}

	conn, err := d.conn(ctx, dir, ep)
	if err != nil {
		return d.fault(res, log, err, time.Time{})
	}

	res.State = StateDispatching
	start := time.Now()
	reply, err := conn.Invoke(ctx, ep.Operation, body)
	if err != nil {
		return d.fault(res, log, err, start)
	}

	res.State = StateAcknowledged
	res.Ack = reply
	res.Sent = reply.Text(replyStatusField) == StatusAccepted
	outcome := metrics.OutcomeSent
	if !res.Sent {
		outcome = metrics.OutcomeRejected
		res.Reason = rejectionReason(reply)
		log.Warn().Str("reason", res.Reason).Msg("envío no aceptado por la AEAT")
	} else {
		log.Info().Msg("envío aceptado por la AEAT")
	}
	d.metrics.ObserveSubmission(dir.String(), outcome, start)
	return res, nil
}

func (d *Dispatcher) fault(res *SubmissionResult, log zerolog.Logger, err error, start time.Time) (*SubmissionResult, error) {
	res.State = StateFaulted
	res.Fault = err
	res.Reason = err.Error()
	log.Error().Err(err).Msg("fallo remoto en el envío")
	d.metrics.ObserveSubmission(res.Direction.String(), metrics.OutcomeFaulted, start)
	return res, err
}

// conn devuelve la conexión de la dirección, creándola en el primer uso.
// Un fallo al conectar no deja nada en caché.
func (d *Dispatcher) conn(ctx context.Context, dir sii.Direction, ep ports.Endpoint) (ports.Conn, error) {
	slot := int(dir) - 1
	if c := d.conns[slot]; c != nil {
		return c, nil
	}
	c, err := d.connector.Connect(ctx, ep)
	if err != nil {
		return nil, err
	}
	d.log.Debug().Str("port", ep.Port).Str("path", ep.Path).Msg("conexión SII creada")
	d.conns[slot] = c
	return c, nil
}

// requestBody separa cabecera y registro del sobre de la dirección.
func requestBody(m sii.Mapping, dir sii.Direction) (sii.Mapping, error) {
	envelope, recordKey := sii.EnvelopeEmitted, sii.RecordKeyEmitted
	if dir == sii.Received {
		envelope, recordKey = sii.EnvelopeReceived, sii.RecordKeyReceived
	}
	env, ok := m.Record(envelope)
	if !ok {
		return nil, fmt.Errorf("%w: falta el sobre %s", sii.ErrInvalidRecord, envelope)
	}
	header, ok := env.Record(sii.HeaderKey)
	if !ok {
		return nil, fmt.Errorf("%w: falta %s.%s", sii.ErrInvalidRecord, envelope, sii.HeaderKey)
	}
	records, ok := env.Get(recordKey)
	if !ok {
		return nil, fmt.Errorf("%w: falta %s.%s", sii.ErrInvalidRecord, envelope, recordKey)
	}
	return sii.Mapping{
		{Key: sii.HeaderKey, Value: header},
		{Key: recordKey, Value: records},
	}, nil
}

// rejectionReason resume los errores por registro de una respuesta no Correcto.
func rejectionReason(reply sii.Mapping) string {
	var msgs []string
	for _, line := range reply.Records("RespuestaLinea") {
		desc := line.Text("DescripcionErrorRegistro")
		if desc == "" {
			continue
		}
		if code := line.Text("CodigoErrorRegistro"); code != "" {
			desc = "[" + code + "] " + desc
		}
		msgs = append(msgs, desc)
	}
	if len(msgs) > 0 {
		return strings.Join(msgs, "; ")
	}
	status := reply.Text(replyStatusField)
	if status == "" {
		return "respuesta sin " + replyStatusField
	}
	return replyStatusField + ": " + status
}

package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n1ngu/sii/internal/application/billing"
	"github.com/n1ngu/sii/internal/domain/sii"
)

func validated(t *testing.T, build func() (sii.Direction, sii.Values, error)) sii.ValidatedRecord {
	t.Helper()
	dir, values, err := build()
	require.NoError(t, err)
	rec := newModel(t).Validate(dir, values)
	require.True(t, rec.Valid(), "violaciones: %v", rec.Violations())
	return rec
}

func emittedRecord(t *testing.T) sii.ValidatedRecord {
	return validated(t, func() (sii.Direction, sii.Values, error) {
		return billing.NewRecordBuilder("").Build(exemptInvoice())
	})
}

func receivedRecord(t *testing.T) sii.ValidatedRecord {
	return validated(t, func() (sii.Direction, sii.Values, error) {
		return billing.NewRecordBuilder("").Build(supplierInvoice())
	})
}

func TestEndpointFor(t *testing.T) {
	tests := []struct {
		dir       sii.Direction
		test      bool
		port      string
		path      string
		operation string
	}{
		{sii.Emitted, false, "SuministroFactEmitidas", "/wlpl/SSII-FACT/ws/fe/SiiFactFEV1SOAP", "SuministroLRFacturasEmitidas"},
		{sii.Emitted, true, "SuministroFactEmitidasPruebas", "/wlpl/SSII-FACT/ws/fe/SiiFactFEV1SOAP", "SuministroLRFacturasEmitidas"},
		{sii.Received, false, "SuministroFactRecibidas", "/wlpl/SSII-FACT/ws/fr/SiiFactFRV1SOAP", "SuministroLRFacturasRecibidas"},
		{sii.Received, true, "SuministroFactRecibidasPruebas", "/wlpl/SSII-FACT/ws/fr/SiiFactFRV1SOAP", "SuministroLRFacturasRecibidas"},
	}
	for _, tt := range tests {
		ep, err := billing.EndpointFor(tt.dir, tt.test)
		require.NoError(t, err)
		assert.Equal(t, "siiService", ep.Service)
		assert.Equal(t, tt.port, ep.Port)
		assert.Equal(t, tt.path, ep.Path)
		assert.Equal(t, tt.operation, ep.Operation)
	}

	_, err := billing.EndpointFor(sii.Direction(7), false)
	assert.ErrorIs(t, err, sii.ErrUnknownDirection)
}

func TestSubmit_AcceptedEmitted(t *testing.T) {
	conn := &fakeConn{reply: accepted()}
	connector := &fakeConnector{conn: conn}
	d := billing.NewDispatcher(connector)

	res, err := d.Submit(context.Background(), emittedRecord(t), sii.Emitted)
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, billing.StateAcknowledged, res.State)
	assert.Equal(t, accepted(), res.Ack, "la respuesta se conserva completa")
	assert.Empty(t, res.Reason)
	assert.NotEmpty(t, res.ID)

	require.Len(t, conn.calls, 1)
	call := conn.calls[0]
	assert.Equal(t, "SuministroLRFacturasEmitidas", call.operation)
	require.Len(t, call.body, 2)
	assert.Equal(t, "Cabecera", call.body[0].Key)
	assert.Equal(t, "RegistroLRFacturasEmitidas", call.body[1].Key)
}

func TestSubmit_RejectedReplyIsNotSent(t *testing.T) {
	conn := &fakeConn{reply: rejected()}
	d := billing.NewDispatcher(&fakeConnector{conn: conn})

	res, err := d.Submit(context.Background(), emittedRecord(t), sii.Emitted)
	require.NoError(t, err, "un rechazo de negocio no es un fallo remoto")
	assert.False(t, res.Sent)
	assert.Equal(t, billing.StateAcknowledged, res.State)
	assert.Equal(t, "[1104] Valor del campo NumSerieFacturaEmisor incorrecto", res.Reason)
}

func TestSubmit_StatusOtherThanCorrectoIsNotSent(t *testing.T) {
	for _, status := range []string{"ParcialmenteCorrecto", "Incorrecto", "correcto", ""} {
		reply := sii.Mapping{{Key: "EstadoEnvio", Value: status}}
		d := billing.NewDispatcher(&fakeConnector{conn: &fakeConn{reply: reply}})
		res, err := d.Submit(context.Background(), emittedRecord(t), sii.Emitted)
		require.NoError(t, err)
		assert.False(t, res.Sent, status)
		assert.NotEmpty(t, res.Reason, status)
	}
}

func TestSubmit_InvalidRecordNeverReachesNetwork(t *testing.T) {
	connector := &fakeConnector{conn: &fakeConn{reply: accepted()}}
	d := billing.NewDispatcher(connector)

	rec := newModel(t).Validate(sii.Emitted, sii.Values{})
	require.False(t, rec.Valid())

	res, err := d.Submit(context.Background(), rec, sii.Emitted)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, sii.ErrInvalidRecord)
	assert.Empty(t, connector.connects)

	res, err = d.Submit(context.Background(), sii.ValidatedRecord{}, sii.Emitted)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, sii.ErrInvalidRecord)
	assert.Empty(t, connector.connects)
}

func TestSubmit_RemoteFaultIsReportedTwice(t *testing.T) {
	fault := errors.New("soap:Server: Codigo[4102].El XML no cumple el esquema")
	conn := &fakeConn{err: fault}
	d := billing.NewDispatcher(&fakeConnector{conn: conn})

	res, err := d.Submit(context.Background(), emittedRecord(t), sii.Emitted)
	require.Error(t, err)
	assert.Same(t, fault, err, "el fallo remoto no se traduce")
	require.NotNil(t, res)
	assert.Equal(t, billing.StateFaulted, res.State)
	assert.Same(t, fault, res.Fault)
	assert.False(t, res.Sent)
	assert.Equal(t, fault.Error(), res.Reason)
}

func TestSubmit_ConnectFailureIsNotCached(t *testing.T) {
	boom := errors.New("tls: certificado caducado")
	connector := &fakeConnector{conn: &fakeConn{reply: accepted()}, err: boom}
	d := billing.NewDispatcher(connector)

	res, err := d.Submit(context.Background(), emittedRecord(t), sii.Emitted)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.Equal(t, billing.StateFaulted, res.State)

	connector.err = nil
	res, err = d.Submit(context.Background(), emittedRecord(t), sii.Emitted)
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Len(t, connector.connects, 2)
}

func TestSubmit_OneConnectionPerDirection(t *testing.T) {
	connector := &fakeConnector{conn: &fakeConn{reply: accepted()}}
	d := billing.NewDispatcher(connector, billing.WithTestMode(true))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := d.Submit(ctx, emittedRecord(t), sii.Emitted)
		require.NoError(t, err)
	}
	_, err := d.Submit(ctx, receivedRecord(t), sii.Received)
	require.NoError(t, err)
	_, err = d.Submit(ctx, receivedRecord(t), sii.Received)
	require.NoError(t, err)

	require.Len(t, connector.connects, 2)
	assert.Equal(t, "SuministroFactEmitidasPruebas", connector.connects[0].Port)
	assert.Equal(t, "SuministroFactRecibidasPruebas", connector.connects[1].Port)

	calls := connector.conn.calls
	require.Len(t, calls, 5)
	assert.Equal(t, "SuministroLRFacturasRecibidas", calls[4].operation)
	assert.Equal(t, "RegistroLRFacturasRecibidas", calls[4].body[1].Key)
}

func TestSubmit_DirectionMismatch(t *testing.T) {
	connector := &fakeConnector{conn: &fakeConn{reply: accepted()}}
	d := billing.NewDispatcher(connector)

	res, err := d.Submit(context.Background(), emittedRecord(t), sii.Received)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, billing.ErrDirectionMismatch)
	assert.Empty(t, connector.connects)
}

type stubFingerprinter struct{}

func (stubFingerprinter) Fingerprint(operation string, body sii.Mapping) (string, error) {
	return operation + ":" + body[0].Key, nil
}

func TestSubmit_Fingerprint(t *testing.T) {
	d := billing.NewDispatcher(&fakeConnector{conn: &fakeConn{reply: accepted()}},
		billing.WithFingerprinter(stubFingerprinter{}))

	res, err := d.Submit(context.Background(), emittedRecord(t), sii.Emitted)
	require.NoError(t, err)
	assert.Equal(t, "SuministroLRFacturasEmitidas:Cabecera", res.Fingerprint)
}

package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/n1ngu/sii/internal/application/billing"
	"github.com/n1ngu/sii/internal/application/ports"
	"github.com/n1ngu/sii/internal/domain"
	"github.com/n1ngu/sii/internal/domain/entity"
	"github.com/n1ngu/sii/internal/domain/repository"
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

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	company = entity.Party{Name: "ACME SOLUCIONES SL", VAT: "ESB12345674"}
	partner = entity.Party{Name: "CLIENTE EJEMPLO", VAT: "12345678Z"}
)

// exemptInvoice factura emitida F1, régimen 01, base exenta de 1000.
func exemptInvoice() *entity.Invoice {
	return &entity.Invoice{
		Type:        entity.InvoiceTypeOutInvoice,
		Number:      "A-0001",
		Date:        date(2024, time.March, 15),
		Description: "Servicios de formación",
		Company:     company,
		Partner:     partner,
		Lines:       []entity.TaxLine{{Base: dec("1000"), Exempt: true}},
		Total:       dec("1000"),
	}
}

// supplierInvoice factura recibida con un tipo del 21 %.
func supplierInvoice() *entity.Invoice {
	return &entity.Invoice{
		Type:           entity.InvoiceTypeInInvoice,
		Number:         "PROV-778",
		Date:           date(2024, time.March, 10),
		AccountingDate: date(2024, time.March, 20),
		Description:    "Material de oficina",
		Company:        company,
		Partner:        entity.Party{Name: "PROVEEDOR EJEMPLO", VAT: "12345678Z"},
		Lines:          []entity.TaxLine{{Base: dec("100"), Rate: dec("21"), Amount: dec("21")}},
		Total:          dec("121"),
	}
}

type invocation struct {
	operation string
	body      sii.Mapping
}

// fakeConn responde siempre con reply o err y guarda las invocaciones.
type fakeConn struct {
	reply sii.Mapping
	err   error
	calls []invocation
}

func (c *fakeConn) Invoke(_ context.Context, operation string, body sii.Mapping) (sii.Mapping, error) {
	c.calls = append(c.calls, invocation{operation: operation, body: body})
	if c.err != nil {
		return nil, c.err
	}
	return c.reply, nil
}

type fakeConnector struct {
	conn     *fakeConn
	err      error
	connects []ports.Endpoint
}

func (f *fakeConnector) Connect(_ context.Context, ep ports.Endpoint) (ports.Conn, error) {
	f.connects = append(f.connects, ep)
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

func accepted() sii.Mapping {
	return sii.Mapping{
		{Key: "CSV", Value: "A1B2C3D4E5F6G7H8"},
		{Key: "EstadoEnvio", Value: "Correcto"},
		{Key: "RespuestaLinea", Value: []sii.Mapping{{{Key: "EstadoRegistro", Value: "Correcto"}}}},
	}
}

func rejected() sii.Mapping {
	return sii.Mapping{
		{Key: "EstadoEnvio", Value: "Incorrecto"},
		{Key: "RespuestaLinea", Value: []sii.Mapping{{
			{Key: "EstadoRegistro", Value: "Incorrecto"},
			{Key: "CodigoErrorRegistro", Value: "1104"},
			{Key: "DescripcionErrorRegistro", Value: "Valor del campo NumSerieFacturaEmisor incorrecto"},
		}}},
	}
}

// memInvoices repositorio de facturas en memoria.
type memInvoices struct {
	byID map[string]*entity.Invoice
}

func (r *memInvoices) Save(_ context.Context, inv *entity.Invoice) error {
	cp := *inv
	r.byID[inv.ID] = &cp
	return nil
}

func (r *memInvoices) UpdateStatus(_ context.Context, id, status, reason string) error {
	inv, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	inv.SIIStatus, inv.SIIReason = status, reason
	return nil
}

func (r *memInvoices) GetByID(_ context.Context, id string) (*entity.Invoice, error) {
	inv, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return inv, nil
}

type memSubmissions struct {
	items []*entity.Submission
}

func (r *memSubmissions) Create(_ context.Context, s *entity.Submission) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	r.items = append(r.items, s)
	return nil
}

func (r *memSubmissions) ListByInvoice(_ context.Context, invoiceID string) ([]*entity.Submission, error) {
	var out []*entity.Submission
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].InvoiceID == invoiceID {
			out = append(out, r.items[i])
		}
	}
	return out, nil
}

type memTx struct {
	invoices    *memInvoices
	submissions *memSubmissions
}

func (tx *memTx) RunSubmission(_ context.Context, fn func(repository.InvoiceRepository, repository.SubmissionRepository) error) error {
	return fn(tx.invoices, tx.submissions)
}

type fixture struct {
	uc          *billing.SubmitInvoiceUseCase
	connector   *fakeConnector
	conn        *fakeConn
	invoices    *memInvoices
	submissions *memSubmissions
}

func newFixture(t *testing.T, reply sii.Mapping, err error) *fixture {
	t.Helper()
	f := &fixture{
		conn:        &fakeConn{reply: reply, err: err},
		invoices:    &memInvoices{byID: map[string]*entity.Invoice{}},
		submissions: &memSubmissions{},
	}
	f.connector = &fakeConnector{conn: f.conn}
	tx := &memTx{invoices: f.invoices, submissions: f.submissions}
	newSubmitter := func() billing.Submitter {
		return billing.NewDispatcher(f.connector, billing.WithTestMode(true))
	}
	f.uc = billing.NewSubmitInvoiceUseCase(tx, f.invoices, f.submissions, newModel(t),
		billing.NewRecordBuilder(""), newSubmitter, zerolog.Nop(), nil)
	return f
}

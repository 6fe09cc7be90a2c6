package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n1ngu/sii/internal/application/billing"
	"github.com/n1ngu/sii/internal/application/nif"
	"github.com/n1ngu/sii/internal/domain"
	"github.com/n1ngu/sii/internal/domain/entity"
	"github.com/n1ngu/sii/internal/domain/sii"
	"github.com/n1ngu/sii/internal/infrastructure/aeat"
	"github.com/n1ngu/sii/internal/infrastructure/metrics"
	apphttp "github.com/n1ngu/sii/internal/interfaces/http"
	pkgjwt "github.com/n1ngu/sii/pkg/jwt"
	catalog "github.com/n1ngu/sii/pkg/sii"
)

const exemptJSON = `{
  "type": "out_invoice",
  "number": "A-0001",
  "date": "2024-03-15",
  "description": "Servicios de formación",
  "company": {"name": "ACME SOLUCIONES SL", "vat": "ESB12345674"},
  "partner": {"name": "CLIENTE EJEMPLO", "vat": "12345678Z"},
  "lines": [{"base": "1000", "exempt": true}],
  "total": "1000"
}`

const supplierNoAccountingJSON = `{
  "type": "in_invoice",
  "number": "PROV-778",
  "date": "2024-03-10",
  "company": {"name": "ACME SOLUCIONES SL", "vat": "ESB12345674"},
  "partner": {"name": "PROVEEDOR EJEMPLO", "vat": "12345678Z"},
  "lines": [{"base": "100", "rate": "21", "amount": "21"}],
  "total": "121"
}`

// fakeInvoices valida con el modelo real y devuelve un outcome fijo al enviar.
type fakeInvoices struct {
	*billing.SubmitInvoiceUseCase
	outcome     *billing.SubmitOutcome
	err         error
	submissions []*entity.Submission
	listErr     error
}

func newFakeInvoices(t *testing.T) *fakeInvoices {
	t.Helper()
	cat, err := catalog.LoadCatalogue(catalog.DefaultVersion)
	require.NoError(t, err)
	model, err := sii.NewModel(cat)
	require.NoError(t, err)
	uc := billing.NewSubmitInvoiceUseCase(nil, nil, nil, model, billing.NewRecordBuilder(""),
		func() billing.Submitter { return nil }, zerolog.Nop(), nil)
	return &fakeInvoices{SubmitInvoiceUseCase: uc}
}

func (f *fakeInvoices) Submit(_ context.Context, inv *entity.Invoice) (*billing.SubmitOutcome, error) {
	if f.outcome != nil {
		inv.ID = "f-1"
		if f.outcome.Invoice != nil {
			inv.SIIStatus = f.outcome.Invoice.SIIStatus
		}
		f.outcome.Invoice = inv
	}
	return f.outcome, f.err
}

func (f *fakeInvoices) ListSubmissions(context.Context, string) ([]*entity.Submission, error) {
	return f.submissions, f.listErr
}

// fakeIdentifiers NIF terminados en R no están en el censo.
type fakeIdentifiers struct {
	err error
}

func (f *fakeIdentifiers) verdict(id nif.Identifier) nif.Verdict {
	known := !strings.HasSuffix(id.NIF, "R")
	v := nif.Verdict{Identifier: id, Recognized: known, Result: "IDENTIFICADO"}
	if !known {
		v.Result = nif.ResultNotIdentified
	}
	return v
}

func (f *fakeIdentifiers) Validate(_ context.Context, id nif.Identifier) (nif.Verdict, error) {
	return f.verdict(id), f.err
}

func (f *fakeIdentifiers) ValidateMany(_ context.Context, ids []nif.Identifier) ([]nif.Verdict, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]nif.Verdict, len(ids))
	for i, id := range ids {
		out[i] = f.verdict(id)
	}
	return out, nil
}

func (f *fakeIdentifiers) Invalid(_ context.Context, id nif.Identifier) (*nif.Identifier, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.verdict(id).Recognized {
		return nil, nil
	}
	return &id, nil
}

func (f *fakeIdentifiers) InvalidMany(ctx context.Context, ids []nif.Identifier) ([]nif.Verdict, error) {
	all, err := f.ValidateMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	var out []nif.Verdict
	for _, v := range all {
		if !v.Recognized {
			out = append(out, v)
		}
	}
	return out, nil
}

type harness struct {
	app         *fiber.App
	invoices    *fakeInvoices
	identifiers *fakeIdentifiers
	registry    *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		app:         fiber.New(),
		invoices:    newFakeInvoices(t),
		identifiers: &fakeIdentifiers{},
		registry:    prometheus.NewRegistry(),
	}
	m := metrics.New(h.registry)
	m.ObserveSubmission("emitted", metrics.OutcomeSent, time.Time{})
	apphttp.Router(h.app, apphttp.RouterDeps{
		Invoices:    h.invoices,
		Identifiers: h.identifiers,
		JWTSecret:   testJWTSecret,
		Gatherer:    h.registry,
		Log:         zerolog.Nop(),
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, role, body string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", tokenForRole(t, role))
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, string(raw)
}

// ──────────────────────────────────────────────────────────────────────────────
// Facturas
// ──────────────────────────────────────────────────────────────────────────────

func TestValidateInvoice_Valid(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodPost, "/api/sii/invoices/validate", pkgjwt.RoleViewer, exemptJSON)

	assert.Equal(t, http.StatusOK, resp.StatusCode, body)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, true, out["valid"])
	assert.Equal(t, "emitted", out["direction"])
	assert.Contains(t, body, `"Cabecera"`)
	assert.Contains(t, body, `"RegistroLRFacturasEmitidas"`)
}

func TestValidateInvoice_Violations(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodPost, "/api/sii/invoices/validate", pkgjwt.RoleViewer, supplierNoAccountingJSON)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "RegistroLRFacturasRecibidas.FacturaRecibida.FechaRegContable")
	assert.NotContains(t, body, `"record"`)
}

func TestValidateInvoice_TitularDistintoAlDelToken(t *testing.T) {
	h := newHarness(t)
	other := strings.Replace(exemptJSON, "ESB12345674", "A58818501", 1)
	resp, _ := h.do(t, http.MethodPost, "/api/sii/invoices/validate", pkgjwt.RoleAdmin, other)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestValidateInvoice_MappingError(t *testing.T) {
	h := newHarness(t)
	bad := strings.Replace(exemptJSON, "out_invoice", "draft", 1)
	resp, body := h.do(t, http.MethodPost, "/api/sii/invoices/validate", pkgjwt.RoleAdmin, bad)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "MAPPING")
}

func TestValidateInvoice_BadDate(t *testing.T) {
	h := newHarness(t)
	bad := strings.Replace(exemptJSON, "2024-03-15", "15/03/2024", 1)
	resp, _ := h.do(t, http.MethodPost, "/api/sii/invoices/validate", pkgjwt.RoleAdmin, bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func outcome(state billing.State, sent bool, status string) *billing.SubmitOutcome {
	return &billing.SubmitOutcome{
		Direction: sii.Emitted,
		Result: &billing.SubmissionResult{
			ID:        "s-1",
			Direction: sii.Emitted,
			Operation: sii.EnvelopeEmitted,
			State:     state,
			Sent:      sent,
			Ack:       sii.Mapping{{Key: "EstadoEnvio", Value: "Correcto"}},
		},
		Invoice: &entity.Invoice{SIIStatus: status},
	}
}

func TestSubmitInvoice_StatusCodes(t *testing.T) {
	fault := &aeat.RemoteFault{Operation: sii.EnvelopeEmitted, FaultCode: "env:Server", Message: "Codigo[4102].El XML no cumple el esquema"}
	faulted := outcome(billing.StateFaulted, false, entity.SIIStatusError)
	faulted.Result.Fault = fault

	tests := []struct {
		name    string
		outcome *billing.SubmitOutcome
		err     error
		want    int
	}{
		{"aceptada", outcome(billing.StateAcknowledged, true, entity.SIIStatusSent), nil, http.StatusCreated},
		{"rechazada", outcome(billing.StateAcknowledged, false, entity.SIIStatusRejected), nil, http.StatusAccepted},
		{"fallo remoto", faulted, fault, http.StatusBadGateway},
		{"violaciones", &billing.SubmitOutcome{
			Direction:  sii.Received,
			Violations: []sii.Violation{{Path: "x", Code: sii.CodeRequired, Message: "obligatorio"}},
		}, nil, http.StatusUnprocessableEntity},
		{"sin persistir", outcome(billing.StateAcknowledged, true, entity.SIIStatusSent), errors.New("tx"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.invoices.outcome, h.invoices.err = tt.outcome, tt.err
			resp, body := h.do(t, http.MethodPost, "/api/sii/invoices", pkgjwt.RoleAccountant, exemptJSON)
			assert.Equal(t, tt.want, resp.StatusCode, body)
		})
	}
}

func TestSubmitInvoice_FaultBodyCarriesRemoteDetail(t *testing.T) {
	h := newHarness(t)
	fault := &aeat.RemoteFault{Operation: sii.EnvelopeEmitted, FaultCode: "env:Server", Message: "Codigo[4102].El XML no cumple el esquema"}
	h.invoices.outcome = outcome(billing.StateFaulted, false, entity.SIIStatusError)
	h.invoices.outcome.Result.Fault = fault
	h.invoices.err = fault

	_, body := h.do(t, http.MethodPost, "/api/sii/invoices", pkgjwt.RoleAdmin, exemptJSON)
	assert.Contains(t, body, "Codigo[4102]")
	assert.Contains(t, body, `"state":"FAULTED"`)
}

func TestSubmitInvoice_DuplicateNumberIs409(t *testing.T) {
	h := newHarness(t)
	h.invoices.err = fmt.Errorf("guardar factura: invoice number already exists: %w", domain.ErrDuplicate)

	resp, body := h.do(t, http.MethodPost, "/api/sii/invoices", pkgjwt.RoleAccountant, exemptJSON)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, body)
	assert.Contains(t, body, "DUPLICATE")
}

func TestSubmitInvoice_ViewerForbidden(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodPost, "/api/sii/invoices", pkgjwt.RoleViewer, exemptJSON)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSubmitInvoice_RequiresToken(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodPost, "/api/sii/invoices", "", exemptJSON)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListSubmissions(t *testing.T) {
	h := newHarness(t)
	h.invoices.submissions = []*entity.Submission{{ID: "s-2", State: entity.SubmissionStateAcknowledged, Sent: true}}
	resp, body := h.do(t, http.MethodGet, "/api/sii/invoices/f-1/submissions", pkgjwt.RoleViewer, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"id":"s-2"`)

	h.invoices.listErr = domain.ErrNotFound
	resp, _ = h.do(t, http.MethodGet, "/api/sii/invoices/nada/submissions", pkgjwt.RoleViewer, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ──────────────────────────────────────────────────────────────────────────────
// Identificadores
// ──────────────────────────────────────────────────────────────────────────────

func TestValidateIdentifiers_SingleAndBulk(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/sii/identifiers/validate", pkgjwt.RoleViewer,
		`{"nif": "12345678Z", "name": "JOSÉ NÚÑEZ"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var single map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &single))
	assert.Equal(t, true, single["recognized"])

	resp, body = h.do(t, http.MethodPost, "/api/sii/identifiers/validate", pkgjwt.RoleViewer,
		`[{"nif": "12345678Z", "name": "A"}, {"nif": "99999999R", "name": "B"}]`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var bulk []map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &bulk))
	require.Len(t, bulk, 2)
	assert.Equal(t, false, bulk[1]["recognized"])
	assert.Equal(t, nif.ResultNotIdentified, bulk[1]["result"])
}

func TestInvalidIdentifiers(t *testing.T) {
	h := newHarness(t)

	_, body := h.do(t, http.MethodPost, "/api/sii/identifiers/invalid", pkgjwt.RoleViewer,
		`{"nif": "12345678Z", "name": "A"}`)
	assert.JSONEq(t, `{"invalid": []}`, body)

	_, body = h.do(t, http.MethodPost, "/api/sii/identifiers/invalid", pkgjwt.RoleViewer,
		`[{"nif": "12345678Z", "name": "A"}, {"nif": "99999999R", "name": "B"}]`)
	assert.JSONEq(t, `{"invalid": [{"nif": "99999999R", "name": "B"}]}`, body)
}

func TestIdentifiers_RemoteFaultIs502(t *testing.T) {
	h := newHarness(t)
	h.identifiers.err = &aeat.RemoteFault{Operation: nif.OperationV2, StatusCode: 503, Message: "mantenimiento"}
	resp, body := h.do(t, http.MethodPost, "/api/sii/identifiers/validate", pkgjwt.RoleViewer, `[{"nif": "12345678Z"}]`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "REMOTE_FAULT")
}

func TestIdentifiers_BadBody(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodPost, "/api/sii/identifiers/validate", pkgjwt.RoleViewer, `"12345678Z"`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ──────────────────────────────────────────────────────────────────────────────
// Métricas
// ──────────────────────────────────────────────────────────────────────────────

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `sii_submissions_total{direction="emitted",outcome="sent"} 1`)
}

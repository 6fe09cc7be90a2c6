package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/n1ngu/sii/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Invoices    invoiceSubmitter
	Identifiers identifierChecker
	JWTSecret   string
	// Gatherer origen de /metrics. Nil: sin endpoint de métricas.
	Gatherer prometheus.Gatherer
	Log      zerolog.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Rutas protegidas (requieren Bearer Token)
	api := app.Group("/api/sii", AuthMiddleware(deps.JWTSecret))
	canSubmit := RequireRole(jwt.RoleAdmin, jwt.RoleAccountant)
	anyRole := RequireRole(jwt.RoleAdmin, jwt.RoleAccountant, jwt.RoleViewer)

	// Facturas
	invoices := api.Group("/invoices")
	invoiceHandler := NewInvoiceHandler(deps.Invoices, deps.Log.With().Str("component", "http").Logger())
	invoices.Post("/validate", anyRole, invoiceHandler.Validate)
	invoices.Post("/", canSubmit, invoiceHandler.Submit)
	invoices.Get("/:id/submissions", anyRole, invoiceHandler.Submissions)

	// Identificadores (VNif)
	identifiers := api.Group("/identifiers")
	identifierHandler := NewIdentifierHandler(deps.Identifiers, deps.Log.With().Str("component", "http").Logger())
	identifiers.Post("/validate", anyRole, identifierHandler.Validate)
	identifiers.Post("/invalid", anyRole, identifierHandler.Invalid)
}

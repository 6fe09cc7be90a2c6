package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/n1ngu/sii/internal/application/billing"
	"github.com/n1ngu/sii/internal/application/nif"
	"github.com/n1ngu/sii/internal/domain/sii"
	"github.com/n1ngu/sii/internal/infrastructure/aeat"
	"github.com/n1ngu/sii/internal/infrastructure/metrics"
	"github.com/n1ngu/sii/internal/infrastructure/postgres"
	httpRouter "github.com/n1ngu/sii/internal/interfaces/http"
	"github.com/n1ngu/sii/pkg/config"
	"github.com/n1ngu/sii/pkg/logger"
	catalog "github.com/n1ngu/sii/pkg/sii"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("sii_env", cfg.SII.Env).
		Msg("iniciando aplicación")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	invoiceRepo := postgres.NewInvoiceRepository(pool)
	submissionRepo := postgres.NewSubmissionRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	// Vocabulario y modelo de registro
	version := cfg.SII.CatalogueVersion
	if version == "" {
		version = catalog.DefaultVersion
	}
	cat, err := catalog.LoadCatalogue(version)
	if err != nil {
		log.Fatal().Err(err).Str("version", version).Msg("cargar catálogo SII")
	}
	model, err := sii.NewModel(cat)
	if err != nil {
		log.Fatal().Err(err).Msg("construir modelo SII")
	}

	// Transporte AEAT: certificado de cliente cargado una vez al arrancar
	cert, err := aeat.LoadCertificate(cfg.SII.CertPath, cfg.SII.CertKeyPath, cfg.SII.CertPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("cargar certificado AEAT")
	}
	if len(cert.Certificate) == 0 {
		log.Warn().Msg("sin certificado de cliente: la AEAT rechazará las llamadas")
	}
	baseURL, err := aeat.BaseURL(cfg.SII.Env, cfg.SII.BaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("dirección AEAT")
	}
	connector := aeat.NewConnector(aeat.Config{
		BaseURL:     baseURL,
		Certificate: cert,
		Timeout:     cfg.SII.Timeout,
	}, log.Component("aeat"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	testMode := cfg.SII.Env == aeat.EnvTest
	dispatcherLog := log.Component("dispatcher")
	submitInvoiceUC := billing.NewSubmitInvoiceUseCase(
		txRunner, invoiceRepo, submissionRepo,
		model, billing.NewRecordBuilder(model.Version()),
		func() billing.Submitter {
			return billing.NewDispatcher(connector,
				billing.WithTestMode(testMode),
				billing.WithDispatcherLogger(dispatcherLog),
				billing.WithDispatcherMetrics(m),
				billing.WithFingerprinter(aeat.Fingerprinter{}),
			)
		},
		log.Component("billing"), m,
	)

	nifLog := log.Component("nif")
	identifiers := nif.NewPool(func() *nif.Client {
		return nif.NewClient(connector, nif.WithLogger(nifLog), nif.WithMetrics(m))
	})

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		BodyLimit:    cfg.HTTP.BodyLimit,
		ReadTimeout:  time.Second * 30,
		WriteTimeout: cfg.SII.Timeout + 10*time.Second,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "SII API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := pool.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "service": cfg.App.Name})
		}
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name, "sii_env": cfg.SII.Env, "catalogue": model.Version()})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Invoices:    submitInvoiceUC,
		Identifiers: identifiers,
		JWTSecret:   cfg.JWT.Secret,
		Gatherer:    registry,
		Log:         log.Zerolog(),
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}

// Comando migrate: aplica las migraciones pendientes de la base de datos.
// Uso: go run ./cmd/migrate
package main

import (
	"context"
	"time"

	"github.com/n1ngu/sii/internal/infrastructure/postgres"
	"github.com/n1ngu/sii/pkg/config"
	"github.com/n1ngu/sii/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	applied, err := postgres.Migrate(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Strs("aplicadas", applied).Msg("migración interrumpida")
	}
	if len(applied) == 0 {
		log.Info().Msg("base de datos al día")
		return
	}
	log.Info().Strs("aplicadas", applied).Msg("migraciones aplicadas")
}

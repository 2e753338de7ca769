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

	_ "github.com/jhoicas/nfe-emissor/docs"
	"github.com/jhoicas/nfe-emissor/internal/application/billing"
	"github.com/jhoicas/nfe-emissor/internal/bootstrap"
	httpRouter "github.com/jhoicas/nfe-emissor/internal/interfaces/http"
	"github.com/jhoicas/nfe-emissor/pkg/config"
	"github.com/jhoicas/nfe-emissor/pkg/logger"
)

// @title NF-e Emissor API
// @version 1.0
// @description Emisión, cancelación y consulta de NF-e modelo 55 ante la SEFAZ.
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
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
		Str("uf", cfg.NFe.UF).
		Msg("iniciando aplicación")

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("JWT_SECRET no configurado")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	c, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar componentes")
	}
	defer c.Close()

	if cfg.NFe.ResolveInterval > 0 {
		go resolveLoop(ctx, c.Orchestrator, cfg.NFe.ResolveInterval, log)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 90, // la autorización puede esperar varias consultas de recibo
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "NF-e Emissor API",
	}))

	app.Get("/health", func(fc *fiber.Ctx) error {
		return fc.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name, "environment": c.Environment})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		NFe:       c.Orchestrator,
		JWTSecret: cfg.JWT.Secret,
		Logger:    log.Component("http"),
		Observer:  c.Metrics,
		Gatherer:  c.Registry,
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
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}

// resolveLoop reconsulta periódicamente las NF-e que quedaron en TIMED_OUT.
func resolveLoop(ctx context.Context, o *billing.NFeOrchestrator, every time.Duration, log *logger.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := o.ResolvePending(ctx, 50)
			if err != nil {
				log.Warn().Err(err).Msg("resolver pendientes")
				continue
			}
			if n > 0 {
				log.Info().Int("resueltas", n).Msg("NF-e pendientes resueltas")
			}
		}
	}
}

package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/pkg/jwt"
)

// HTTPObserver cuenta pedidos respondidos (métricas).
type HTTPObserver interface {
	ObserveHTTP(route, method string, code int)
}

// RouterDeps dependencias para el router.
type RouterDeps struct {
	NFe       NFeService
	JWTSecret string
	Logger    zerolog.Logger
	Observer  HTTPObserver        // opcional
	Gatherer  prometheus.Gatherer // opcional; expone /metrics
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Use(RequestLogger(deps.Logger, deps.Observer))

	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	nfeGroup := protected.Group("/nfe")
	h := NewNFeHandler(deps.NFe, deps.Logger)
	emit := RequireRole(jwt.RoleEmissor)
	read := RequireRole(jwt.RoleEmissor, jwt.RoleConsulta)
	nfeGroup.Post("/authorize", emit, h.Authorize)
	nfeGroup.Post("/cancel", emit, h.Cancel)
	nfeGroup.Get("/status", read, h.Status)
	nfeGroup.Get("/:chave/history", read, h.History)
	nfeGroup.Get("/:chave", read, h.Query)
}

// RequestLogger registra cada pedido con zerolog y lo cuenta en el observer.
func RequestLogger(log zerolog.Logger, obs HTTPObserver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		code := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			} else {
				code = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		if obs != nil {
			obs.ObserveHTTP(route, c.Method(), code)
		}
		ev := log.Info()
		if code >= fiber.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Method()).
			Str("route", route).
			Int("code", code).
			Dur("elapsed", time.Since(start)).
			Msg("http")
		return err
	}
}

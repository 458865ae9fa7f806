// Package api assembles the fiber application: health and metrics on
// plain HTTP, the chat protocol on /v1/ws.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	wshandler "github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/ws"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/hub"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/store"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/users"
)

type Deps struct {
	Handler  *wshandler.Handler
	Hub      *hub.Hub
	Store    *store.Store
	Users    *users.Registry
	Registry *prometheus.Registry
	Limiter  *RateLimiter // nil when disabled
}

func New(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberlogger.New())

	started := time.Now()

	v1 := app.Group("/v1")

	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"ok":            true,
			"usersCount":    deps.Users.Count(),
			"conversations": deps.Store.Conversations(),
			"connections":   deps.Hub.Connections(),
			"uptimeSec":     int(time.Since(started).Seconds()),
		})
	})

	v1.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	v1.Get("/ws", deps.Limiter.Middleware(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/ws", websocket.New(deps.Handler.Handle))

	return app
}

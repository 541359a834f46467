package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unclebandit/smsleopard-broadcast/internal/config"
	"github.com/unclebandit/smsleopard-broadcast/internal/controller"
	"github.com/unclebandit/smsleopard-broadcast/internal/handler"
)

type routes struct {
	broadcasts *controller.BroadcastController
	groups     *controller.ContactGroupController
	poller     *handler.PollerHandler
	health     *handler.HealthHandler
}

func newRouter(cfg config.HTTPConfig, rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", rt.health.Healthz)

	r.Route("/api/broadcast", func(r chi.Router) {
		r.Post("/send", rt.broadcasts.Send)
		r.Get("/history/{tenantId}", rt.broadcasts.GetHistory)
		r.Delete("/scheduled/{jobId}", rt.broadcasts.CancelScheduled)

		r.Post("/groups/save", rt.groups.Save)
		r.Get("/groups/{tenantId}", rt.groups.List)
		r.Delete("/groups/{groupId}", rt.groups.Delete)

		r.Post("/scheduler/tick", rt.poller.HandleTick)
	})
	return r
}

package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Commands
		r.Post("/commands", h.SubmitCommand)

		// Decisions
		r.Get("/decisions/pending", h.ListPending)
		r.Get("/decisions/history", h.ListHistory)
		r.Get("/decisions/archive", h.ListArchived)
		r.Get("/decisions/{id}", h.GetDecision)
		r.Post("/decisions/{id}/confirm", h.ConfirmDecision)
		r.Post("/decisions/{id}/reject", h.RejectDecision)

		// Fleet registry
		r.Get("/drones", h.ListDrones)
		r.Post("/drones", h.RegisterDrone)
		r.Patch("/drones/module", h.UpdateDroneModule)
		r.Get("/drones/module/{module}", h.ListDronesByModule)
		r.Get("/drones/sysid/{sysid}", h.GetDroneBySysID)
		r.Get("/drones/{id}", h.GetDrone)
		r.Patch("/drones/{id}", h.UpdateDrone)
		r.Delete("/drones/{id}", h.DeleteDrone)
		r.Post("/drones/{id}/activate", h.ActivateDrone)
		r.Post("/drones/{id}/deactivate", h.DeactivateDrone)

		// Telemetry relay
		r.Post("/telemetry", h.IngestTelemetry)
	})
}

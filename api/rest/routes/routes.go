package routes

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"instance-orchestrator/api/rest/handlers"
	"instance-orchestrator/core/scheduler"
)

// Queue is the queue surface the admin API uses
type Queue interface {
	handlers.Enqueuer
	handlers.QueueStats
}

// Deps are the collaborators of the admin API
type Deps struct {
	Queue      Queue
	Runs       handlers.RunLister // nil disables run history
	JobOptions scheduler.JobOptions
	Metrics    http.Handler
	Logger     *slog.Logger
	// AdminToken guards the /v1 routes; empty leaves them open
	AdminToken string
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, deps Deps) {
	jobHandler := handlers.NewJobHandler(deps.Queue, deps.Runs, deps.JobOptions, deps.Logger)
	dashboardHandler := handlers.NewDashboardHandler(deps.Queue, deps.Logger)

	r.HandleFunc("/health", dashboardHandler.Health).Methods("GET")
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics).Methods("GET")
	}

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(AuthMiddleware(deps.AdminToken))

	// Job endpoints
	api.HandleFunc("/jobs", jobHandler.SubmitJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/runs", jobHandler.ListRuns).Methods("GET")

	// Dashboard endpoints
	api.HandleFunc("/queue", dashboardHandler.GetQueueStats).Methods("GET")
}

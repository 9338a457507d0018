package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/driftq/driftq/internal/api/middleware"
)

// NewRouter assembles the HTTP surface: task CRUD and operation log
// inspection, behind the standard middleware stack.
func NewRouter(tasks *TaskHandler, sync *SyncHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", tasks.CreateTask)
		r.Get("/tasks", tasks.ListTasks)
		r.Get("/tasks/{id}", tasks.GetTask)
		r.Put("/tasks/{id}", tasks.UpdateTask)
		r.Delete("/tasks/{id}", tasks.DeleteTask)

		r.Get("/sync/operations", sync.ListOperations)
		r.Get("/sync/operations/{seq}", sync.GetOperation)
		r.Post("/sync/operations/{seq}/dismiss", sync.DismissOperation)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}

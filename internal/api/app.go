package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/sidekick/internal/companion"
	"github.com/kalambet/sidekick/internal/config"
	"github.com/kalambet/sidekick/internal/presentation"
	"github.com/kalambet/sidekick/internal/scheduler"
	"github.com/kalambet/sidekick/internal/storage"
)

// ModelLister lists the models available at the chat endpoint.
type ModelLister interface {
	ListModels(ctx context.Context, apiKey string) ([]string, error)
}

// QueueLen reports how many requests wait for a retry.
type QueueLen interface {
	Len() int
}

type AppDeps struct {
	Token     string
	Scheduler *scheduler.Scheduler
	Settings  *config.Settings
	Secrets   *config.Secrets
	Catalog   *companion.Catalog
	State     *presentation.State
	Store     *storage.Store
	Models    ModelLister  // optional; /v1/models returns 503 when nil
	Retry     QueueLen     // optional
	Renderers http.Handler // optional; serves /ws
}

// NewHandler returns the daemon's HTTP API.
func NewHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.Renderers != nil {
		r.With(RendererAuth(deps.Token)).Get("/ws", deps.Renderers.ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))

		r.Post("/events/text", handleTextEvent(deps))
		r.Post("/events/editor", handleEditorEvent(deps))
		r.Post("/commentary/trigger", handleTrigger(deps))
		r.Post("/commentary/dismiss", handleDismiss(deps))

		r.Get("/companions", handleListCompanions(deps))
		r.Get("/companion", handleGetCompanion(deps))
		r.Put("/companion", handleSelectCompanion(deps))
		r.Put("/companions/{id}/prompt", handleSetPrompt(deps))
		r.Delete("/companions/{id}/prompt", handleClearPrompt(deps))

		r.Get("/credential", handleCredentialStatus(deps))
		r.Put("/credential", handleStoreCredential(deps))
		r.Delete("/credential", handleClearCredential(deps))

		r.Get("/settings", handleGetSettings(deps))
		r.Put("/settings", handleSetSetting(deps))
		r.Get("/models", handleModels(deps))

		r.Get("/comments", handleListComments(deps))
		r.Delete("/comments", handlePurgeComments(deps))
		r.Get("/comments/{id}", handleGetComment(deps))
		r.Delete("/comments/{id}", handleDeleteComment(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/sidekick/internal/companion"
	"github.com/kalambet/sidekick/internal/config"
	"github.com/kalambet/sidekick/internal/llm"
)

type companionView struct {
	companion.Companion
	Selected     bool   `json:"selected"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

func companionViews(deps AppDeps) []companionView {
	selected := deps.Settings.SelectedCompanion()
	list := deps.Catalog.List()
	views := make([]companionView, len(list))
	for i, c := range list {
		views[i] = companionView{
			Companion:    c,
			Selected:     c.ID == selected,
			CustomPrompt: deps.Settings.CustomPrompt(c.ID),
		}
	}
	return views
}

func handleListCompanions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, companionViews(deps))
	}
}

func handleGetCompanion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		comp, personality := companion.Resolve(deps.Catalog, deps.Settings, deps.Settings.SelectedCompanion())
		writeJSON(w, map[string]any{
			"companion":   comp,
			"personality": personality,
			"state":       deps.State.Snapshot(),
		})
	}
}

type selectCompanionRequest struct {
	ID string `json:"id"`
}

func handleSelectCompanion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req selectCompanionRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		comp, err := deps.Catalog.Get(req.ID)
		if errors.Is(err, companion.ErrUnknown) {
			httpError(w, http.StatusNotFound, "not_found", "unknown companion %q", req.ID)
			return
		}
		if err := deps.Settings.SelectCompanion(comp.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to select companion: %v", err)
			return
		}
		writeJSON(w, comp)
	}
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func handleSetPrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Catalog.Get(id); err != nil {
			httpError(w, http.StatusNotFound, "not_found", "unknown companion %q", id)
			return
		}
		var req promptRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if err := deps.Settings.SetCustomPrompt(id, req.Prompt); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set prompt: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleClearPrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Settings.ClearCustomPrompt(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear prompt: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleCredentialStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, ok, err := deps.Secrets.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read credential: %v", err)
			return
		}
		writeJSON(w, map[string]bool{"configured": ok})
	}
}

type credentialRequest struct {
	Key string `json:"key"`
}

func handleStoreCredential(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if err := deps.Secrets.Store(req.Key); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store credential: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleClearCredential(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Secrets.Clear(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear credential: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, config.ShowAll(deps.Settings.Current()))
	}
}

type settingRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func handleSetSetting(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settingRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if err := deps.Settings.Set(req.Key, req.Value); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type modelEntry struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

func handleModels(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Models == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "model listing is not available")
			return
		}
		key, _, err := deps.Secrets.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read credential: %v", err)
			return
		}
		ids, err := deps.Models.ListModels(r.Context(), key)
		if err != nil {
			if errors.Is(err, llm.ErrMissingCredential) || errors.Is(err, llm.ErrUnauthorized) {
				httpError(w, http.StatusPreconditionFailed, "credential_required", "%v", err)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "failed to list models: %v", err)
			return
		}
		data := make([]modelEntry, len(ids))
		for i, id := range ids {
			data[i] = modelEntry{ID: id, Object: "model"}
		}
		writeJSON(w, map[string]any{"object": "list", "data": data})
	}
}

package api

import (
	"errors"
	"net/http"

	"github.com/kalambet/sidekick/internal/commentary"
	"github.com/kalambet/sidekick/internal/llm"
	"github.com/kalambet/sidekick/internal/presentation"
	"github.com/kalambet/sidekick/internal/scheduler"
)

type statusResponse struct {
	Scheduler scheduler.Status      `json:"scheduler"`
	State     presentation.Snapshot `json:"state"`
	RetryLen  int                   `json:"retry_queue_len"`
	Comments  int                   `json:"comments"`
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Scheduler: deps.Scheduler.Status(),
			State:     deps.State.Snapshot(),
		}
		if deps.Retry != nil {
			resp.RetryLen = deps.Retry.Len()
		}
		if n, err := deps.Store.CountComments(); err == nil {
			resp.Comments = n
		}
		writeJSON(w, resp)
	}
}

func handleTextEvent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev scheduler.TextEvent
		if !decodeBodyLimit(w, r, &ev, false, maxDocumentBodySize) {
			return
		}
		if ev.Inserted < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "inserted must not be negative")
			return
		}
		triggered := deps.Scheduler.TextChanged(ev)
		writeJSON(w, map[string]bool{"triggered": triggered})
	}
}

type editorEvent struct {
	FileName string `json:"file_name"`
}

func handleEditorEvent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev editorEvent
		if !decodeBody(w, r, &ev, false) {
			return
		}
		deps.Scheduler.ActiveEditorChanged(ev.FileName)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleTrigger(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var doc *scheduler.Document
		var body scheduler.Document
		if !decodeBodyLimit(w, r, &body, true, maxDocumentBodySize) {
			return
		}
		if body != (scheduler.Document{}) {
			doc = &body
		}

		reply, err := deps.Scheduler.Trigger(r.Context(), doc)
		if err != nil {
			commentaryError(w, err)
			return
		}
		writeJSON(w, reply)
	}
}

func handleDismiss(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Scheduler.Dismiss()
		w.WriteHeader(http.StatusNoContent)
	}
}

// commentaryError maps generation and upstream failures onto HTTP errors.
func commentaryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrNoDocument):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, scheduler.ErrStale):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, commentary.ErrNeedsCredential),
		errors.Is(err, llm.ErrMissingCredential), errors.Is(err, llm.ErrUnauthorized):
		httpError(w, http.StatusPreconditionFailed, "credential_required", "%v", err)
	case errors.Is(err, commentary.ErrRateLimited), llm.IsRateLimit(err):
		httpError(w, http.StatusTooManyRequests, "rate_limit_error", "%v", err)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "upstream error: %v", err)
	}
}

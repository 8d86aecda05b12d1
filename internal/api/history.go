package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/sidekick/internal/storage"
)

func handleListComments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		comments, err := deps.Store.ListComments(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list comments: %v", err)
			return
		}
		if comments == nil {
			comments = []storage.Comment{}
		}
		writeJSON(w, comments)
	}
}

func handleGetComment(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Store.GetComment(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "comment not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get comment: %v", err)
			return
		}
		writeJSON(w, c)
	}
}

func handleDeleteComment(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteComment(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "comment not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete comment: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePurgeComments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Store.PurgeComments()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to purge comments: %v", err)
			return
		}
		writeJSON(w, map[string]int{"deleted": n})
	}
}

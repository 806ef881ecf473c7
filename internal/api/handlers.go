package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/middleware"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/store"
)

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		middleware.WriteError(w, http.StatusNotFound, "no collection run has completed yet")
		return
	}

	summary, ok := s.runs.Latest()
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "no collection run has completed yet")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "collection scheduler is not running")
		return
	}

	if !s.trigger.TriggerManual() {
		middleware.WriteError(w, http.StatusConflict, "a manual collection run is already in progress")
		return
	}

	s.logger.Info("Manual collection run accepted",
		zap.String("remoteAddr", r.RemoteAddr))

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// getDocument serves GET .../{id} for one collection
func getDocument[D store.Document](s *Server, coll store.Collection[D]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			middleware.WriteError(w, http.StatusBadRequest, "id is required")
			return
		}

		doc, found, err := coll.FindByID(r.Context(), id)
		if err != nil {
			s.errors.Respond(w, r, fmt.Errorf("failed to load %s %q: %w", coll.Name(), id, err), http.StatusInternalServerError)
			return
		}
		if !found {
			middleware.WriteError(w, http.StatusNotFound, fmt.Sprintf("%s %q not found", coll.Name(), id))
			return
		}

		etag := middleware.DocumentETag(coll.Name(), id, doc.DocumentVersion())
		if middleware.CheckNotModified(w, r, etag) {
			return
		}

		writeJSON(w, http.StatusOK, doc)
	}
}

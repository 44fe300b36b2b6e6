package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/registry-indexer/internal/logging"
)

// handleRecentEvents handles GET /api/events/recent - Latest indexed events
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := parsePagination(r)

	events, err := s.events.RecentEvents(r.Context(), limit)
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Error("Recent events query failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Event query failed", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// handlePackageEvents handles GET /api/events/:package - Event history for one package
func (s *Server) handlePackageEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["package"]

	if name == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Package name required", nil)
		return
	}

	limit, offset := parsePagination(r)

	events, err := s.events.PackageEvents(r.Context(), name, limit, offset)
	if err != nil {
		logging.GetGlobalLogger().WithError(err).WithField("package", name).Error("Package events query failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Event query failed", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"package": name,
		"events":  events,
		"count":   len(events),
	})
}

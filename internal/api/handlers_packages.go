package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/registry-indexer/internal/logging"
	"github.com/registry-indexer/internal/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// parsePagination reads limit and offset query parameters with defaults
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// handleSearch handles GET /api/search?q=... - Search packages by name or description
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Query parameter q is required", nil)
		return
	}

	limit, offset := parsePagination(r)

	packages, err := s.packages.SearchPackages(r.Context(), query, limit, offset)
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Error("Package search failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Search failed", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":    query,
		"packages": packages,
		"count":    len(packages),
	})
}

// handleListPackages handles GET /api/packages - List packages ordered by creation time
func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	packages, err := s.packages.ListPackages(r.Context(), limit, offset)
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Error("Package listing failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Listing failed", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"packages": packages,
		"count":    len(packages),
	})
}

// handleGetPackage handles GET /api/packages/:name - Package detail with versions
func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	if name == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Package name required", nil)
		return
	}

	if s.cache != nil {
		var cached models.PackageWithVersions
		if hit, err := s.cache.Get(r.Context(), s.cache.PackageKey(name), &cached); err == nil && hit {
			respondJSON(w, http.StatusOK, &cached)
			return
		}
	}

	pkg, err := s.packages.GetPackageWithVersions(r.Context(), name)
	if err != nil {
		logging.GetGlobalLogger().WithError(err).WithField("package", name).Error("Package lookup failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Lookup failed", nil)
		return
	}
	if pkg == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Package not found", map[string]interface{}{
			"package": name,
		})
		return
	}

	if s.cache != nil {
		if err := s.cache.Set(r.Context(), s.cache.PackageKey(name), pkg); err != nil {
			logging.GetGlobalLogger().WithError(err).Debug("Failed to cache package detail")
		}
	}

	respondJSON(w, http.StatusOK, pkg)
}

// handleStats handles GET /api/stats - Registry-wide aggregate counts
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.cache != nil {
		var cached models.Stats
		if hit, err := s.cache.Get(r.Context(), s.cache.StatsKey(), &cached); err == nil && hit {
			respondJSON(w, http.StatusOK, &cached)
			return
		}
	}

	stats, err := s.packages.Stats(r.Context())
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Error("Stats query failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Stats query failed", nil)
		return
	}

	if s.cache != nil {
		if err := s.cache.Set(r.Context(), s.cache.StatsKey(), stats); err != nil {
			logging.GetGlobalLogger().WithError(err).Debug("Failed to cache stats")
		}
	}

	respondJSON(w, http.StatusOK, stats)
}

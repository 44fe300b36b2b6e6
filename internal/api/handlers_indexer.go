package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/registry-indexer/internal/logging"
	"github.com/registry-indexer/internal/parser"
)

// handleIndexerStatus handles GET /api/indexer/status - Live worker snapshot
// plus persisted cursor state
func (s *Server) handleIndexerStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.state.GetState(r.Context())
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Error("Indexer state query failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "State query failed", nil)
		return
	}

	response := map[string]interface{}{
		"state": state,
	}
	if s.worker != nil {
		response["worker"] = s.worker.GetStatus()
	}

	respondJSON(w, http.StatusOK, response)
}

// ManualIngestRequest is the body of POST /api/ingest.
type ManualIngestRequest struct {
	Log       string     `json:"log"`
	Signature string     `json:"signature,omitempty"`
	Slot      uint64     `json:"slot,omitempty"`
	BlockTime *time.Time `json:"block_time,omitempty"`
}

// handleManualIngest handles POST /api/ingest - Feed a single raw log line
// through the same parse, record and materialize path the scan worker uses.
func (s *Server) handleManualIngest(w http.ResponseWriter, r *http.Request) {
	var req ManualIngestRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, fmt.Sprintf("Invalid request body: %v", err), nil)
		return
	}

	if strings.TrimSpace(req.Log) == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Field log is required", nil)
		return
	}

	signature := req.Signature
	if signature == "" {
		signature = "manual-" + uuid.New().String()
	}

	event := parser.Parse(req.Log, signature, req.Slot, req.BlockTime)
	if event == nil {
		respondError(w, http.StatusUnprocessableEntity, ErrCodeNotAnEvent, "Log line does not contain a recognizable registry event", nil)
		return
	}

	inserted, err := s.events.InsertEvent(r.Context(), event)
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Error("Manual ingest insert failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to record event", nil)
		return
	}
	if !inserted {
		respondError(w, http.StatusConflict, ErrCodeDuplicate, "An event with this signature was already recorded", map[string]interface{}{
			"signature": signature,
		})
		return
	}

	if err := s.ingester.Ingest(r.Context(), event, req.Log); err != nil {
		// The event row is recorded; report the materialization failure
		logging.GetGlobalLogger().WithError(err).Warn("Manual ingest materialization failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Event recorded but materialization failed", map[string]interface{}{
			"signature": signature,
		})
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"event":          event,
		"contentAddress": parser.ExtractContentAddress(req.Log),
		"message":        "event recorded and materialized",
	})
}

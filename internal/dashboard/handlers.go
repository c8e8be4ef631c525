package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tendapp/tend/internal/engine"
	"github.com/tendapp/tend/internal/schema"
	"github.com/tendapp/tend/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleIssues serves the current unresolved issue snapshot. It never touches
// the store, so it keeps working even while a run is failing.
func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	issues := s.service.Issues()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issues": issues,
		"count":  len(issues),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":          s.service.IsRunning(),
		"current_layer":    s.service.CurrentLayer(),
		"unresolved_count": s.service.UnresolvedCount(),
		"last_run":         s.service.LastRun(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs": s.service.History(),
	})
}

// syncRequest optionally narrows a manual sync to specific layers. An absent
// body runs everything.
type syncRequest struct {
	Layer1 *bool `json:"layer1"`
	Layer2 *bool `json:"layer2"`
	Layer3 *bool `json:"layer3"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	opts := engine.AllLayers(schema.RunManual)

	if r.ContentLength > 0 {
		var req syncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Layer1 != nil {
			opts.Layer1 = *req.Layer1
		}
		if req.Layer2 != nil {
			opts.Layer2 = *req.Layer2
		}
		if req.Layer3 != nil {
			opts.Layer3 = *req.Layer3
		}
	}

	// Reject before announcing anything, so a run that never starts leaves
	// no trace on the broadcast channel.
	if s.service.IsRunning() {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}

	s.Broadcast(MessageTypeRunStarted, map[string]string{"run_type": string(schema.RunManual)})

	result, err := s.service.RunSync(r.Context(), opts)
	if err != nil {
		// Once run_started is out, clients need a terminal event. This
		// covers the race where another run grabbed the lock between the
		// check above and the call.
		s.Broadcast(MessageTypeRunFailed, map[string]string{
			"run_type": string(schema.RunManual),
			"error":    err.Error(),
		})
		if errors.Is(err, engine.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, "sync already in progress")
			return
		}
		s.logger.Printf("Manual sync failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.Broadcast(MessageTypeRunComplete, result)
	writeJSON(w, http.StatusOK, result)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
	NewLinkID  string `json:"new_link_id"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resolution := schema.Resolution(req.Resolution)
	if !resolution.Valid() {
		writeError(w, http.StatusBadRequest, "invalid resolution")
		return
	}

	if err := s.service.ResolveIssue(r.Context(), id, resolution, req.NewLinkID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "issue not found or already resolved")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.Broadcast(MessageTypeIssueResolved, map[string]string{
		"issue_id":   id,
		"resolution": string(resolution),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.service.DismissIssue(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "issue not found or already resolved")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.Broadcast(MessageTypeIssueResolved, map[string]string{
		"issue_id":   id,
		"resolution": string(schema.ResolutionIgnored),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings schema.SyncSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := settings.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.service.SetSettings(settings)
	if s.config.SaveSettings != nil {
		if err := s.config.SaveSettings(settings); err != nil {
			s.logger.Printf("Failed to persist settings: %v", err)
			writeError(w, http.StatusInternalServerError, "settings applied but not persisted")
			return
		}
	}

	s.Broadcast(MessageTypeSettingsUpdated, settings)
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"autopost/internal/poster"
	"autopost/internal/storage"
	"autopost/pkg/logx"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "autopost"})
}

// ---- scheduler ----

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.poster.Status(r.Context()))
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var set poster.Settings
	if !decodeBody(w, r, &set) {
		return
	}
	if err := s.poster.Activate(r.Context(), set); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.poster.Status(r.Context()))
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := s.poster.Deactivate(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.poster.Status(r.Context()))
}

func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	var set poster.Settings
	if !decodeBody(w, r, &set) {
		return
	}
	if err := s.poster.Reconfigure(r.Context(), set); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.poster.Status(r.Context()))
}

func (s *Server) handleTestCycle(w http.ResponseWriter, r *http.Request) {
	if err := s.poster.TriggerTestCycle(r.Context()); err != nil {
		if errors.Is(err, poster.ErrNothingToPost) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "dispatched"})
}

// ---- message pool ----

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.LoadMessages(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var m storage.Message
	if !decodeBody(w, r, &m) {
		return
	}
	if m.Text == "" && len(m.MediaPaths) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("message needs text or media"))
		return
	}
	m.ID = uuid.NewString()

	s.editMu.Lock()
	defer s.editMu.Unlock()
	msgs, err := s.store.LoadMessages(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	msgs = append(msgs, m)
	if err := s.store.SaveMessages(r.Context(), msgs); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("message added", logx.String("id", m.ID))
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.editMu.Lock()
	defer s.editMu.Unlock()
	msgs, err := s.store.LoadMessages(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	kept := msgs[:0]
	for _, m := range msgs {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(msgs) {
		writeError(w, http.StatusNotFound, errors.New("message not found"))
		return
	}
	// Rotation survives deletions: selection resolves by message ID and
	// clamps the fallback index by modulo.
	if err := s.store.SaveMessages(r.Context(), kept); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("message deleted", logx.String("id", id))
	w.WriteHeader(http.StatusNoContent)
}

// ---- destinations ----

var (
	errDestinationExists   = errors.New("destination already exists")
	errDestinationNotFound = errors.New("destination not found")
)

func (s *Server) handleListDestinations(w http.ResponseWriter, r *http.Request) {
	dests, err := s.store.LoadDestinations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if dests == nil {
		dests = []storage.Destination{}
	}
	writeJSON(w, http.StatusOK, dests)
}

func (s *Server) handleAddDestination(w http.ResponseWriter, r *http.Request) {
	var d storage.Destination
	if !decodeBody(w, r, &d) {
		return
	}
	if d.ID == 0 {
		writeError(w, http.StatusBadRequest, errors.New("destination id is required"))
		return
	}

	err := s.poster.UpdateDestinations(r.Context(), func(dests []storage.Destination) ([]storage.Destination, error) {
		for _, existing := range dests {
			if existing.ID == d.ID {
				return nil, errDestinationExists
			}
		}
		return append(dests, d), nil
	})
	switch {
	case errors.Is(err, errDestinationExists):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusCreated, d)
	}
}

func (s *Server) handleUpdateDestination(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid destination id"))
		return
	}
	var patch struct {
		Name    *string `json:"name,omitempty"`
		Enabled *bool   `json:"enabled,omitempty"`
	}
	if !decodeBody(w, r, &patch) {
		return
	}

	var updated storage.Destination
	err = s.poster.UpdateDestinations(r.Context(), func(dests []storage.Destination) ([]storage.Destination, error) {
		for i := range dests {
			if dests[i].ID != id {
				continue
			}
			if patch.Name != nil {
				dests[i].Name = *patch.Name
			}
			if patch.Enabled != nil {
				dests[i].Enabled = *patch.Enabled
			}
			updated = dests[i]
			return dests, nil
		}
		return nil, errDestinationNotFound
	})
	switch {
	case errors.Is(err, errDestinationNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, updated)
	}
}

func (s *Server) handleDeleteDestination(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid destination id"))
		return
	}

	err = s.poster.UpdateDestinations(r.Context(), func(dests []storage.Destination) ([]storage.Destination, error) {
		kept := dests[:0]
		for _, d := range dests {
			if d.ID != id {
				kept = append(kept, d)
			}
		}
		if len(kept) == len(dests) {
			return nil, errDestinationNotFound
		}
		return kept, nil
	})
	switch {
	case errors.Is(err, errDestinationNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---- delivery log ----

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	entries, err := s.store.LoadLog(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []storage.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---- helpers ----

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

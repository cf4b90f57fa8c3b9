package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-sync/internal/device"
	"github.com/nerrad567/gray-logic-sync/internal/message"
)

// sendMessageRequest is the POST /devices/{id}/messages body.
type sendMessageRequest struct {
	Data json.RawMessage `json:"data"`
}

// handleListDevices returns every known peer, sorted by name.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.sync.ListDevices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleSendMessage queues a message for a known peer. A string payload is
// treated as a resource locator and must pass the sendability check.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.isKnownPeer(id) {
		writeNotFound(w, "device not found")
		return
	}

	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Data) == 0 || string(req.Data) == "null" {
		writeValidationError(w, "data is required")
		return
	}

	var locator string
	if json.Unmarshal(req.Data, &locator) == nil && !s.sync.IsSendable(locator) {
		writeValidationError(w, "locator is not sendable")
		return
	}

	msg, err := s.sync.Send(r.Context(), id, req.Data)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, msg)
	case errors.Is(err, message.ErrSendFailed), errors.Is(err, message.ErrNoIdentity):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "message could not be queued")
	default:
		s.logger.Error("sending message failed", "to", id, "error", err)
		writeInternalError(w, "failed to send message")
	}
}

func (s *Server) isKnownPeer(id string) bool {
	return slices.ContainsFunc(s.sync.ListDevices(), func(r device.Record) bool {
		return r.ID == id
	})
}

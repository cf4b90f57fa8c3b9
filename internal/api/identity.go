package api

import (
	"net/http"

	"github.com/nerrad567/gray-logic-sync/internal/device"
)

// updateIdentityRequest is the PATCH /identity body. An omitted or null
// field is left unchanged; an empty string clears it.
type updateIdentityRequest struct {
	Name *string `json:"name"`
	Icon *string `json:"icon"`
}

// handleGetIdentity returns this device's own record.
func (s *Server) handleGetIdentity(w http.ResponseWriter, _ *http.Request) {
	self := s.sync.Self()
	if self.ID == "" {
		writeNotFound(w, "identity not initialised")
		return
	}
	writeJSON(w, http.StatusOK, self)
}

// handleUpdateIdentity renames or re-icons this device and republishes it.
func (s *Server) handleUpdateIdentity(w http.ResponseWriter, r *http.Request) {
	var req updateIdentityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == nil && req.Icon == nil {
		writeValidationError(w, "name or icon is required")
		return
	}

	rec, err := s.sync.UpdateIdentity(r.Context(), device.IdentityOptions{
		Name: req.Name,
		Icon: req.Icon,
	})
	if err != nil {
		s.logger.Error("updating identity failed", "error", err)
		writeInternalError(w, "failed to update identity")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

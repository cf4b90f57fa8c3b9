package api

import "net/http"

type sendableRequest struct {
	Locator string `json:"locator"`
}

// handleSendable reports whether a locator may be sent to another device.
func (s *Server) handleSendable(w http.ResponseWriter, r *http.Request) {
	var req sendableRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sendable": s.sync.IsSendable(req.Locator),
	})
}

// handleTriggerSync schedules a reconcile and a drain.
func (s *Server) handleTriggerSync(w http.ResponseWriter, _ *http.Request) {
	s.sync.TriggerSync()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-sync/internal/activity"
	"github.com/nerrad567/gray-logic-sync/internal/devsync"
)

// handleListActivity returns recorded sync activity, most recent first.
//
// Query parameters: kind, device_id, limit, offset.
func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := activity.Filter{
		Kind:     q.Get("kind"),
		DeviceID: q.Get("device_id"),
	}

	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	res, err := s.sync.Activity(r.Context(), filter)
	switch {
	case errors.Is(err, devsync.ErrNoActivityLog):
		writeNotFound(w, "activity log not configured")
	case err != nil:
		s.logger.Error("listing activity failed", "error", err)
		writeInternalError(w, "failed to list activity")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// intParam parses an optional integer query parameter, writing a 400 on
// failure.
func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeBadRequest(w, name+" must be an integer")
		return 0, false
	}
	return n, true
}

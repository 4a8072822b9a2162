package api

import (
	"net/http"
	"strconv"

	"github.com/fuomag9/dynamics-sync-lite/internal/activity"
	"github.com/fuomag9/dynamics-sync-lite/internal/models"
)

// HandleGetLogs returns a page of activity log entries, newest first
func HandleGetLogs(recorder *activity.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := activity.Filter{Level: q.Get("level")}
		if v, err := strconv.Atoi(q.Get("limit")); err == nil {
			filter.Limit = v
		}
		if v, err := strconv.Atoi(q.Get("offset")); err == nil {
			filter.Offset = v
		}

		entries, total, err := recorder.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if entries == nil {
			entries = []models.LogEntry{}
		}

		writeJSON(w, http.StatusOK, envelope{"logs": entries, "total": total})
	}
}

// HandleGetLogStats returns level counts for the admin dashboard
func HandleGetLogStats(recorder *activity.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := recorder.Stats(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// HandleClearLogs deletes every activity log entry
func HandleClearLogs(recorder *activity.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := recorder.Clear(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope{"success": true, "deleted": deleted})
	}
}

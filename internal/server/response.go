package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"ytdlp-api/internal/task"
)

type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	TaskID string `json:"task_id,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[server] error writing response: %v", err)
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, envelope{Status: "error", Detail: detail})
}

// writeTaskError maps task errors to client errors.
func writeTaskError(w http.ResponseWriter, err error) {
	var stateErr *task.InvalidStateError
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &stateErr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// statusView is the public shape of a task. Result and error only appear
// once the task is finished.
type statusView struct {
	ID       string         `json:"id"`
	URL      string         `json:"url"`
	Status   task.Status    `json:"status"`
	Progress *task.Progress `json:"progress"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func newStatusView(r *task.Record) statusView {
	v := statusView{
		ID:       r.ID,
		URL:      r.URL,
		Status:   r.Status,
		Progress: r.Progress,
	}
	switch r.Status {
	case task.StatusCompleted:
		v.Result = r.Result
	case task.StatusFailed, task.StatusCanceled:
		v.Error = r.ErrorMessage()
	}
	return v
}

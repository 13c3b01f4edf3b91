package handlers

import (
	"net/http"

	"github.com/pliu/pairchat/internal/apperr"
	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/middleware"
	"github.com/pliu/pairchat/internal/models"
)

type TaskHandler struct {
	Service *chat.Service
}

type TaskRequest struct {
	UserA  string            `json:"userA"`
	UserB  string            `json:"userB"`
	TaskID int64             `json:"taskId"`
	Text   string            `json:"text"`
	Status models.TaskStatus `json:"status"`
}

func (req TaskRequest) pair(r *http.Request) (chat.Pair, error) {
	p := chat.Pair{UserA: req.UserA, UserB: req.UserB}
	return p, p.Authorize(middleware.Username(r.Context()))
}

func (h *TaskHandler) GetTasks(w http.ResponseWriter, r *http.Request) {
	p, err := pairFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	tasks, err := h.Service.Tasks(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tasks": nonNil(tasks)})
}

func (h *TaskHandler) AddTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := req.pair(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	task, err := h.Service.AddTask(r.Context(), p, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "task": task})
}

func (h *TaskHandler) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := req.pair(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.TaskID <= 0 {
		writeError(w, r, apperr.InvalidArg("taskId must be a positive integer"))
		return
	}

	task, err := h.Service.UpdateTaskStatus(r.Context(), p, req.TaskID, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "task": task})
}

func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	p, err := pairFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := parseID(r.URL.Query().Get("taskId"), "taskId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Service.DeleteTask(r.Context(), p, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

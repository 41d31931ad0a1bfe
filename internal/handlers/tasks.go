package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/benvon/smart-reminder/internal/models"
	"github.com/benvon/smart-reminder/internal/services/nlp"
	"github.com/benvon/smart-reminder/internal/services/tasks"
	"github.com/benvon/smart-reminder/internal/validation"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// TaskService is the task pipeline used by the handlers
type TaskService interface {
	AddTask(ctx context.Context, text string) (*tasks.AddTaskResult, error)
	ListTasks(ctx context.Context, includeCompleted bool) ([]*models.Task, error)
	MarkDone(ctx context.Context, id uuid.UUID) (*tasks.MarkDoneResult, error)
	TaskReminders(ctx context.Context, id uuid.UUID) ([]*models.Reminder, error)
}

var _ TaskService = (*tasks.Service)(nil)

// TaskHandler handles task requests
type TaskHandler struct {
	service TaskService
	logger  *zap.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(service TaskService, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{service: service, logger: logger}
}

// RegisterRoutes registers task routes on a router already prefixed with /tasks
func (h *TaskHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.ListTasks).Methods("GET")
	r.HandleFunc("", h.AddTask).Methods("POST")
	r.HandleFunc("/{id}/done", h.MarkDone).Methods("POST")
	r.HandleFunc("/{id}/reminders", h.ListReminders).Methods("GET")
}

// RegisterLegacyRoutes registers the unversioned paths of the first API
func (h *TaskHandler) RegisterLegacyRoutes(r *mux.Router) {
	r.HandleFunc("/add_task", h.AddTask).Methods("POST")
	r.HandleFunc("/tasks", h.ListTasks).Methods("GET")
	r.HandleFunc("/tasks/{id}/done", h.MarkDone).Methods("POST")
}

// TaskOutcome reports one task touched by an add request
type TaskOutcome struct {
	Task      *models.Task       `json:"task"`
	Created   bool               `json:"created"`
	Reminders []*models.Reminder `json:"reminders,omitempty"`
}

// AddTaskResponse is the data of a successful add request. CreatedTaskIDs
// holds one id per resolved date; a duplicate reports the existing task's id.
type AddTaskResponse struct {
	CreatedTaskIDs []uuid.UUID        `json:"created_task_ids"`
	Intent         nlp.ResolvedIntent `json:"intent"`
	Tasks          []TaskOutcome      `json:"tasks"`
}

// AddTask resolves free text into dated tasks with reminders
func (h *TaskHandler) AddTask(w http.ResponseWriter, r *http.Request) {
	var req validation.AddTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	req.Text = validation.SanitizeText(req.Text)
	if err := validation.Struct(req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	result, err := h.service.AddTask(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, tasks.ErrEmptyText) {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "text is required")
			return
		}
		h.logger.Error("add_task_failed", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "failed to add task")
		return
	}

	resp := AddTaskResponse{
		CreatedTaskIDs: result.TaskIDs(),
		Intent:         result.Intent,
		Tasks:          make([]TaskOutcome, len(result.Tasks)),
	}
	status := http.StatusOK
	for i, added := range result.Tasks {
		resp.Tasks[i] = TaskOutcome{Task: added.Task, Created: added.Created, Reminders: added.Reminders}
		if added.Created {
			status = http.StatusCreated
		}
	}
	respondJSON(w, status, resp)
}

// ListTasks lists tasks ordered by date. Completed tasks are included only
// with include_completed=true.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	includeCompleted := false
	if raw := r.URL.Query().Get("include_completed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "include_completed must be a boolean")
			return
		}
		includeCompleted = v
	}

	list, err := h.service.ListTasks(r.Context(), includeCompleted)
	if err != nil {
		h.logger.Error("list_tasks_failed", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "failed to list tasks")
		return
	}
	if list == nil {
		list = []*models.Task{}
	}
	respondJSON(w, http.StatusOK, list)
}

// MarkDone completes a task and cancels its unfired reminders
func (h *TaskHandler) MarkDone(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	result, err := h.service.MarkDone(r.Context(), id)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			respondJSONError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		h.logger.Error("mark_done_failed", zap.String("task_id", id.String()), zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "failed to complete task")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ListReminders lists a task's reminders by fire time
func (h *TaskHandler) ListReminders(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	reminders, err := h.service.TaskReminders(r.Context(), id)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			respondJSONError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		h.logger.Error("list_reminders_failed", zap.String("task_id", id.String()), zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "failed to list reminders")
		return
	}
	if reminders == nil {
		reminders = []*models.Reminder{}
	}
	respondJSON(w, http.StatusOK, reminders)
}

func taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := mux.Vars(r)["id"]
	if err := validation.Struct(validation.TaskIDParam{ID: raw}); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "task id must be a UUID")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "task id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benvon/smart-reminder/internal/models"
	"github.com/benvon/smart-reminder/internal/services/nlp"
	"github.com/benvon/smart-reminder/internal/services/tasks"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type mockTaskService struct {
	addTaskFunc       func(ctx context.Context, text string) (*tasks.AddTaskResult, error)
	listTasksFunc     func(ctx context.Context, includeCompleted bool) ([]*models.Task, error)
	markDoneFunc      func(ctx context.Context, id uuid.UUID) (*tasks.MarkDoneResult, error)
	taskRemindersFunc func(ctx context.Context, id uuid.UUID) ([]*models.Reminder, error)
}

func (m *mockTaskService) AddTask(ctx context.Context, text string) (*tasks.AddTaskResult, error) {
	if m.addTaskFunc != nil {
		return m.addTaskFunc(ctx, text)
	}
	return &tasks.AddTaskResult{}, nil
}

func (m *mockTaskService) ListTasks(ctx context.Context, includeCompleted bool) ([]*models.Task, error) {
	if m.listTasksFunc != nil {
		return m.listTasksFunc(ctx, includeCompleted)
	}
	return nil, nil
}

func (m *mockTaskService) MarkDone(ctx context.Context, id uuid.UUID) (*tasks.MarkDoneResult, error) {
	if m.markDoneFunc != nil {
		return m.markDoneFunc(ctx, id)
	}
	return nil, tasks.ErrTaskNotFound
}

func (m *mockTaskService) TaskReminders(ctx context.Context, id uuid.UUID) ([]*models.Reminder, error) {
	if m.taskRemindersFunc != nil {
		return m.taskRemindersFunc(ctx, id)
	}
	return nil, nil
}

var testDate = models.Date{Year: 2026, Month: time.March, Day: 5}

func newTaskRouter(svc TaskService) *mux.Router {
	h := NewTaskHandler(svc, nil)
	r := mux.NewRouter()
	h.RegisterRoutes(r.PathPrefix("/api/v1/tasks").Subrouter())
	h.RegisterLegacyRoutes(r)
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return env
}

func TestTaskHandler_AddTask(t *testing.T) {
	t.Parallel()

	existing := models.NewTask("buy milk", testDate, nil, time.Now())
	created := models.NewTask("buy milk", testDate.AddDays(1), nil, time.Now())

	tests := []struct {
		name           string
		path           string
		body           string
		addTask        func(ctx context.Context, text string) (*tasks.AddTaskResult, error)
		expectedStatus int
		validate       func(*testing.T, envelope)
	}{
		{
			name: "created",
			path: "/api/v1/tasks",
			body: `{"text":"  buy milk tomorrow  "}`,
			addTask: func(_ context.Context, text string) (*tasks.AddTaskResult, error) {
				if text != "buy milk tomorrow" {
					return nil, errors.New("unexpected text " + text)
				}
				return &tasks.AddTaskResult{
					Intent: nlp.ResolvedIntent{Description: "buy milk", Dates: []models.Date{testDate.AddDays(1)}, Source: nlp.SourceRules},
					Tasks:  []tasks.AddedTask{{Task: created, Created: true}},
				}, nil
			},
			expectedStatus: http.StatusCreated,
			validate: func(t *testing.T, env envelope) {
				var data AddTaskResponse
				if err := json.Unmarshal(env.Data, &data); err != nil {
					t.Fatalf("Failed to decode data: %v", err)
				}
				if len(data.CreatedTaskIDs) != 1 || data.CreatedTaskIDs[0] != created.ID {
					t.Errorf("Expected created id %s, got %v", created.ID, data.CreatedTaskIDs)
				}
				if data.Intent.Source != nlp.SourceRules {
					t.Errorf("Expected source rules, got %s", data.Intent.Source)
				}
			},
		},
		{
			name: "duplicate returns existing id",
			path: "/add_task",
			body: `{"text":"buy milk"}`,
			addTask: func(context.Context, string) (*tasks.AddTaskResult, error) {
				return &tasks.AddTaskResult{Tasks: []tasks.AddedTask{{Task: existing, Created: false}}}, nil
			},
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, env envelope) {
				var data AddTaskResponse
				if err := json.Unmarshal(env.Data, &data); err != nil {
					t.Fatalf("Failed to decode data: %v", err)
				}
				if len(data.CreatedTaskIDs) != 1 || data.CreatedTaskIDs[0] != existing.ID {
					t.Errorf("Expected existing id %s, got %v", existing.ID, data.CreatedTaskIDs)
				}
				if data.Tasks[0].Created {
					t.Error("Expected created=false for duplicate")
				}
			},
		},
		{
			name:           "blank text",
			path:           "/api/v1/tasks",
			body:           `{"text":"   "}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown field",
			path:           "/api/v1/tasks",
			body:           `{"text":"x","user_id":"1"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "too long",
			path:           "/api/v1/tasks",
			body:           `{"text":"` + strings.Repeat("a", 1001) + `"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "store failure",
			path: "/api/v1/tasks",
			body: `{"text":"buy milk"}`,
			addTask: func(context.Context, string) (*tasks.AddTaskResult, error) {
				return nil, errors.New("database is locked")
			},
			expectedStatus: http.StatusInternalServerError,
			validate: func(t *testing.T, env envelope) {
				if strings.Contains(env.Message, "locked") {
					t.Errorf("Expected internal detail to be hidden, got %q", env.Message)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := newTaskRouter(&mockTaskService{addTaskFunc: tt.addTask})
			req := httptest.NewRequest("POST", tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			env := decodeEnvelope(t, w)
			if env.Success != (tt.expectedStatus < 300) {
				t.Errorf("Expected success %v, got %v", tt.expectedStatus < 300, env.Success)
			}
			if tt.validate != nil {
				tt.validate(t, env)
			}
		})
	}
}

func TestTaskHandler_ListTasks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		path            string
		expectedStatus  int
		expectCompleted bool
		listErr         error
	}{
		{name: "default", path: "/api/v1/tasks", expectedStatus: http.StatusOK},
		{name: "include completed", path: "/api/v1/tasks?include_completed=true", expectedStatus: http.StatusOK, expectCompleted: true},
		{name: "legacy", path: "/tasks", expectedStatus: http.StatusOK},
		{name: "invalid flag", path: "/api/v1/tasks?include_completed=maybe", expectedStatus: http.StatusBadRequest},
		{name: "store failure", path: "/tasks", expectedStatus: http.StatusInternalServerError, listErr: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotCompleted bool
			svc := &mockTaskService{listTasksFunc: func(_ context.Context, includeCompleted bool) ([]*models.Task, error) {
				gotCompleted = includeCompleted
				if tt.listErr != nil {
					return nil, tt.listErr
				}
				return []*models.Task{models.NewTask("buy milk", testDate, nil, time.Now())}, nil
			}}
			w := httptest.NewRecorder()
			newTaskRouter(svc).ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}
			if gotCompleted != tt.expectCompleted {
				t.Errorf("Expected include_completed %v, got %v", tt.expectCompleted, gotCompleted)
			}
			var list []models.Task
			if err := json.Unmarshal(decodeEnvelope(t, w).Data, &list); err != nil {
				t.Fatalf("Failed to decode tasks: %v", err)
			}
			if len(list) != 1 || list[0].Description != "buy milk" {
				t.Errorf("Expected one 'buy milk' task, got %+v", list)
			}
		})
	}
}

func TestTaskHandler_ListTasks_EmptyIsArray(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newTaskRouter(&mockTaskService{}).ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/tasks", nil))

	if got := string(decodeEnvelope(t, w).Data); got != "[]" {
		t.Errorf("Expected empty array, got %s", got)
	}
}

func TestTaskHandler_MarkDone(t *testing.T) {
	t.Parallel()

	task := models.NewTask("buy milk", testDate, nil, time.Now())

	tests := []struct {
		name           string
		path           string
		markDone       func(ctx context.Context, id uuid.UUID) (*tasks.MarkDoneResult, error)
		expectedStatus int
		expectedError  string
	}{
		{
			name: "done",
			path: "/api/v1/tasks/" + task.ID.String() + "/done",
			markDone: func(_ context.Context, id uuid.UUID) (*tasks.MarkDoneResult, error) {
				if id != task.ID {
					return nil, errors.New("wrong id")
				}
				return &tasks.MarkDoneResult{Task: task, Cancelled: 3}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "legacy not found",
			path:           "/tasks/" + uuid.NewString() + "/done",
			expectedStatus: http.StatusNotFound,
			expectedError:  "not_found",
		},
		{
			name:           "invalid id",
			path:           "/api/v1/tasks/42/done",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "store failure",
			path: "/api/v1/tasks/" + task.ID.String() + "/done",
			markDone: func(context.Context, uuid.UUID) (*tasks.MarkDoneResult, error) {
				return nil, errors.New("boom")
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			newTaskRouter(&mockTaskService{markDoneFunc: tt.markDone}).ServeHTTP(w, httptest.NewRequest("POST", tt.path, nil))

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			env := decodeEnvelope(t, w)
			if tt.expectedError != "" && env.Error != tt.expectedError {
				t.Errorf("Expected error %q, got %q", tt.expectedError, env.Error)
			}
			if tt.expectedStatus == http.StatusOK {
				var result tasks.MarkDoneResult
				if err := json.Unmarshal(env.Data, &result); err != nil {
					t.Fatalf("Failed to decode result: %v", err)
				}
				if result.Cancelled != 3 {
					t.Errorf("Expected 3 cancelled reminders, got %d", result.Cancelled)
				}
			}
		})
	}
}

func TestTaskHandler_ListReminders(t *testing.T) {
	t.Parallel()

	taskID := uuid.New()
	reminder := models.NewReminder(taskID, time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC), time.Now())

	svc := &mockTaskService{taskRemindersFunc: func(_ context.Context, id uuid.UUID) ([]*models.Reminder, error) {
		if id != taskID {
			return nil, tasks.ErrTaskNotFound
		}
		return []*models.Reminder{reminder}, nil
	}}
	router := newTaskRouter(svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/tasks/"+taskID.String()+"/reminders", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var reminders []models.Reminder
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &reminders); err != nil {
		t.Fatalf("Failed to decode reminders: %v", err)
	}
	if len(reminders) != 1 || reminders[0].ID != reminder.ID {
		t.Errorf("Expected reminder %s, got %+v", reminder.ID, reminders)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/tasks/"+uuid.NewString()+"/reminders", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"podscribe/internal/api"
	"podscribe/internal/events"
	"podscribe/internal/logging"
	"podscribe/internal/queue"
	"podscribe/internal/services"
)

const defaultListLimit = 50

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.enqueue(r, req.SourceURL, req.Requester)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, resp)
}

// enqueue adds or reuses the active task for sourceURL and wakes an idle
// worker.
func (s *apiServer) enqueue(r *http.Request, sourceURL, requester string) (api.SubmitResponse, error) {
	comp := s.daemon.comp
	task, created, err := comp.Store.AddTask(r.Context(), queue.TypeEpisode, queue.Input{
		SourceURL: sourceURL,
		Requester: strings.TrimSpace(requester),
	})
	if err != nil {
		return api.SubmitResponse{}, err
	}
	if created {
		comp.Emitter.Emit(events.Event{Type: events.TaskQueued, TaskID: task.ID, SourceURL: task.SourceURL})
		comp.Workflow.Wake()
		logging.WithContext(r.Context(), s.logger).Info("task queued",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.String("source_url", task.SourceURL),
		)
	}
	return api.SubmitResponse{Task: api.FromTask(task), Created: created}, nil
}

// handleTasks serves both the URL lookup (?url=) and the filtered list.
func (s *apiServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	store := s.daemon.comp.Store
	if sourceURL := strings.TrimSpace(query.Get("url")); sourceURL != "" {
		task, err := store.GetTaskByURL(r.Context(), sourceURL)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if task == nil {
			s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "lookup task",
				fmt.Sprintf("no task for %s", sourceURL), nil))
			return
		}
		s.writeJSON(w, http.StatusOK, api.TaskResponse{Task: api.FromTask(task)})
		return
	}

	limit := defaultListLimit
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "list tasks",
				fmt.Sprintf("invalid limit %q", raw), nil))
			return
		}
		limit = parsed
	}
	var statuses []queue.Status
	for _, value := range query["status"] {
		trimmed := strings.ToUpper(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		status := queue.Status(trimmed)
		if !status.Valid() {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "list tasks",
				fmt.Sprintf("unknown status %q", value), nil))
			return
		}
		statuses = append(statuses, status)
	}

	tasks, err := store.List(r.Context(), limit, statuses...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskListResponse{Tasks: api.FromTasks(tasks)})
}

func (s *apiServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.daemon.comp.Store.GetTask(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if task == nil {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "get task", fmt.Sprintf("task %d not found", id), nil))
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskResponse{Task: api.FromTask(task)})
}

func (s *apiServer) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.daemon.comp.Store.RequestCancel(r.Context(), id)
	if errors.Is(err, queue.ErrInvalidTransition) {
		err = services.Wrap(services.ErrConsistency, "api", "cancel task", "", err)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("task cancel requested",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String("status", string(task.Status)),
	)
	s.writeJSON(w, http.StatusAccepted, api.TaskResponse{Task: api.FromTask(task)})
}

func (s *apiServer) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.daemon.comp.Store.QueueStatus(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromStatusCounts(counts))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/taskbrain/backend/internal/domain"
	"github.com/taskbrain/backend/internal/middleware"
	"github.com/taskbrain/backend/internal/usecase"
)

type Handler struct {
	authUsecase *usecase.AuthUsecase
	taskUsecase *usecase.TaskUsecase
}

func NewHandler(auth *usecase.AuthUsecase, task *usecase.TaskUsecase) *Handler {
	return &Handler{
		authUsecase: auth,
		taskUsecase: task,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// Task handlers

type taskRequest struct {
	CategoryID  uuid.UUID  `json:"category_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Deadline    *time.Time `json:"deadline"`
	Done        bool       `json:"done"`
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}

	task := &domain.Task{
		CategoryID:  req.CategoryID,
		Title:       req.Title,
		Description: req.Description,
		Deadline:    req.Deadline,
		Done:        req.Done,
	}
	err := h.taskUsecase.CreateTask(userID, task)
	if errors.Is(err, usecase.ErrUnknownCategory) {
		writeError(w, http.StatusBadRequest, "Unknown category")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	tasks, err := h.taskUsecase.ListTasks(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid task id")
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	task := &domain.Task{
		ID:          taskID,
		CategoryID:  req.CategoryID,
		Title:       req.Title,
		Description: req.Description,
		Deadline:    req.Deadline,
		Done:        req.Done,
	}
	switch err := h.taskUsecase.UpdateTask(userID, task); err {
	case nil:
		writeJSON(w, http.StatusOK, task)
	case usecase.ErrNotFound:
		writeError(w, http.StatusNotFound, "Task not found")
	case usecase.ErrNotOwner:
		writeError(w, http.StatusForbidden, "Not your task")
	default:
		writeError(w, http.StatusInternalServerError, "Failed to update task")
	}
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid task id")
		return
	}

	switch err := h.taskUsecase.DeleteTask(userID, taskID); err {
	case nil:
		w.WriteHeader(http.StatusNoContent)
	case usecase.ErrNotFound:
		writeError(w, http.StatusNotFound, "Task not found")
	case usecase.ErrNotOwner:
		writeError(w, http.StatusForbidden, "Not your task")
	default:
		writeError(w, http.StatusInternalServerError, "Failed to delete task")
	}
}

// Category handlers

type categoryRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}

	category := &domain.Category{Name: req.Name, Color: req.Color}
	if err := h.taskUsecase.CreateCategory(userID, category); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create category")
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	categories, err := h.taskUsecase.ListCategories(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list categories")
		return
	}
	if categories == nil {
		categories = []*domain.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	categoryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid category id")
		return
	}

	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	category := &domain.Category{ID: categoryID, Name: req.Name, Color: req.Color}
	switch err := h.taskUsecase.UpdateCategory(userID, category); err {
	case nil:
		writeJSON(w, http.StatusOK, category)
	case usecase.ErrNotFound:
		writeError(w, http.StatusNotFound, "Category not found")
	case usecase.ErrNotOwner:
		writeError(w, http.StatusForbidden, "Not your category")
	default:
		writeError(w, http.StatusInternalServerError, "Failed to update category")
	}
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	categoryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid category id")
		return
	}

	switch err := h.taskUsecase.DeleteCategory(userID, categoryID); err {
	case nil:
		w.WriteHeader(http.StatusNoContent)
	case usecase.ErrNotFound:
		writeError(w, http.StatusNotFound, "Category not found")
	case usecase.ErrNotOwner:
		writeError(w, http.StatusForbidden, "Not your category")
	default:
		writeError(w, http.StatusInternalServerError, "Failed to delete category")
	}
}

func (h *Handler) CountByDeadlines(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	buckets, err := h.taskUsecase.CountByDeadlines(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count deadlines")
		return
	}
	if buckets == nil {
		buckets = []*domain.DeadlineBucket{}
	}
	writeJSON(w, http.StatusOK, buckets)
}

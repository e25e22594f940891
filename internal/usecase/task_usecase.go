package usecase

import (
	"errors"

	"github.com/google/uuid"

	"github.com/taskbrain/backend/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrNotOwner        = errors.New("resource belongs to another user")
	ErrUnknownCategory = errors.New("unknown category")
)

// TaskUsecase is routine CRUD glue; everything interesting about requests
// reaching it already happened in the session middleware.
type TaskUsecase struct {
	taskRepo     domain.TaskRepository
	categoryRepo domain.CategoryRepository
}

func NewTaskUsecase(taskRepo domain.TaskRepository, categoryRepo domain.CategoryRepository) *TaskUsecase {
	return &TaskUsecase{taskRepo: taskRepo, categoryRepo: categoryRepo}
}

func (u *TaskUsecase) CreateTask(userID uuid.UUID, task *domain.Task) error {
	category, err := u.categoryRepo.GetByID(task.CategoryID)
	if err != nil {
		return err
	}
	if category == nil || category.UserID != userID {
		return ErrUnknownCategory
	}
	task.UserID = userID
	return u.taskRepo.Create(task)
}

func (u *TaskUsecase) ListTasks(userID uuid.UUID) ([]*domain.Task, error) {
	return u.taskRepo.ListByUser(userID)
}

func (u *TaskUsecase) UpdateTask(userID uuid.UUID, task *domain.Task) error {
	existing, err := u.taskRepo.GetByID(task.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	if existing.UserID != userID {
		return ErrNotOwner
	}
	task.UserID = userID
	task.CreatedAt = existing.CreatedAt
	return u.taskRepo.Update(task)
}

func (u *TaskUsecase) DeleteTask(userID uuid.UUID, taskID uuid.UUID) error {
	existing, err := u.taskRepo.GetByID(taskID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	if existing.UserID != userID {
		return ErrNotOwner
	}
	return u.taskRepo.Delete(taskID)
}

func (u *TaskUsecase) CreateCategory(userID uuid.UUID, category *domain.Category) error {
	category.UserID = userID
	return u.categoryRepo.Create(category)
}

func (u *TaskUsecase) ListCategories(userID uuid.UUID) ([]*domain.Category, error) {
	return u.categoryRepo.ListByUser(userID)
}

func (u *TaskUsecase) UpdateCategory(userID uuid.UUID, category *domain.Category) error {
	existing, err := u.categoryRepo.GetByID(category.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	if existing.UserID != userID {
		return ErrNotOwner
	}
	category.UserID = userID
	return u.categoryRepo.Update(category)
}

func (u *TaskUsecase) DeleteCategory(userID uuid.UUID, categoryID uuid.UUID) error {
	existing, err := u.categoryRepo.GetByID(categoryID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	if existing.UserID != userID {
		return ErrNotOwner
	}
	return u.categoryRepo.Delete(categoryID)
}

func (u *TaskUsecase) CountByDeadlines(userID uuid.UUID) ([]*domain.DeadlineBucket, error) {
	return u.taskRepo.CountByDeadlines(userID)
}

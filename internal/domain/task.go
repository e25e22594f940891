package domain

import (
	"time"

	"github.com/google/uuid"
)

type Task struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"-"`
	CategoryID  uuid.UUID  `json:"category_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Category struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"-"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// DeadlineBucket is one row of the burning-deadlines aggregation: how many
// open tasks a category has due within the named horizon.
type DeadlineBucket struct {
	CategoryID   uuid.UUID `json:"category_id"`
	CategoryName string    `json:"category_name"`
	Horizon      string    `json:"horizon"`
	Count        int       `json:"count"`
}

type TaskRepository interface {
	Create(task *Task) error
	GetByID(id uuid.UUID) (*Task, error)
	ListByUser(userID uuid.UUID) ([]*Task, error)
	Update(task *Task) error
	Delete(id uuid.UUID) error
	CountByDeadlines(userID uuid.UUID) ([]*DeadlineBucket, error)
}

type CategoryRepository interface {
	Create(category *Category) error
	GetByID(id uuid.UUID) (*Category, error)
	ListByUser(userID uuid.UUID) ([]*Category, error)
	Update(category *Category) error
	Delete(id uuid.UUID) error
}

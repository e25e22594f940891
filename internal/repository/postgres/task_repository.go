package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskbrain/backend/internal/domain"
)

type TaskRepository struct {
	db *pgxpool.Pool
}

func NewTaskRepository(db *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, user_id, category_id, title, description, deadline, done, created_at, updated_at`

func scanTask(row pgx.Row) (*domain.Task, error) {
	task := &domain.Task{}
	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.CategoryID,
		&task.Title,
		&task.Description,
		&task.Deadline,
		&task.Done,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (r *TaskRepository) Create(task *domain.Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO tasks (id, user_id, category_id, title, description, deadline, done, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		task.ID,
		task.UserID,
		task.CategoryID,
		task.Title,
		task.Description,
		task.Deadline,
		task.Done,
		task.CreatedAt,
		task.UpdatedAt,
	)
	return err
}

func (r *TaskRepository) GetByID(id uuid.UUID) (*domain.Task, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

func (r *TaskRepository) ListByUser(userID uuid.UUID) ([]*domain.Task, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = $1
		ORDER BY deadline NULLS LAST, created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) Update(task *domain.Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	task.UpdatedAt = time.Now()

	_, err := r.db.Exec(ctx, `
		UPDATE tasks
		SET category_id = $2, title = $3, description = $4, deadline = $5, done = $6, updated_at = $7
		WHERE id = $1
	`,
		task.ID,
		task.CategoryID,
		task.Title,
		task.Description,
		task.Deadline,
		task.Done,
		task.UpdatedAt,
	)
	return err
}

func (r *TaskRepository) Delete(id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	return err
}

// CountByDeadlines buckets a user's open tasks per category by how soon they
// are due: today, this week, or later.
func (r *TaskRepository) CountByDeadlines(userID uuid.UUID) ([]*domain.DeadlineBucket, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT c.id, c.name,
			CASE
				WHEN t.deadline < NOW() + INTERVAL '1 day' THEN 'today'
				WHEN t.deadline < NOW() + INTERVAL '7 days' THEN 'week'
				ELSE 'later'
			END AS horizon,
			COUNT(*)
		FROM tasks t
		JOIN categories c ON c.id = t.category_id
		WHERE t.user_id = $1 AND NOT t.done AND t.deadline IS NOT NULL
		GROUP BY c.id, c.name, horizon
		ORDER BY c.name, horizon
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []*domain.DeadlineBucket
	for rows.Next() {
		b := &domain.DeadlineBucket{}
		if err := rows.Scan(&b.CategoryID, &b.CategoryName, &b.Horizon, &b.Count); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

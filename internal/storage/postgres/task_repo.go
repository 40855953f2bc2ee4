package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mifumo/pamoja/internal/engine"
)

// TaskRepository implements engine.TaskStore with GORM.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a TaskRepository.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) CreateTask(ctx context.Context, task *engine.Task) error {
	model := toTaskModel(task)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

func (r *TaskRepository) UpdateTask(ctx context.Context, task *engine.Task) error {
	model := toTaskModel(task)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return nil
}

func (r *TaskRepository) GetTask(ctx context.Context, id uuid.UUID) (*engine.Task, error) {
	var model TaskModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s: %w", id, engine.ErrTaskNotFound)
		}
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	return toTaskDomain(&model), nil
}

func (r *TaskRepository) ListTasks(ctx context.Context, status engine.Status) ([]engine.Task, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var models []TaskModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	tasks := make([]engine.Task, len(models))
	for i := range models {
		tasks[i] = *toTaskDomain(&models[i])
	}
	return tasks, nil
}

func (r *TaskRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	terminal := []string{
		string(engine.StatusCompleted),
		string(engine.StatusFailed),
		string(engine.StatusCancelled),
		string(engine.StatusRejected),
	}
	res := r.db.WithContext(ctx).
		Where("status IN ? AND completed_at < ?", terminal, cutoff).
		Delete(&TaskModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting terminal tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Compile-time check.
var _ engine.TaskStore = (*TaskRepository)(nil)

package services

import (
	"context"

	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/pkg/domain"
)

// TaskView is a task descriptor together with its current state.
type TaskView struct {
	Task  *domain.Task      `json:"task"`
	State *domain.TaskState `json:"state"`
}

type TaskService interface {
	Get(ctx context.Context, id string) (*TaskView, error)
	QueueStats(ctx context.Context) ([]domain.QueueStats, error)
	AdminQueues(ctx context.Context) (map[string]any, error)
}

type taskService struct {
	repo repository.TaskRepository
}

func NewTaskService(repo repository.TaskRepository) TaskService {
	return &taskService{repo: repo}
}

func (s *taskService) Get(ctx context.Context, id string) (*TaskView, error) {
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	state, err := s.repo.GetState(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TaskView{Task: task, State: state}, nil
}

func (s *taskService) QueueStats(ctx context.Context) ([]domain.QueueStats, error) {
	var out []domain.QueueStats
	for _, kind := range domain.Kinds() {
		st, err := s.repo.QueueStats(ctx, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

func (s *taskService) AdminQueues(ctx context.Context) (map[string]any, error) {
	return s.repo.AdminQueues(ctx)
}

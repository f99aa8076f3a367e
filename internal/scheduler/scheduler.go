package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// Task именованная периодическая задача
type Task struct {
	// Name имя задачи в логах и метриках
	Name string

	// Interval период между запусками
	Interval time.Duration

	// Run один проход задачи; ошибка логируется и не останавливает расписание
	Run func(ctx context.Context) error
}

// Scheduler запускает набор периодических задач, по горутине на задачу.
// Тик, заставший предыдущий проход той же задачи незавершенным, пропускается.
type Scheduler struct {
	tasks []*scheduledTask
	log   *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

type scheduledTask struct {
	Task
	running atomic.Bool
}

// New создает планировщик
func New(log *logger.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// Register добавляет задачу; вызывается до Start
func (s *Scheduler) Register(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &scheduledTask{Task: task})
}

// Start запускает все зарегистрированные задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.loop(runCtx, task)
	}
	s.log.Infow("Scheduler started", "tasks", len(s.tasks))
}

// Stop останавливает расписание и дожидается завершения текущих проходов
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Infow("Scheduler stopped")
}

// RunOnce выполняет один проход задачи по имени вне расписания
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	var found *scheduledTask
	for _, task := range s.tasks {
		if task.Name == name {
			found = task
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return fmt.Errorf("scheduler: unknown task %q", name)
	}
	return s.execute(ctx, found)
}

func (s *Scheduler) loop(ctx context.Context, task *scheduledTask) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	s.log.Debugw("Task loop started", "task", task.Name, "interval", task.Interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Debugw("Task loop stopped", "task", task.Name)
			return
		case <-ticker.C:
			if err := s.execute(ctx, task); err != nil {
				s.log.Errorw("Task run failed", "task", task.Name, "error", err)
			}
		}
	}
}

// execute выполняет проход с защитой от повторного входа и паник
func (s *Scheduler) execute(ctx context.Context, task *scheduledTask) (err error) {
	if !task.running.CompareAndSwap(false, true) {
		s.log.Warnw("Previous task run still in progress, skipping tick", "task", task.Name)
		return nil
	}
	defer task.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Task run panicked", "task", task.Name, "panic", r)
			err = fmt.Errorf("scheduler: task %s panicked: %v", task.Name, r)
		}
	}()

	return task.Run(ctx)
}

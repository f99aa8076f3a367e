package compute

import (
	"context"
	"sync"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// FakeController реализация ResourceController в памяти для тестов.
// Записывает выданные команды и позволяет задавать состояния и ошибки.
type FakeController struct {
	mu sync.Mutex

	// States текущее состояние питания по providerID
	States map[string]domain.PowerState

	// Err если установлена, возвращается из всех операций
	Err error

	// Commands журнал выданных команд в порядке выдачи, формат "op:providerID"
	Commands []string
}

// NewFakeController создает новый фейковый контроллер
func NewFakeController() *FakeController {
	return &FakeController{
		States: make(map[string]domain.PowerState),
	}
}

// SetState задает состояние питания ресурса
func (f *FakeController) SetState(providerID string, state domain.PowerState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States[providerID] = state
}

// CommandLog возвращает копию журнала команд
func (f *FakeController) CommandLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	log := make([]string, len(f.Commands))
	copy(log, f.Commands)
	return log
}

// GetPowerState возвращает заданное состояние либо unknown
func (f *FakeController) GetPowerState(ctx context.Context, providerID string) (PowerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return PowerStatus{State: domain.PowerStateUnknown}, f.Err
	}

	state, ok := f.States[providerID]
	if !ok {
		state = domain.PowerStateUnknown
	}
	return PowerStatus{State: state, Raw: string(state)}, nil
}

// Start записывает команду запуска и переводит ресурс в started
func (f *FakeController) Start(ctx context.Context, providerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}
	f.Commands = append(f.Commands, "start:"+providerID)
	f.States[providerID] = domain.PowerStateStarted
	return nil
}

// Stop записывает команду остановки и переводит ресурс в stopped
func (f *FakeController) Stop(ctx context.Context, providerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}
	f.Commands = append(f.Commands, "stop:"+providerID)
	f.States[providerID] = domain.PowerStateStopped
	return nil
}

// Destroy записывает команду уничтожения и забывает ресурс
func (f *FakeController) Destroy(ctx context.Context, providerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}
	f.Commands = append(f.Commands, "destroy:"+providerID)
	delete(f.States, providerID)
	return nil
}

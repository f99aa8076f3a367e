package notify

import (
	"context"
	"sync"
)

// Sent одно отправленное уведомление
type Sent struct {
	Kind    Kind
	Message Message
}

// FakeDispatcher реализация Dispatcher в памяти для тестов
type FakeDispatcher struct {
	mu sync.Mutex

	// Err если установлена, возвращается из Send вместо записи
	Err error

	sent []Sent
}

// NewFakeDispatcher создает новый фейковый канал уведомлений
func NewFakeDispatcher() *FakeDispatcher {
	return &FakeDispatcher{}
}

// Send записывает уведомление либо возвращает заданную ошибку
func (f *FakeDispatcher) Send(ctx context.Context, kind Kind, message Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}
	f.sent = append(f.sent, Sent{Kind: kind, Message: message})
	return nil
}

// SentNotifications возвращает копию отправленных уведомлений
func (f *FakeDispatcher) SentNotifications() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	sent := make([]Sent, len(f.sent))
	copy(sent, f.sent)
	return sent
}

// CountByKind возвращает число уведомлений данного вида
func (f *FakeDispatcher) CountByKind(kind Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, s := range f.sent {
		if s.Kind == kind {
			count++
		}
	}
	return count
}

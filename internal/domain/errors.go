package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientFunds недостаточно средств в кошельке
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnsupportedCycle неизвестный расчетный период (ошибка программиста)
	ErrUnsupportedCycle = errors.New("unsupported billing cycle")

	// ErrConflict конкурентное изменение записи, попытка повторяется на следующем тике
	ErrConflict = errors.New("persistence conflict")

	// ErrInvalidOperation неверная операция
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrWalletNotFound кошелек не найден
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrUnsupportedCurrency неподдерживаемая валюта
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// NotFoundError представляет ошибку "не найдено" для конкретной сущности
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// ResourceControllerError представляет временную ошибку провайдера вычислительных
// ресурсов; вызывающий логирует ее и повторяет попытку на следующем тике
type ResourceControllerError struct {
	Operation   string
	ProviderID  string
	Message     string
	OriginalErr error
}

// Error реализует интерфейс error
func (e *ResourceControllerError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("resource controller error [%s]: %s: %v (provider_id: %s)", e.Operation, e.Message, e.OriginalErr, e.ProviderID)
	}
	return fmt.Sprintf("resource controller error [%s]: %s (provider_id: %s)", e.Operation, e.Message, e.ProviderID)
}

// Unwrap возвращает оригинальную ошибку
func (e *ResourceControllerError) Unwrap() error {
	return e.OriginalErr
}

// NewResourceControllerError создает новую ошибку провайдера
func NewResourceControllerError(operation, providerID, message string, err error) *ResourceControllerError {
	return &ResourceControllerError{
		Operation:   operation,
		ProviderID:  providerID,
		Message:     message,
		OriginalErr: err,
	}
}

// UnsupportedCycleError представляет ошибку неизвестного расчетного периода
type UnsupportedCycleError struct {
	Cycle string
}

// Error реализует интерфейс error
func (e *UnsupportedCycleError) Error() string {
	return fmt.Sprintf("unsupported billing cycle: %q", e.Cycle)
}

// Is проверяет соответствие базовой ошибке
func (e *UnsupportedCycleError) Is(target error) bool {
	return target == ErrUnsupportedCycle
}

// NewUnsupportedCycleError создает ошибку неизвестного расчетного периода
func NewUnsupportedCycleError(cycle BillingCycle) *UnsupportedCycleError {
	return &UnsupportedCycleError{Cycle: string(cycle)}
}

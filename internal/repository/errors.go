package repository

import "errors"

// Стандартные ошибки слоя репозиториев
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrInvalidData неверный формат данных (например, не-UUID идентификатор)
	ErrInvalidData = errors.New("invalid data")

	// ErrConflict запись была изменена конкурентно; оптимистическая проверка
	// статуса не прошла
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrDuplicateReference транзакция с таким reference уже существует
	ErrDuplicateReference = errors.New("duplicate transaction reference")
)

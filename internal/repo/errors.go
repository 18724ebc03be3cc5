package repo

import "errors"

// Ошибки репозиториев.
var (
	// ErrNotFound запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists запись с таким ключом уже есть; для ячеек batch
	// означает повторную запись.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState batch уже завершён.
	ErrInvalidState = errors.New("invalid state")
)

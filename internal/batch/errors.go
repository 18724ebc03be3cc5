package batch

import "errors"

// Ошибки Batch Coordinator.
var (
	// ErrInvalidConfig конфигурация batch не прошла валидацию.
	ErrInvalidConfig = errors.New("invalid batch config")

	// ErrUnknownVariable VariableIDToColumnIndex ссылается не на выход Start-узла.
	ErrUnknownVariable = errors.New("unknown batch variable")

	// ErrShortRow в строке меньше колонок, чем требует сопоставление.
	ErrShortRow = errors.New("row has too few columns")

	// ErrCellWritten ячейка таблицы уже записана.
	ErrCellWritten = errors.New("cell already written")

	// ErrCellOutOfRange ячейка вне размеров таблицы.
	ErrCellOutOfRange = errors.New("cell out of range")
)

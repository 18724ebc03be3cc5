package orchestrator

import "errors"

// Ошибки координатора.
var (
	// ErrInvalidInput RunRequest.Inputs содержит ключ, который не является
	// выходом Start-узла.
	ErrInvalidInput = errors.New("invalid run input")

	// ErrUnknownGlobal RunRequest.Globals ссылается на неизвестную переменную.
	ErrUnknownGlobal = errors.New("unknown global variable override")

	// ErrRunFailed run завершён со статусом FAILED.
	ErrRunFailed = errors.New("run failed")
)

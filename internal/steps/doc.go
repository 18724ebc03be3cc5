// Package steps содержит процессоры узлов.
//
// Процессор получает конфигурацию узла и его разрешённые входы
// (по имени коннектора) и возвращает значения выходов (по ID коннектора),
// необязательные результаты условий и журнал сообщений:
//
//	type Processor interface {
//	    Type() string
//	    Execute(ctx context.Context, req *Request) (*Response, error)
//	}
//
// Встроенные типы:
//
//	TextTemplate           {{name}} шаблон в выход content
//	ChatGPTMessage         сообщение чата {role, content} и список messages
//	ChatGPTChatCompletion  вызов OpenAI chat completion
//	Condition              пропуск значений; ветку выбирает движок
//
// Start, Finish и SubroutineStart узлы процессоров не имеют:
// их обслуживает orchestrator.
//
// Registry собирается при старте:
//
//	registry := steps.DefaultRegistry(steps.NewChatCompletionProcessor(cfg))
//	p, err := registry.Get(node.Type)
//
// Ошибки процессоров изолированы на уровне узла, повторы не выполняются.
package steps

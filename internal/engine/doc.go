// Package engine содержит модель графа и алгоритмы, не зависящие от процессоров.
//
// Включает:
//   - graph.go     модель графа, проверка инвариантов, запросы
//   - dag.go       зависимости между узлами, топологический порядок, готовность узла
//   - store.go     Variable Store одного run
//   - condition.go вычисление OutCondition (выражения HCL)
//   - plan.go      Compile: граф, DAG и условия, собранные один раз
//   - parser.go    чтение FlowSpec из JSON/YAML
//
// Engine не выполняет узлы: этим занимаются пакеты worker и orchestrator.
package engine

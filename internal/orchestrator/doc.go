// Package orchestrator содержит Run Coordinator.
//
// Coordinator проводит один run через состояния
// IDLE → SEEDING → EXECUTING → COMPLETED | FAILED | CANCELLED:
//   - seeding записывает глобальные переменные и null в неподключённые входы
//   - Start-узлы завершаются первыми: их выходы пишутся после вычисления
//     их условий
//   - на каждом шаге узлы проходятся в топологическом порядке, готовые
//     отправляются в worker.Executor, остальные ждут или пропускаются
//   - результаты узлов применяются в одной горутине run, поэтому
//     Variable Store пишется последовательно
//
// Всё, что происходит в run, видно через упорядоченный журнал событий
// (Run.Events), который можно читать с начала в любой момент.
// EventSink получает те же события синхронно, например для публикации в MQ.
// NodeStarted выдаётся, когда узел прошёл лимитер Executor.
//
// Отмена останавливает отправку новых узлов; уже запущенные узлы
// дорабатывают, но их результаты отбрасываются.
package orchestrator

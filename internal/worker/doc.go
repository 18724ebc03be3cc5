// Package worker содержит Node Executor.
//
// Executor получает узел с разрешёнными входами, вызывает процессор
// из steps.Registry и приводит результат к контракту движка:
//   - все объявленные выходы присутствуют (отсутствующие равны nil)
//   - результаты OutCondition вычислены или нормализованы
//   - ошибка процессора и паника изолированы в Result.HasError
//   - запись в необъявленный коннектор возвращается как ProtocolError
//
// Общий semaphore.Weighted ограничивает число одновременных вызовов
// процессоров, в том числе между run одного batch.
package worker

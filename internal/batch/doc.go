// Package batch содержит Batch Coordinator.
//
// Для каждой пары (row, iteration) запускается независимый run над одним
// и тем же engine.Plan со своим Variable Store. Выходы Start-узлов
// берутся из колонок строки по Config.VariableIDToColumnIndex.
//
// Конкурентность ограничена двумя семафорами размера ConcurrencyLimit:
// admission ограничивает число одновременно выполняющихся run, общий
// лимитер worker.Executor ограничивает вызовы процессоров во всём batch.
//
// Итоги run пишутся в OutputTable, сообщения узлов в MetadataTable.
// Каждая ячейка пишется ровно один раз.
package batch

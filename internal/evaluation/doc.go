// Package evaluation сервис пакетной оценки flow.
//
// Сервис читает запросы batch.requested, загружает граф и глобальные
// переменные из PostgreSQL, выполняет batch.Runner и сохраняет каждую
// ячейку результата по мере готовности. О завершении batch сообщается
// сообщением batch.finished.
package evaluation

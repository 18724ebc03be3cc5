// Package mq работает с RabbitMQ.
//
// Топология:
//
//	promptplay.runs (topic)      события run, ключ run.event
//	promptplay.batches (direct)  batch.requested → очередь batches.requested
//	                             batch.finished, подписчики привязываются сами
//	promptplay.dlq (direct)      dlq.batches для необработанных запросов
//
// Connection переподключается с экспоненциальной задержкой из
// ConnectionConfig. Хук OnReconnect (в worker это SetupTopology) вызывается
// до того, как Consumer снова подпишется на очередь. Когда попытки
// исчерпаны, закрывается Done и Consumer.Start возвращает ошибку.
//
// Publisher реализует orchestrator.EventSink, поэтому события run
// публикуются без отдельного адаптера.
package mq

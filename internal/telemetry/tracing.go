package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName имя инструментации для всех span сервиса.
const TracerName = "promptplay"

// Атрибуты span.
const (
	AttrRunID    = "promptplay.run_id"
	AttrBatchID  = "promptplay.batch_id"
	AttrNodeID   = "promptplay.node_id"
	AttrNodeType = "promptplay.node_type"
	AttrStatus   = "promptplay.status"
	AttrRow      = "promptplay.row"
	AttrIter     = "promptplay.iteration"
)

// Tracer возвращает tracer из глобального провайдера.
// Пока провайдер не настроен, span не записываются.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики регистрируются в prometheus.DefaultRegisterer и
// отдаются через promhttp.Handler() на /metrics.
var (
	// NodeExecutions количество выполнений процессоров по типу и исходу.
	NodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptplay_node_executions_total",
		Help: "Node processor invocations by node type and outcome",
	}, []string{"type", "outcome"})

	// NodeDuration длительность выполнения процессора.
	NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promptplay_node_duration_seconds",
		Help:    "Node processor execution time",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"type"})

	// NodesInFlight процессоры, выполняющиеся прямо сейчас.
	NodesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "promptplay_nodes_in_flight",
		Help: "Node processor invocations currently in progress",
	})

	// NodesSkipped пропущенные узлы по причине.
	NodesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptplay_nodes_skipped_total",
		Help: "Nodes skipped by reason",
	}, []string{"reason"})

	// Runs завершённые run по итоговому статусу.
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptplay_runs_total",
		Help: "Finished runs by terminal status",
	}, []string{"status"})

	// RunDuration длительность run.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "promptplay_run_duration_seconds",
		Help:    "Run wall-clock time",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
	})

	// BatchCells записанные ячейки batch по исходу.
	BatchCells = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptplay_batch_cells_total",
		Help: "Batch output cells written by outcome",
	}, []string{"outcome"})

	// BatchesInFlight выполняющиеся batch.
	BatchesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "promptplay_batches_in_flight",
		Help: "Batches currently executing",
	})
)

// Исходы для меток outcome.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

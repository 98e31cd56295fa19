package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TransitionsApplied  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fieldops_transitions_total", Help: "State transitions applied, by entity"}, []string{"entity"})
	TransitionsRejected = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldops_transitions_rejected_total", Help: "Transitions rejected by the state machine"})
	ChecklistSubmits    = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldops_checklist_submits_total", Help: "Checklist runs submitted"})
	BulkItemsSucceeded  = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldops_bulk_items_succeeded_total", Help: "Bulk items executed successfully"})
	BulkItemsFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldops_bulk_items_failed_total", Help: "Bulk items that failed at execute time"})
	InvoiceRecomputes   = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldops_invoice_recomputes_total", Help: "Invoice total recomputations"})
	AutomationRuns      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fieldops_automation_runs_total", Help: "Automation hook invocations, by hook"}, []string{"hook"})
	WorkerSuccess       = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldops_tasks_completed_total", Help: "Automation tasks completed successfully"})
	WorkerFailures      = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldops_tasks_failed_total", Help: "Automation tasks that failed and will retry"})
	WorkerDeadLetter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldops_tasks_dead_letter_total", Help: "Automation tasks moved to DLQ"})
	QueueDepthGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "fieldops_task_queue_depth", Help: "Ready automation queue depth"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TransitionsApplied,
			TransitionsRejected,
			ChecklistSubmits,
			BulkItemsSucceeded,
			BulkItemsFailed,
			InvoiceRecomputes,
			AutomationRuns,
			WorkerSuccess,
			WorkerFailures,
			WorkerDeadLetter,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}

package host

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the Prometheus instruments a ProcessHost reports, mirroring
// the ambient-observability style other services in this corpus wire up
// (with-shrey-modular-monolith-template-golang's otel/prometheus exporter
// being the closest in-pack precedent) but kept to the plain client_golang
// registry since no tracing SDK is otherwise exercised here. A nil
// *metrics is valid everywhere it's used and simply does nothing.
type metrics struct {
	dbJobDuration prometheus.Histogram
	queueDepth    *prometheus.GaugeVec
	promptsSent   prometheus.Counter
}

// newMetrics registers this host's instruments under reg, labeled by
// process name and pipeline id. Pass a nil reg to disable metrics entirely.
func newMetrics(reg prometheus.Registerer, processName string, pipelineID int) *metrics {
	if reg == nil {
		return nil
	}
	labels := prometheus.Labels{"process": processName, "pipeline": strconv.Itoa(pipelineID)}

	m := &metrics{
		dbJobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "runner_db_job_duration_seconds",
			Help:        "Duration of DBWorker job execution.",
			ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "runner_queue_depth",
			Help:        "Approximate depth of a host-internal queue.",
			ConstLabels: labels,
		}, []string{"queue"}),
		promptsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "runner_prompts_sent_total",
			Help:        "Prompts sent to downstream hosts.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.dbJobDuration, m.queueDepth, m.promptsSent)
	return m
}

func (m *metrics) observeDBJob(d time.Duration) {
	if m == nil {
		return
	}
	m.dbJobDuration.Observe(d.Seconds())
}

func (m *metrics) setQueueDepth(queue string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(n))
}

func (m *metrics) incPromptsSent() {
	if m == nil {
		return
	}
	m.promptsSent.Inc()
}

// Package metrics holds the bot's Prometheus collectors.
package metrics

import (
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gpsp_bot"

// Metrics implements the observer interfaces of the ingest, handler and
// media packages.
type Metrics struct {
	UpdatesTotal      prometheus.Counter
	PollErrorsTotal   prometheus.Counter
	WorkflowsInFlight prometheus.Gauge
	CommandsTotal     *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
	ProcessesTotal    *prometheus.CounterVec
	ProcessDuration   *prometheus.HistogramVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UpdatesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_received_total",
			Help:      "Total number of updates claimed from the platform",
		}),
		PollErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Total number of failed update polls",
		}),
		WorkflowsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflows_in_flight",
			Help:      "Number of workflows currently holding a permit",
		}),
		CommandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of handled commands by outcome",
			},
			[]string{"command", "outcome"},
		),
		CommandDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of command workflows in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"command"},
		),
		ProcessesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "processes_total",
				Help:      "Total number of external program runs by result",
			},
			[]string{"program", "result"},
		),
		ProcessDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "process_duration_seconds",
				Help:      "Duration of external program runs in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"program"},
		),
	}
}

func (m *Metrics) UpdatesReceived(n int) { m.UpdatesTotal.Add(float64(n)) }
func (m *Metrics) PollFailed()           { m.PollErrorsTotal.Inc() }
func (m *Metrics) WorkflowStarted()      { m.WorkflowsInFlight.Inc() }
func (m *Metrics) WorkflowFinished()     { m.WorkflowsInFlight.Dec() }

func (m *Metrics) CommandHandled(command, outcome string, elapsed time.Duration) {
	m.CommandsTotal.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// ObserveProcess labels by program base name so configured absolute paths
// do not multiply series.
func (m *Metrics) ObserveProcess(program string, elapsed time.Duration, err error) {
	program = filepath.Base(program)
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProcessesTotal.WithLabelValues(program, result).Inc()
	m.ProcessDuration.WithLabelValues(program).Observe(elapsed.Seconds())
}

// WatchProcessQueue exports the number of program runs waiting for a free
// worker, read from waiting at scrape time.
func WatchProcessQueue(reg prometheus.Registerer, waiting func() int) prometheus.GaugeFunc {
	return promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "processes_waiting",
		Help:      "Number of external program runs queued for a worker",
	}, func() float64 { return float64(waiting()) })
}

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dazubi/internal/pipeline"
)

var states = []pipeline.State{
	pipeline.StateInit,
	pipeline.StateRestoring,
	pipeline.StateIterating,
	pipeline.StateCheckpointing,
	pipeline.StateDone,
	pipeline.StateAborted,
}

// MetricsObserver keeps run metrics in its own registry and writes them to
// a node-exporter textfile after every checkpoint and when the run ends.
type MetricsObserver struct {
	path     string
	registry *prometheus.Registry

	total       prometheus.Gauge
	index       prometheus.Gauge
	elapsed     prometheus.Gauge
	downloads   prometheus.Counter
	checkpoints prometheus.Counter
	removed     prometheus.Counter
	rows        prometheus.Gauge
	state       *prometheus.GaugeVec
}

// NewMetricsObserver creates the metrics. An empty path keeps them in
// memory only.
func NewMetricsObserver(path string) *MetricsObserver {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &MetricsObserver{
		path:     path,
		registry: reg,
		total: f.NewGauge(prometheus.GaugeOpts{
			Name: "dazubi_combinations_total",
			Help: "Number of combinations in the catalog",
		}),
		index: f.NewGauge(prometheus.GaugeOpts{
			Name: "dazubi_combination_index",
			Help: "Index of the combination being downloaded",
		}),
		elapsed: f.NewGauge(prometheus.GaugeOpts{
			Name: "dazubi_run_elapsed_seconds",
			Help: "Seconds since the run started",
		}),
		downloads: f.NewCounter(prometheus.CounterOpts{
			Name: "dazubi_downloads_total",
			Help: "Spreadsheet downloads started in this run",
		}),
		checkpoints: f.NewCounter(prometheus.CounterOpts{
			Name: "dazubi_checkpoints_total",
			Help: "Snapshots written in this run",
		}),
		removed: f.NewCounter(prometheus.CounterOpts{
			Name: "dazubi_snapshots_removed_total",
			Help: "Snapshots deleted by retention cleanup",
		}),
		rows: f.NewGauge(prometheus.GaugeOpts{
			Name: "dazubi_dataset_rows",
			Help: "Rows in the last written snapshot",
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dazubi_run_state",
			Help: "1 for the current pipeline state, 0 otherwise",
		}, []string{"state"}),
	}
}

// Registry exposes the underlying registry.
func (m *MetricsObserver) Registry() *prometheus.Registry { return m.registry }

func (m *MetricsObserver) OnState(_, to pipeline.State) {
	for _, s := range states {
		v := 0.0
		if s == to {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}
	if to == pipeline.StateDone || to == pipeline.StateAborted {
		m.flush()
	}
}

func (m *MetricsObserver) OnProgress(p pipeline.Progress) {
	m.total.Set(float64(p.Total))
	m.index.Set(float64(p.Index))
	m.elapsed.Set(p.Elapsed.Seconds())
	m.downloads.Inc()
}

func (m *MetricsObserver) OnCheckpoint(c pipeline.Checkpoint) {
	m.rows.Set(float64(c.Rows))
	m.removed.Add(float64(len(c.Removed)))
	if !c.Final {
		m.checkpoints.Inc()
	}
	m.flush()
}

// Flush writes the textfile now.
func (m *MetricsObserver) Flush() error {
	if m.path == "" {
		return nil
	}
	return eris.Wrapf(prometheus.WriteToTextfile(m.path, m.registry), "monitoring: write %s", m.path)
}

func (m *MetricsObserver) flush() {
	if err := m.Flush(); err != nil {
		zap.L().Warn("metrics textfile not written", zap.Error(err))
	}
}

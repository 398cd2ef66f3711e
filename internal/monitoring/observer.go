// Package monitoring turns pipeline events into structured logs and
// Prometheus metrics.
package monitoring

import (
	"go.uber.org/zap"

	"github.com/sells-group/dazubi/internal/pipeline"
)

// LogObserver writes pipeline events to a zap logger.
type LogObserver struct {
	log *zap.Logger
}

// NewLogObserver returns an observer logging to log, or to the global
// logger when log is nil.
func NewLogObserver(log *zap.Logger) *LogObserver {
	if log == nil {
		log = zap.L()
	}
	return &LogObserver{log: log}
}

func (o *LogObserver) OnState(from, to pipeline.State) {
	o.log.Debug("pipeline state", zap.String("from", string(from)), zap.String("to", string(to)))
}

func (o *LogObserver) OnProgress(p pipeline.Progress) {
	o.log.Info("downloading",
		zap.Int("index", p.Index),
		zap.Int("total", p.Total),
		zap.Duration("elapsed", p.Elapsed),
		zap.String("url", p.URL),
		zap.String("attribute", p.Attribute),
		zap.String("occupation", p.Occupation),
		zap.String("country", p.Country),
	)
}

func (o *LogObserver) OnCheckpoint(c pipeline.Checkpoint) {
	msg := "checkpoint written"
	if c.Final {
		msg = "final dataset written"
	}
	o.log.Info(msg,
		zap.Int("index", c.Index),
		zap.String("path", c.Path),
		zap.Int("rows", c.Rows),
		zap.Int("removed", len(c.Removed)),
	)
}

// Multi fans events out to several observers in order.
type Multi []pipeline.Observer

func (m Multi) OnState(from, to pipeline.State) {
	for _, o := range m {
		o.OnState(from, to)
	}
}

func (m Multi) OnProgress(p pipeline.Progress) {
	for _, o := range m {
		o.OnProgress(p)
	}
}

func (m Multi) OnCheckpoint(c pipeline.Checkpoint) {
	for _, o := range m {
		o.OnCheckpoint(c)
	}
}

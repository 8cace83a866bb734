package analytics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Timer records how long a named step of a stats request took. It must
// not influence the queries or their results.
type Timer interface {
	Observe(step string, d time.Duration)
}

type nopTimer struct{}

func (nopTimer) Observe(string, time.Duration) {}

// PromTimer exports step durations as a prometheus histogram and logs
// them at debug level.
type PromTimer struct {
	hist   *prometheus.HistogramVec
	logger *zap.Logger
}

// NewPromTimer registers the step histogram on reg.
func NewPromTimer(reg prometheus.Registerer, logger *zap.Logger) (*PromTimer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "evalstats",
		Name:      "step_duration_seconds",
		Help:      "Duration of individual stats computation steps.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"step"})
	if err := reg.Register(hist); err != nil {
		return nil, fmt.Errorf("registering step histogram: %w", err)
	}
	return &PromTimer{hist: hist, logger: logger}, nil
}

// Observe implements Timer.
func (t *PromTimer) Observe(step string, d time.Duration) {
	t.hist.WithLabelValues(step).Observe(d.Seconds())
	t.logger.Debug("stats step", zap.String("step", step), zap.Duration("took", d))
}

// step times a section of a request outside the worker pool:
//
//	defer s.step("results.scan")()
func (s *Service) step(name string) func() {
	start := time.Now()
	return func() { s.timer.Observe(name, time.Since(start)) }
}

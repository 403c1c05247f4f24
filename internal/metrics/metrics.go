// Package metrics records VoterBot counters and writes them in the Prometheus
// text format for the node_exporter textfile collector. Each run is a separate
// process, so counters are carried across runs by restoring them from the
// previous textfile before observing the new cycle.
package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	"github.com/BTreeMap/VoterBot/internal/messaging"
	"github.com/BTreeMap/VoterBot/internal/models"
	"github.com/BTreeMap/VoterBot/internal/scheduler"
)

const namespace = "voterbot"

// Skip reasons used as the "reason" label of voterbot_candidates_skipped_total.
const (
	ReasonUsed    = "used"
	ReasonMissing = "missing"
	ReasonSparse  = "sparse"
)

// Metrics holds the collectors of one run on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	PostsPublished    *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	FailedAttempts    *prometheus.CounterVec
	CandidatesSkipped *prometheus.CounterVec
	QueueRemaining    prometheus.Gauge
	UsedRespondents   prometheus.Gauge
	LastSuccess       prometheus.Gauge
	Exhausted         prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PostsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_published_total",
			Help:      "Profiles published, by channel.",
		}, []string{"channel"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Cycles whose publish step failed after retries, by channel.",
		}, []string{"channel"}),
		FailedAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_publish_attempts_total",
			Help:      "Publish attempts spent on failed cycles, by channel.",
		}, []string{"channel"}),
		CandidatesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_skipped_total",
			Help:      "Queue entries passed over during selection, by reason.",
		}, []string{"reason"}),
		QueueRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_remaining",
			Help:      "Queue entries not yet visited.",
		}),
		UsedRespondents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "used_respondents",
			Help:      "Respondents already published.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the most recent published post.",
		}),
		Exhausted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candidates_exhausted",
			Help:      "1 when the queue has no eligible candidates left.",
		}),
	}
	m.registry.MustRegister(
		m.PostsPublished,
		m.PublishFailures,
		m.FailedAttempts,
		m.CandidatesSkipped,
		m.QueueRemaining,
		m.UsedRespondents,
		m.LastSuccess,
		m.Exhausted,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// counters maps each counter family name to its collector.
func (m *Metrics) counters() map[string]*prometheus.CounterVec {
	return map[string]*prometheus.CounterVec{
		namespace + "_posts_published_total":         m.PostsPublished,
		namespace + "_publish_failures_total":        m.PublishFailures,
		namespace + "_failed_publish_attempts_total": m.FailedAttempts,
		namespace + "_candidates_skipped_total":      m.CandidatesSkipped,
	}
}

// Restore seeds the counters with the totals of a previous textfile at path.
// A missing file leaves them at zero. Gauges are not restored; every cycle
// sets them from the state it observes.
func (m *Metrics) Restore(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open metrics textfile %s: %w", path, err)
	}
	defer f.Close()

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return fmt.Errorf("failed to parse metrics textfile %s: %w", path, err)
	}
	restored := 0
	for name, vec := range m.counters() {
		family, ok := families[name]
		if !ok || family.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := make(prometheus.Labels, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			c, err := vec.GetMetricWith(labels)
			if err != nil {
				slog.Warn("Metrics.Restore: skipping series", "family", name, "labels", labels, "error", err)
				continue
			}
			if v := metric.GetCounter().GetValue(); v > 0 {
				c.Add(v)
				restored++
			}
		}
	}
	slog.Debug("Metrics.Restore: restored counters", "path", path, "series", restored)
	return nil
}

// ObserveCycle records the result of one scheduler cycle and the state it left.
func (m *Metrics) ObserveCycle(out scheduler.Outcome, st *models.ScheduleState, err error) {
	m.CandidatesSkipped.WithLabelValues(ReasonUsed).Add(float64(out.Scan.SkippedUsed))
	m.CandidatesSkipped.WithLabelValues(ReasonMissing).Add(float64(out.Scan.SkippedMissing))
	m.CandidatesSkipped.WithLabelValues(ReasonSparse).Add(float64(out.Scan.SkippedSparse))

	if st != nil {
		m.QueueRemaining.Set(float64(st.Remaining()))
		m.UsedRespondents.Set(float64(len(st.UsedIDs)))
		if st.LastPost != nil && st.LastPost.Timestamp != "" {
			if ts, perr := time.Parse(time.RFC3339Nano, st.LastPost.Timestamp); perr == nil {
				m.LastSuccess.Set(float64(ts.UnixNano()) / 1e9)
			}
		}
	}
	if errors.Is(err, scheduler.ErrExhaustedCandidates) {
		m.Exhausted.Set(1)
	}

	var pubErr *messaging.PublishError
	switch {
	case errors.As(err, &pubErr):
		m.PublishFailures.WithLabelValues(pubErr.Channel).Inc()
		m.FailedAttempts.WithLabelValues(pubErr.Channel).Add(float64(pubErr.Attempts))
	case err == nil && !out.DryRun && out.Ref != "":
		m.PostsPublished.WithLabelValues(out.Channel).Inc()
		m.LastSuccess.Set(float64(out.PostedAt.UnixNano()) / 1e9)
	}
}

// WriteTextfile writes all metrics to path atomically, creating its directory.
func (m *Metrics) WriteTextfile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create metrics directory %s: %w", dir, err)
		}
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	slog.Debug("Metrics.WriteTextfile: wrote metrics", "path", path)
	return nil
}

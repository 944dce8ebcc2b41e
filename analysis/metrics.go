package analysis

import (
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// PipelineMetrics counts what the pipeline did on a private registry. The
// pipeline is a one-shot batch, so instead of serving a scrape endpoint the
// registry is gathered at the end of the run into the report's diagnostics
// section.
type PipelineMetrics struct {
	registry *prometheus.Registry

	trialsSimulated  prometheus.Counter
	trialsExcluded   *prometheus.CounterVec
	subjectsExcluded *prometheus.CounterVec
	modelsFitted     prometheus.Counter
	modelsFailed     prometheus.Counter
}

// NewPipelineMetrics builds and registers the pipeline counters.
func NewPipelineMetrics() *PipelineMetrics {
	m := &PipelineMetrics{
		registry: prometheus.NewRegistry(),
		trialsSimulated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mb_trials_simulated_total",
			Help: "Trials produced by the simulator.",
		}),
		trialsExcluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mb_trials_excluded_total",
			Help: "Trials removed by cleaning, by filter.",
		}, []string{"filter"}),
		subjectsExcluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mb_subjects_excluded_total",
			Help: "Subjects removed by cleaning, by filter.",
		}, []string{"filter"}),
		modelsFitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mb_models_fitted_total",
			Help: "Mixed models fitted.",
		}),
		modelsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mb_models_nonconverged_total",
			Help: "Mixed-model fits that stopped without converging.",
		}),
	}
	m.registry.MustRegister(m.trialsSimulated, m.trialsExcluded, m.subjectsExcluded, m.modelsFitted, m.modelsFailed)
	return m
}

// ObserveSimulated records the simulated trial count.
func (m *PipelineMetrics) ObserveSimulated(trials int) {
	m.trialsSimulated.Add(float64(trials))
}

// ObserveExclusion records one filter's removals.
func (m *PipelineMetrics) ObserveExclusion(filter string, trials, subjects int) {
	m.trialsExcluded.WithLabelValues(filter).Add(float64(trials))
	m.subjectsExcluded.WithLabelValues(filter).Add(float64(subjects))
}

// ObserveFit records a model fit and whether it converged.
func (m *PipelineMetrics) ObserveFit(converged bool) {
	m.modelsFitted.Inc()
	if !converged {
		m.modelsFailed.Inc()
	}
}

// MetricSample is one gathered metric value, flattened for the report.
type MetricSample struct {
	Name   string  `json:"name"`
	Labels string  `json:"labels,omitempty"`
	Value  float64 `json:"value"`
}

// Gather flattens the registry into sorted samples.
func (m *PipelineMetrics) Gather() ([]MetricSample, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather pipeline metrics: %w", err)
	}

	samples := make([]MetricSample, 0)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			sample := MetricSample{Name: family.GetName()}
			labels := ""
			for _, pair := range metric.GetLabel() {
				if labels != "" {
					labels += ","
				}
				labels += pair.GetName() + "=" + pair.GetValue()
			}
			sample.Labels = labels
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				sample.Value = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				sample.Value = metric.GetGauge().GetValue()
			default:
				continue
			}
			samples = append(samples, sample)
		}
	}

	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Name != samples[j].Name {
			return samples[i].Name < samples[j].Name
		}
		return samples[i].Labels < samples[j].Labels
	})
	return samples, nil
}

package perf

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MetricSummary condenses one exported metric family into a single value:
// counters and gauges sum across label series, histograms and summaries
// report the mean observation.
type MetricSummary struct {
	Name   string  `json:"name"`
	Help   string  `json:"help,omitempty"`
	Type   string  `json:"type"`
	Value  float64 `json:"value"`
	Series int     `json:"series"`
}

// Insights combines the monitor's rolling view with a summary of the
// process's exported metrics. Served by the HTTP API and the MCP gateway.
type Insights struct {
	SystemScore float64         `json:"system_score"`
	SystemTrend Trend           `json:"system_trend"`
	Agents      []Snapshot      `json:"agents"`
	Alerts      []Alert         `json:"alerts"`
	Metrics     []MetricSummary `json:"metrics,omitempty"`
}

// Insights gathers metric families from g (which may be nil) and merges
// them with the monitor's snapshots and active alerts. Only families whose
// name carries the given prefix are included; an empty prefix includes all.
func (m *Monitor) Insights(g prometheus.Gatherer, prefix string) (*Insights, error) {
	score, trend := m.Score(SystemScope)
	out := &Insights{
		SystemScore: score,
		SystemTrend: trend,
		Agents:      m.Snapshots(),
		Alerts:      m.Alerts(),
	}
	if g == nil {
		return out, nil
	}

	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if prefix != "" && !strings.HasPrefix(mf.GetName(), prefix) {
			continue
		}
		out.Metrics = append(out.Metrics, summarize(mf))
	}
	sort.Slice(out.Metrics, func(i, j int) bool { return out.Metrics[i].Name < out.Metrics[j].Name })
	return out, nil
}

func summarize(mf *dto.MetricFamily) MetricSummary {
	s := MetricSummary{
		Name:   mf.GetName(),
		Help:   mf.GetHelp(),
		Type:   strings.ToLower(mf.GetType().String()),
		Series: len(mf.GetMetric()),
	}
	var sum, count float64
	for _, m := range mf.GetMetric() {
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			sum += m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			sum += m.GetGauge().GetValue()
		case dto.MetricType_HISTOGRAM:
			sum += m.GetHistogram().GetSampleSum()
			count += float64(m.GetHistogram().GetSampleCount())
		case dto.MetricType_SUMMARY:
			sum += m.GetSummary().GetSampleSum()
			count += float64(m.GetSummary().GetSampleCount())
		case dto.MetricType_UNTYPED:
			sum += m.GetUntyped().GetValue()
		}
	}
	if count > 0 {
		s.Value = sum / count
	} else {
		s.Value = sum
	}
	return s
}

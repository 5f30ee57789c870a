package metrics

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	kitpolicy "github.com/lessucettes/researchlog/pkg/researchlog-kit/policy"
)

// Collector records pipeline filter results as Prometheus metrics on its
// own registry.
type Collector struct {
	registry *prometheus.Registry

	filterResults  *prometheus.CounterVec
	filterDuration *prometheus.HistogramVec
	rejections     *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		filterResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "researchlog",
				Name:      "filter_results_total",
				Help:      "Filter verdicts by filter and outcome",
			},
			[]string{"filter", "allowed"},
		),
		filterDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "researchlog",
				Name:      "filter_duration_seconds",
				Help:      "Time spent in each filter",
				Buckets:   []float64{.00001, .0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"filter"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "researchlog",
				Name:      "rejections_total",
				Help:      "Rejected submissions by filter and reason",
			},
			[]string{"filter", "reason"},
		),
	}
	c.registry.MustRegister(c.filterResults, c.filterDuration, c.rejections)
	return c
}

func (c *Collector) Report(res kitpolicy.FilterResult) {
	c.filterResults.WithLabelValues(res.Filter, strconv.FormatBool(res.Allowed)).Inc()
	c.filterDuration.WithLabelValues(res.Filter).Observe(res.Duration.Seconds())
	if !res.Allowed {
		c.rejections.WithLabelValues(res.Filter, reasonLabel(res.Reason)).Inc()
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// reasonLabel keeps label cardinality bounded: "rate_limit_exceeded:'x'"
// becomes "rate_limit_exceeded".
func reasonLabel(reason string) string {
	if i := strings.IndexByte(reason, ':'); i >= 0 {
		return reason[:i]
	}
	return reason
}

package metrics

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"saytruth/internal/ratelimit"
)

const namespace = "saytruth"

// Metrics holds every collector the service exports. It implements the
// recorder interfaces of the service and sweeper packages.
type Metrics struct {
	registry *prometheus.Registry

	linksCreated    *prometheus.CounterVec
	messagesStored  *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	sweeps          *prometheus.CounterVec
	linksExpired    prometheus.Counter
	linksPurged     prometheus.Counter
	apiResponseTime *prometheus.HistogramVec
	apiErrors       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry:        reg,
		linksCreated:    newCounterVec(reg, "links_created", []string{"mode"}),
		messagesStored:  newCounterVec(reg, "messages_stored", []string{"kind"}),
		rateLimited:     newCounterVec(reg, "rate_limited", []string{"kind"}),
		sweeps:          newCounterVec(reg, "sweeps", []string{"result"}),
		linksExpired:    newCounter(reg, "links_expired"),
		linksPurged:     newCounter(reg, "links_purged"),
		apiResponseTime: newHistogramVec(reg, "api_response_time", []string{"api"}),
		apiErrors:       newCounterVec(reg, "api_error", []string{"method", "api", "status"}),
	}
	return m
}

func newCounterVec(reg prometheus.Registerer, name string, labels []string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      fmtFixer(name) + "_total",
		Help:      fmt.Sprintf("%s count of /%s", name, namespace),
	}, labels)
	reg.MustRegister(vec)
	return vec
}

func newCounter(reg prometheus.Registerer, name string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      fmtFixer(name) + "_total",
		Help:      fmt.Sprintf("%s count of /%s", name, namespace),
	})
	reg.MustRegister(c)
	return c
}

func newHistogramVec(reg prometheus.Registerer, name string, labels []string) *prometheus.HistogramVec {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      fmtFixer(name) + "_seconds",
		Help:      fmt.Sprintf("%s duration of /%s", name, namespace),
		Buckets:   prometheus.DefBuckets,
	}, labels)
	reg.MustRegister(vec)
	return vec
}

func fmtFixer(in string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(in)
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.InstrumentMetricHandler(m.registry, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func (m *Metrics) LinkCreated(guest bool) {
	mode := "user"
	if guest {
		mode = "guest"
	}
	m.linksCreated.WithLabelValues(mode).Inc()
}

func (m *Metrics) MessageStored(kind string) {
	m.messagesStored.WithLabelValues(kind).Inc()
}

func (m *Metrics) RateLimited(kind ratelimit.Kind) {
	m.rateLimited.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) SweepFinished(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.sweeps.WithLabelValues(result).Inc()
}

func (m *Metrics) LinksExpired(n int) {
	m.linksExpired.Add(float64(n))
}

func (m *Metrics) LinksPurged(n int) {
	m.linksPurged.Add(float64(n))
}

// ApiResponseTimer times one request to api.
func (m *Metrics) ApiResponseTimer(api string) *prometheus.Timer {
	return prometheus.NewTimer(m.apiResponseTime.WithLabelValues(api))
}

// ApiErrorInc counts a failed request.
func (m *Metrics) ApiErrorInc(method, api string, status int) {
	m.apiErrors.WithLabelValues(method, api, strconv.Itoa(status)).Inc()
}

package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gometrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pzhenzhou/rediscodec/pkg/backend"
	"github.com/pzhenzhou/rediscodec/pkg/common"
)

type ExposeMetricSink string

const (
	InMemorySink    ExposeMetricSink = "in-memory"
	PrometheusSink  ExposeMetricSink = "prometheus"
	AllMetricsSink  ExposeMetricSink = "all"
	ExposeMetricURL                  = "/metrics"
)

var (
	logger = common.InitLogger().WithName("client-metrics")

	instance      CommandMetricsCollector
	collectorOnce sync.Once
)

// labelPool is a simple object pool for label slices to reduce allocations
type labelPool struct {
	pool sync.Pool
}

func newLabelPool() *labelPool {
	return &labelPool{
		pool: sync.Pool{
			New: func() interface{} {
				slice := make([]gometrics.Label, 0, 3)
				return &slice
			},
		},
	}
}

func (p *labelPool) get() []gometrics.Label {
	slicePtr := p.pool.Get().(*[]gometrics.Label)
	*slicePtr = (*slicePtr)[:0]
	return *slicePtr
}

func (p *labelPool) put(labels []gometrics.Label) {
	p.pool.Put(&labels)
}

// CommandMetricsCollector defines the interface for collecting client metrics
type CommandMetricsCollector interface {
	// RecordCommandLatency is the round trip of one command, write to last reply byte
	RecordCommandLatency(command string, duration time.Duration)

	// RecordOverallLatency records round trips without distinguishing between commands
	RecordOverallLatency(duration time.Duration)

	IncrementCommandCounter(command string)

	// IncrementErrorCounter counts failures by ErrorKind
	IncrementErrorCounter(kind string)

	// RecordPoolStatus publishes the gauges of one endpoint pool
	RecordPoolStatus(status *backend.PoolStatus)

	// SetActiveConnections publishes the number of event loop connections
	SetActiveConnections(n int64)

	Shutdown()

	// Handler returns a Gin handler function for exposing metrics
	Handler() gin.HandlerFunc
}

// Config holds configuration for metrics
type Config struct {
	// Metrics prefix for namespacing
	ServiceName string

	// Time interval for in-memory metrics aggregation
	AggregationInterval time.Duration

	// Retention period for metrics
	RetentionPeriod time.Duration

	ExposeSink ExposeMetricSink

	MetricsEndpoint string
}

func AllSinkConfig(serviceName string) *Config {
	config := DefaultConfig()
	config.ServiceName = serviceName
	config.ExposeSink = AllMetricsSink
	return config
}

func NewPrometheusConfig(serviceName string) *Config {
	config := DefaultConfig()
	config.ServiceName = serviceName
	config.ExposeSink = PrometheusSink
	return config
}

func NewInMemoryConfig(serviceName string) *Config {
	config := DefaultConfig()
	config.ServiceName = serviceName
	config.ExposeSink = InMemorySink
	return config
}

// FromMetricsConfig maps the command line settings onto a collector config.
func FromMetricsConfig(serviceName string, cfg *common.MetricsConfig) *Config {
	config := DefaultConfig()
	config.ServiceName = serviceName
	if cfg.MetricsPath != "" {
		config.MetricsEndpoint = cfg.MetricsPath
	}
	switch ExposeMetricSink(cfg.MetricsSinkType) {
	case PrometheusSink, AllMetricsSink:
		config.ExposeSink = ExposeMetricSink(cfg.MetricsSinkType)
	default:
		config.ExposeSink = InMemorySink
	}
	return config
}

func DefaultConfig() *Config {
	return &Config{
		AggregationInterval: 5 * time.Second,
		RetentionPeriod:     10 * time.Minute,
		MetricsEndpoint:     ExposeMetricURL,
		ExposeSink:          InMemorySink,
	}
}

func newInMemSink(config *Config) *gometrics.InmemSink {
	return gometrics.NewInmemSink(
		config.AggregationInterval,
		config.RetentionPeriod,
	)
}

// NewMetricsCollector returns the process-wide collector. The Prometheus
// sink registers with the default registry, so only the first config counts.
func NewMetricsCollector(config *Config) (CommandMetricsCollector, error) {
	var initErr error
	collectorOnce.Do(func() {
		instance, initErr = newCollector(config)
	})
	return instance, initErr
}

func newCollector(config *Config) (*hashicorpMetricsCollector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	metricsConf := gometrics.DefaultConfig(config.ServiceName)
	metricsConf.EnableHostname = false
	metricsConf.EnableRuntimeMetrics = false
	sink := &fanoutSink{sinks: make([]gometrics.MetricSink, 0)}
	var inm *gometrics.InmemSink
	var promSink *prometheus.PrometheusSink
	var err error
	switch config.ExposeSink {
	case PrometheusSink:
		promSink, err = prometheus.NewPrometheusSink()
		if err != nil {
			return nil, err
		}
		sink.sinks = append(sink.sinks, promSink)
	case AllMetricsSink:
		inm = newInMemSink(config)
		promSink, err = prometheus.NewPrometheusSink()
		if err != nil {
			return nil, err
		}
		sink.sinks = append(sink.sinks, inm, promSink)
	default:
		inm = newInMemSink(config)
		sink.sinks = append(sink.sinks, inm)
	}

	metricsImpl, err := gometrics.New(metricsConf, sink)
	if err != nil {
		return nil, err
	}
	logger.Info("Metrics collector initialized",
		"serviceName", config.ServiceName,
		"sink", config.ExposeSink,
		"endpoint", config.MetricsEndpoint)
	return &hashicorpMetricsCollector{
		metrics:            metricsImpl,
		inm:                inm,
		promSink:           promSink,
		exposeSink:         config.ExposeSink,
		metricsEndpoint:    config.MetricsEndpoint,
		serviceName:        config.ServiceName,
		serviceLabel:       gometrics.Label{Name: "service", Value: config.ServiceName},
		commandLabelPrefix: "command",
		errorLabelPrefix:   "kind",
		labelPool:          newLabelPool(),
	}, nil
}

// hashicorpMetricsCollector implements CommandMetricsCollector using hashicorp/go-metrics
type hashicorpMetricsCollector struct {
	metrics         *gometrics.Metrics
	inm             *gometrics.InmemSink
	promSink        *prometheus.PrometheusSink
	exposeSink      ExposeMetricSink
	metricsEndpoint string
	serviceName     string

	serviceLabel       gometrics.Label
	commandLabelPrefix string
	errorLabelPrefix   string

	labelPool *labelPool
}

func (h *hashicorpMetricsCollector) RecordCommandLatency(command string, duration time.Duration) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel, gometrics.Label{Name: h.commandLabelPrefix, Value: command})

	h.metrics.AddSampleWithLabels([]string{"command", "latency"}, float32(duration.Microseconds()), labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) RecordOverallLatency(duration time.Duration) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel)

	h.metrics.AddSampleWithLabels([]string{"overall", "latency"}, float32(duration.Microseconds()), labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) IncrementCommandCounter(command string) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel, gometrics.Label{Name: h.commandLabelPrefix, Value: command})

	h.metrics.IncrCounterWithLabels([]string{"command", "count"}, 1, labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) IncrementErrorCounter(kind string) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel, gometrics.Label{Name: h.errorLabelPrefix, Value: kind})

	h.metrics.IncrCounterWithLabels([]string{"errors"}, 1, labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) RecordPoolStatus(status *backend.PoolStatus) {
	labels := []gometrics.Label{h.serviceLabel, {Name: "endpoint", Value: status.Name}}
	h.metrics.SetGaugeWithLabels([]string{"pool", "conns"}, float32(status.Conns), labels)
	h.metrics.SetGaugeWithLabels([]string{"pool", "idle_conns"}, float32(status.IdleConns), labels)
	h.metrics.SetGaugeWithLabels([]string{"pool", "stale_conns"}, float32(status.StaleConns), labels)
	h.metrics.SetGaugeWithLabels([]string{"pool", "timeouts"}, float32(status.Timeouts), labels)
	h.metrics.SetGaugeWithLabels([]string{"pool", "dial_errors"}, float32(status.DialErrors), labels)
}

func (h *hashicorpMetricsCollector) SetActiveConnections(n int64) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel)

	h.metrics.SetGaugeWithLabels([]string{"connections", "active"}, float32(n), labels)

	h.labelPool.put(labels)
}

// CollectorHandler returns an HTTP handler for metrics based on the configured sink
func (h *hashicorpMetricsCollector) CollectorHandler() http.Handler {
	switch h.exposeSink {
	case PrometheusSink, AllMetricsSink:
		return promhttp.Handler()
	case InMemorySink:
		return h.InMemoryHandler()
	default:
		return http.NotFoundHandler()
	}
}

// InMemoryHandler serves the current in-memory interval as JSON.
func (h *hashicorpMetricsCollector) InMemoryHandler() http.Handler {
	if h.inm == nil {
		logger.Error(nil, "In-memory sink is nil, cannot serve metrics")
		return http.NotFoundHandler()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// DisplayMetrics returns the summary instead of writing it.
		data, err := h.inm.DisplayMetrics(w, r)
		if err != nil {
			logger.Error(err, "Failed to display metrics")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if data == nil {
			_, _ = w.Write([]byte("{}"))
			return
		}
		jsonData, err := json.Marshal(data)
		if err != nil {
			logger.Error(err, "Failed to marshal metrics data to JSON")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(jsonData)
	})
}

// fanoutSink implements a sink that forwards to multiple sinks
type fanoutSink struct {
	sinks []gometrics.MetricSink
}

func (f *fanoutSink) SetGauge(key []string, val float32) {
	for _, s := range f.sinks {
		s.SetGauge(key, val)
	}
}

func (f *fanoutSink) SetGaugeWithLabels(key []string, val float32, labels []gometrics.Label) {
	for _, s := range f.sinks {
		s.SetGaugeWithLabels(key, val, labels)
	}
}

func (f *fanoutSink) EmitKey(key []string, val float32) {
	for _, s := range f.sinks {
		s.EmitKey(key, val)
	}
}

func (f *fanoutSink) IncrCounter(key []string, val float32) {
	for _, s := range f.sinks {
		s.IncrCounter(key, val)
	}
}

func (f *fanoutSink) IncrCounterWithLabels(key []string, val float32, labels []gometrics.Label) {
	for _, s := range f.sinks {
		s.IncrCounterWithLabels(key, val, labels)
	}
}

func (f *fanoutSink) AddSample(key []string, val float32) {
	for _, s := range f.sinks {
		s.AddSample(key, val)
	}
}

func (f *fanoutSink) AddSampleWithLabels(key []string, val float32, labels []gometrics.Label) {
	for _, s := range f.sinks {
		s.AddSampleWithLabels(key, val, labels)
	}
}

func (h *hashicorpMetricsCollector) Shutdown() {
	if h.inm != nil {
		h.metrics.Shutdown()
	}
}

// Handler returns a Gin handler function for exposing metrics
func (h *hashicorpMetricsCollector) Handler() gin.HandlerFunc {
	handler := h.CollectorHandler()
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

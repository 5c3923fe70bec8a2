package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// PromObs logs through zap and records the bridge metrics in Prometheus.
// Unknown metric names are ignored.
type PromObs struct {
	log      *zap.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

var counterHelp = map[string]string{
	"farm_retry_queue_evicted_total":   "Ingestion payloads evicted from the retry queue at capacity.",
	"farm_ingest_sent_total":           "Ingestion payloads delivered to the cloud.",
	"farm_ingest_failed_total":         "Ingestion send attempts that failed or timed out.",
	"farm_mqtt_published_total":        "Messages handed to the broker connection.",
	"farm_mqtt_publish_rejected_total": "Publishes refused because the connection was down.",
	"farm_mqtt_received_total":         "Messages received from the broker.",
	"farm_messages_dropped_total":      "Messages dropped because they failed to decode.",
	"farm_unknown_target_total":        "Messages for an unknown farm or topic kind.",
	"farm_alarms_opened_total":         "Alarm records created.",
	"farm_alarms_resolved_total":       "Alarm records resolved.",
	"farm_commands_executed_total":     "Commands executed successfully on the edge.",
	"farm_commands_failed_total":       "Commands that failed on the edge.",
	"farm_daily_sync_sent_total":       "Daily summary batches delivered.",
	"farm_daily_sync_given_up_total":   "Daily sync runs that exhausted their attempts.",
	"farm_cloud_inbox_dropped_total":   "Inbound cloud messages dropped because the inbox was full.",
	"farm_offline_transitions_total":   "Farm online/offline flips detected by the monitor.",
}

var gaugeHelp = map[string]string{
	"farm_retry_queue_length":   "Payloads waiting in the retry queue.",
	"farm_ondemand_subscribers": "Viewers currently requesting live telemetry.",
	"farm_mqtt_connected":       "1 while the broker connection is up.",
	"farm_open_alarms":          "Alarm records currently open.",
	"farm_alarm_journal_bytes":  "Size of the alarm journal on disk.",
	"farm_offline_farms":        "Farms currently marked offline.",
	"farm_cloud_inbox_length":   "Messages waiting in the cloud dispatch inbox.",
	"farm_host_cpu_percent":     "Host CPU utilisation.",
	"farm_host_memory_percent":  "Host memory utilisation.",
}

var histoHelp = map[string]string{
	"farm_ingest_latency_seconds":         "Round trip of one ingestion send.",
	"farm_cloud_dispatch_latency_seconds": "Time spent handling one inbound cloud message.",
}

// NewPromObs registers every bridge metric on reg.
func NewPromObs(reg prometheus.Registerer, log *zap.Logger) *PromObs {
	if log == nil {
		log = zap.NewNop()
	}
	p := &PromObs{
		log:      log,
		counters: make(map[string]prometheus.Counter, len(counterHelp)),
		gauges:   make(map[string]prometheus.Gauge, len(gaugeHelp)),
		histos:   make(map[string]prometheus.Observer, len(histoHelp)),
	}

	var collectors []prometheus.Collector
	for name, help := range counterHelp {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		p.counters[name] = c
		collectors = append(collectors, c)
	}
	for name, help := range gaugeHelp {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		p.gauges[name] = g
		collectors = append(collectors, g)
	}
	for name, help := range histoHelp {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		})
		p.histos[name] = h
		collectors = append(collectors, h)
	}

	if reg != nil {
		reg.MustRegister(collectors...)
	}
	return p
}

// NewNop returns an instance backed by a private registry and a no-op logger.
func NewNop() *PromObs {
	return NewPromObs(prometheus.NewRegistry(), zap.NewNop())
}

func (p *PromObs) LogDebug(msg string, fields ...ports.Field) {
	p.log.Debug(msg, zapFields(fields)...)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, zapFields(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.log.Warn(msg, zapFields(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err), zap.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func zapFields(fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+2)
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)

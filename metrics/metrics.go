package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector receives channel events.
type Collector interface {
	PublishStarted(channel string)
	PublishEnded(channel string)
	PacketReceived(channel, kind string, bytes int)
	ParseError(channel, media string)
	PlayerJoined(channel string, replayed int)
	PlayerLeft(channel string)
	PacketsDropped(channel string, n int)
}

type nop struct{}

func (nop) PublishStarted(string)              {}
func (nop) PublishEnded(string)                {}
func (nop) PacketReceived(string, string, int) {}
func (nop) ParseError(string, string)          {}
func (nop) PlayerJoined(string, int)           {}
func (nop) PlayerLeft(string)                  {}
func (nop) PacketsDropped(string, int)         {}

func Nop() Collector {
	return nop{}
}

type PrometheusCollector struct {
	registry *prometheus.Registry

	activePublishers prometheus.Gauge
	activePlayers    *prometheus.GaugeVec
	packetsTotal     *prometheus.CounterVec
	bytesTotal       *prometheus.CounterVec
	parseErrorsTotal *prometheus.CounterVec
	replayedPackets  prometheus.Histogram
	droppedTotal     *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &PrometheusCollector{
		registry: reg,
		activePublishers: f.NewGauge(prometheus.GaugeOpts{
			Name: "livecache_active_publishers",
			Help: "Number of channels currently in publication",
		}),
		activePlayers: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livecache_active_players",
			Help: "Number of attached players per channel",
		}, []string{"channel"}),
		packetsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livecache_packets_total",
			Help: "Packets received from publishers",
		}, []string{"channel", "kind"}),
		bytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livecache_bytes_total",
			Help: "Payload bytes received from publishers",
		}, []string{"channel"}),
		parseErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livecache_parse_errors_total",
			Help: "Units whose tag header could not be parsed",
		}, []string{"channel", "media"}),
		replayedPackets: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livecache_join_replayed_packets",
			Help:    "Packets replayed from the cache to a joining player",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		droppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livecache_player_dropped_packets_total",
			Help: "Packets dropped from slow player queues",
		}, []string{"channel"}),
	}
}

func (c *PrometheusCollector) PublishStarted(string) {
	c.activePublishers.Inc()
}

func (c *PrometheusCollector) PublishEnded(string) {
	c.activePublishers.Dec()
}

func (c *PrometheusCollector) PacketReceived(channel, kind string, bytes int) {
	c.packetsTotal.WithLabelValues(channel, kind).Inc()
	c.bytesTotal.WithLabelValues(channel).Add(float64(bytes))
}

func (c *PrometheusCollector) ParseError(channel, media string) {
	c.parseErrorsTotal.WithLabelValues(channel, media).Inc()
}

func (c *PrometheusCollector) PlayerJoined(channel string, replayed int) {
	c.activePlayers.WithLabelValues(channel).Inc()
	c.replayedPackets.Observe(float64(replayed))
}

func (c *PrometheusCollector) PlayerLeft(channel string) {
	c.activePlayers.WithLabelValues(channel).Dec()
}

func (c *PrometheusCollector) PacketsDropped(channel string, n int) {
	c.droppedTotal.WithLabelValues(channel).Add(float64(n))
}

func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *PrometheusCollector) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

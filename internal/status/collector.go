package status

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vpnaccess"

// Source yields status snapshots
type Source interface {
	Snapshot(ctx context.Context) *Snapshot
}

// Collector exports the daemon status as prometheus metrics. The status
// file is re-read on every scrape.
type Collector struct {
	source Source

	connected     *prometheus.Desc
	bytesReceived *prometheus.Desc
	bytesSent     *prometheus.Desc
	routes        *prometheus.Desc
	globalStat    *prometheus.Desc
}

// NewCollector creates a collector over the given source
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		connected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "connected_clients"),
			"Number of clients listed in the status file.",
			nil, nil,
		),
		bytesReceived: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "bytes_received_total"),
			"Bytes received from a connected client.",
			[]string{"common_name"}, nil,
		),
		bytesSent: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "bytes_sent_total"),
			"Bytes sent to a connected client.",
			[]string{"common_name"}, nil,
		),
		routes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "routes"),
			"Number of routing table entries.",
			nil, nil,
		),
		globalStat: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "global_stat"),
			"Numeric global statistics reported by the daemon.",
			[]string{"name"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connected
	ch <- c.bytesReceived
	ch <- c.bytesSent
	ch <- c.routes
	ch <- c.globalStat
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot(context.Background())

	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, float64(len(snap.Clients)))
	ch <- prometheus.MustNewConstMetric(c.routes, prometheus.GaugeValue, float64(len(snap.Routes)))

	// A common name can appear twice with duplicate-cn; sum per label.
	received := map[string]int64{}
	sent := map[string]int64{}
	for _, cl := range snap.Clients {
		received[cl.CommonName] += cl.BytesReceived
		sent[cl.CommonName] += cl.BytesSent
	}
	for name, v := range received {
		ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(v), name)
	}
	for name, v := range sent {
		ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(v), name)
	}

	for name, raw := range snap.GlobalStats {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.globalStat, prometheus.GaugeValue, v, name)
	}
}

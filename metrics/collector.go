// Package metrics exports proxy counters to prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rigado/bleproxy/proxy"
)

const namespace = "bleproxy"

// StatsSource is anything with a proxy.Stats snapshot, usually a *proxy.Proxy.
type StatsSource interface {
	Stats() proxy.Stats
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(s proxy.Stats) float64
}

// Collector reads a fresh snapshot on every scrape.
type Collector struct {
	src      StatsSource
	counters []counterDesc
	gauges   []counterDesc
	credits  *prometheus.Desc
	reserved *prometheus.Desc
}

func NewCollector(src StatsSource) *Collector {
	c := &Collector{src: src}

	counter := func(name, help string, f func(proxy.Stats) float64) {
		c.counters = append(c.counters, counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
			value: f,
		})
	}
	gauge := func(name, help string, f func(proxy.Stats) float64) {
		c.gauges = append(c.gauges, counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
			value: f,
		})
	}

	counter("packets_sent_total", "ACL packets the proxy sent on its own channels.",
		func(s proxy.Stats) float64 { return float64(s.PacketsSent) })
	counter("packets_consumed_total", "Packets from the controller consumed by proxy channels.",
		func(s proxy.Stats) float64 { return float64(s.PacketsConsumed) })
	counter("packets_forwarded_total", "Packets passed between host and controller.",
		func(s proxy.Stats) float64 { return float64(s.PacketsForwarded) })
	counter("fragment_violations_total", "ACL fragments out of sequence.",
		func(s proxy.Stats) float64 { return float64(s.FragmentViolations) })
	counter("malformed_packets_total", "Packets that couldn't be parsed and were passed on as is.",
		func(s proxy.Stats) float64 { return float64(s.MalformedPackets) })
	counter("credit_clamps_total", "Credit releases beyond the reservation.",
		func(s proxy.Stats) float64 { return float64(s.CreditClamps) })
	counter("resets_total", "HCI resets seen from the host.",
		func(s proxy.Stats) float64 { return float64(s.Resets) })

	gauge("channels_open", "Channels acquired by clients.",
		func(s proxy.Stats) float64 { return float64(s.ChannelsOpen) })
	gauge("tx_buffers_free", "Free tx buffers.",
		func(s proxy.Stats) float64 { return float64(s.FreeTxBuffers) })

	labels := []string{"transport"}
	c.credits = prometheus.NewDesc(prometheus.BuildFQName(namespace, "acl", "credits_available"),
		"ACL credits the proxy can send with now.", labels, nil)
	c.reserved = prometheus.NewDesc(prometheus.BuildFQName(namespace, "acl", "credits_reserved"),
		"ACL credits kept back from the host.", labels, nil)
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, d := range c.gauges {
		ch <- d.desc
	}
	ch <- c.credits
	ch <- c.reserved
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	for _, d := range c.counters {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, d.value(s))
	}
	for _, d := range c.gauges {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.GaugeValue, d.value(s))
	}
	ch <- prometheus.MustNewConstMetric(c.credits, prometheus.GaugeValue, float64(s.LeCredits), "le")
	ch <- prometheus.MustNewConstMetric(c.credits, prometheus.GaugeValue, float64(s.BrEdrCredits), "bredr")
	ch <- prometheus.MustNewConstMetric(c.reserved, prometheus.GaugeValue, float64(s.LeReserved), "le")
	ch <- prometheus.MustNewConstMetric(c.reserved, prometheus.GaugeValue, float64(s.BrEdrReserved), "bredr")
}

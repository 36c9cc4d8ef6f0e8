// Package metrics exports the reclamation engine's published snapshot to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/l1jgo/reclaimer/internal/reclaim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reclaimer"

// Collector is a prometheus.Collector that reads the engine snapshot on
// every scrape. It never touches game-loop state.
type Collector struct {
	snapshot func() *reclaim.Snapshot

	// --- 全域 ---
	tick      *prometheus.Desc
	queued    *prometheus.Desc
	passes    *prometheus.Desc
	failures  *prometheus.Desc
	deleted   *prometheus.Desc
	collected *prometheus.Desc
	scanning  *prometheus.Desc
	slowest   *prometheus.Desc

	// --- 依類型（kind 標籤）---
	requests    *prometheus.Desc
	hookSeconds *prometheus.Desc
	kindFails   *prometheus.Desc
	hardDeletes *prometheus.Desc
	hdSeconds   *prometheus.Desc
	overruns    *prometheus.Desc
	suspended   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector over snapshot, which must be safe to
// call from any goroutine and may return nil before the first tick.
func NewCollector(snapshot func() *reclaim.Snapshot) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		snapshot:    snapshot,
		tick:        desc("tick", "Tick of the last published snapshot."),
		queued:      desc("queue_length", "Entries waiting in a stage.", "stage"),
		passes:      desc("stage_passes_total", "Entries found collected when their stage came due.", "stage"),
		failures:    desc("stage_failures_total", "Entries still reachable when their stage came due.", "stage"),
		deleted:     desc("hard_deleted_total", "Entities destroyed by hard delete."),
		collected:   desc("collected_total", "Entities collected by the host without a hard delete."),
		scanning:    desc("reference_search_active", "1 while a reference search pauses the queues."),
		slowest:     desc("hard_delete_slowest_seconds", "Slowest single hard delete so far."),
		requests:    desc("kind_requests_total", "Destruction requests per kind.", "kind"),
		hookSeconds: desc("kind_hook_seconds_total", "Time spent in cleanup hooks per kind.", "kind"),
		kindFails:   desc("kind_failures_total", "Stage failures per kind.", "kind", "stage"),
		hardDeletes: desc("kind_hard_deletes_total", "Hard deletes per kind.", "kind"),
		hdSeconds:   desc("kind_hard_delete_seconds_total", "Time spent hard deleting per kind.", "kind"),
		overruns:    desc("kind_overruns", "Hard deletes of a kind that exceeded the overrun threshold.", "kind"),
		suspended:   desc("kind_suspended", "1 when hard deletes of a kind are suspended.", "kind"),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.tick, c.queued, c.passes, c.failures, c.deleted, c.collected,
		c.scanning, c.slowest, c.requests, c.hookSeconds, c.kindFails,
		c.hardDeletes, c.hdSeconds, c.overruns, c.suspended,
	} {
		ch <- d
	}
}

// Collect implements the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()
	if snap == nil {
		return
	}
	st := snap.Status
	ch <- prometheus.MustNewConstMetric(c.tick, prometheus.GaugeValue, float64(snap.Tick))
	for s := reclaim.StageFilter; s < reclaim.StageCount; s++ {
		stage := stageLabel(s)
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(st.Queued[s]), stage)
		ch <- prometheus.MustNewConstMetric(c.passes, prometheus.CounterValue, float64(st.Passes[s]), stage)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(st.Failures[s]), stage)
	}
	ch <- prometheus.MustNewConstMetric(c.deleted, prometheus.CounterValue, float64(st.TotalDeleted))
	ch <- prometheus.MustNewConstMetric(c.collected, prometheus.CounterValue, float64(st.TotalCollected))
	ch <- prometheus.MustNewConstMetric(c.scanning, prometheus.GaugeValue, boolValue(st.Scanning))
	ch <- prometheus.MustNewConstMetric(c.slowest, prometheus.GaugeValue, st.Slowest.Seconds())

	for _, k := range snap.Kinds {
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(k.Requests), k.Kind)
		ch <- prometheus.MustNewConstMetric(c.hookSeconds, prometheus.CounterValue, k.HookTime.Seconds(), k.Kind)
		for s := reclaim.StageFilter; s < reclaim.StageCount; s++ {
			ch <- prometheus.MustNewConstMetric(c.kindFails, prometheus.CounterValue, float64(k.Failures[s]), k.Kind, stageLabel(s))
		}
		ch <- prometheus.MustNewConstMetric(c.hardDeletes, prometheus.CounterValue, float64(k.HardDeletes), k.Kind)
		ch <- prometheus.MustNewConstMetric(c.hdSeconds, prometheus.CounterValue, k.HardDeleteTime.Seconds(), k.Kind)
		ch <- prometheus.MustNewConstMetric(c.overruns, prometheus.GaugeValue, float64(k.Overruns), k.Kind)
		ch <- prometheus.MustNewConstMetric(c.suspended, prometheus.GaugeValue, boolValue(k.SuspendedForLag), k.Kind)
	}
}

func stageLabel(s reclaim.Stage) string { return s.String() }

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// NewRegistry returns a registry holding c and the Go runtime collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewServer returns an HTTP server exposing reg at path on addr. The caller
// runs ListenAndServe and Shutdown.
func NewServer(addr, path string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux}
}

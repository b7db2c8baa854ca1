// Package telemetry provides the instrumentation collaborator for the
// concread engines.
//
// Every engine owns a Telemetry instance (either passed in via its Options
// or created privately) and increments its counters as transactions are
// pinned, committed, aborted and as cache entries are hit, missed or
// evicted. All counters are atomic: the engines never block on telemetry
// consumption, and an external collector may sample the counters at any
// time, either programmatically via the getters or as Prometheus text
// exposition via WritePrometheus.
package telemetry

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Telemetry holds the counters exposed by one engine instance.
//
// Thread-safety: all methods are safe for concurrent use.
type Telemetry struct {
	set *metrics.Set

	// transaction machinery
	Pins               *metrics.Counter
	PinReleases        *metrics.Counter
	ReclaimedVersions  *metrics.Counter
	Commits            *metrics.Counter
	Aborts             *metrics.Counter
	ContentionFailures *metrics.Counter

	// cache policy
	CacheHits      *metrics.Counter
	CacheMisses    *metrics.Counter
	CacheEvictions *metrics.Counter
	CacheGhostHits *metrics.Counter
}

// New creates a Telemetry instance. The instance name is attached as a
// label so that multiple engines can be scraped side by side.
func New(instance string) *Telemetry {
	s := metrics.NewSet()
	c := func(name string) *metrics.Counter {
		return s.NewCounter(fmt.Sprintf(`concread_%s{instance=%q}`, name, instance))
	}

	return &Telemetry{
		set:                s,
		Pins:               c("pins_total"),
		PinReleases:        c("pin_releases_total"),
		ReclaimedVersions:  c("reclaimed_versions_total"),
		Commits:            c("commits_total"),
		Aborts:             c("aborts_total"),
		ContentionFailures: c("contention_failures_total"),
		CacheHits:          c("cache_hits_total"),
		CacheMisses:        c("cache_misses_total"),
		CacheEvictions:     c("cache_evictions_total"),
		CacheGhostHits:     c("cache_ghost_hits_total"),
	}
}

// WritePrometheus writes all counters in Prometheus text exposition format.
func (t *Telemetry) WritePrometheus(w io.Writer) {
	t.set.WritePrometheus(w)
}

package task

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics are the protocol counters of one node.
type Metrics struct {
	RemoteGets          *metrics.Counter
	CoalescedGets       *metrics.Counter
	HomeGetRetries      *metrics.Counter
	RemotePuts          *metrics.Counter
	RemotePutDuration   *metrics.Histogram
	Invalidations       *metrics.Counter
	InvalidationFailure *metrics.Counter
	LeasesGranted       *metrics.Counter
	LeasesExpired       *metrics.Counter
}

// NewMetrics registers the protocol metrics of node in set.
func NewMetrics(set *metrics.Set, node string) *Metrics {
	name := func(n string) string { return fmt.Sprintf(`%s{node=%q}`, n, node) }
	return &Metrics{
		RemoteGets:          set.NewCounter(name("ckv_remote_get_total")),
		CoalescedGets:       set.NewCounter(name("ckv_remote_get_coalesced_total")),
		HomeGetRetries:      set.NewCounter(name("ckv_home_get_retries_total")),
		RemotePuts:          set.NewCounter(name("ckv_remote_put_total")),
		RemotePutDuration:   set.NewHistogram(name("ckv_remote_put_duration_seconds")),
		Invalidations:       set.NewCounter(name("ckv_invalidations_total")),
		InvalidationFailure: set.NewCounter(name("ckv_invalidation_failures_total")),
		LeasesGranted:       set.NewCounter(name("ckv_leases_granted_total")),
		LeasesExpired:       set.NewCounter(name("ckv_leases_expired_total")),
	}
}

package dkv

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

type nodeMetrics struct {
	localGets   *metrics.Counter
	remoteGets  *metrics.Counter
	homePuts    *metrics.Counter
	remotePuts  *metrics.Counter
	putDuration *metrics.Histogram
}

func newNodeMetrics(set *metrics.Set, n *Node) *nodeMetrics {
	node := n.Self().Name
	name := func(metric, extra string) string {
		if extra == "" {
			return fmt.Sprintf(`%s{node=%q}`, metric, node)
		}
		return fmt.Sprintf(`%s{node=%q,%s}`, metric, node, extra)
	}

	set.NewGauge(name("ckv_table_keys", ""), func() float64 { return float64(n.table.Len()) })
	set.NewGauge(name("ckv_table_cached_bytes", ""), func() float64 { return float64(n.table.Info().CachedBytes) })
	set.NewGauge(name("ckv_open_leases", ""), func() float64 { return float64(n.handler.Leases().Len()) })

	return &nodeMetrics{
		localGets:   set.NewCounter(name("ckv_get_total", `path="local"`)),
		remoteGets:  set.NewCounter(name("ckv_get_total", `path="remote"`)),
		homePuts:    set.NewCounter(name("ckv_put_total", `path="home"`)),
		remotePuts:  set.NewCounter(name("ckv_put_total", `path="remote"`)),
		putDuration: set.NewHistogram(name("ckv_put_duration_seconds", "")),
	}
}

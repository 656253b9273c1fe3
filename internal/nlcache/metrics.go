// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nlcache

import "github.com/prometheus/client_golang/prometheus"

const namespace = "nlc"

var (
	descHit                 = prometheus.NewDesc(namespace+"_hit", "Lookups served locally as ENOENT from the negative/positive entry cache.", nil, nil)
	descMiss                = prometheus.NewDesc(namespace+"_miss", "Forwarded lookups that came back ENOENT from the backend.", nil, nil)
	descNamelessLookup      = prometheus.NewDesc(namespace+"_nameless_lookup", "Lookup calls with no child name (inode revalidation), always forwarded.", nil, nil)
	descGetRealFileNameHit  = prometheus.NewDesc(namespace+"_getrealfilename_hit", "get_real_filename getxattr calls answered from the cached positive-entry set.", nil, nil)
	descGetRealFileNameMiss = prometheus.NewDesc(namespace+"_getrealfilename_miss", "get_real_filename getxattr calls forwarded to the backend.", nil, nil)
	descPEInodeCount        = prometheus.NewDesc(namespace+"_pe_inode_cnt", "Cumulative count of positive entries added across the cache's lifetime.", nil, nil)
	descNEInodeCount        = prometheus.NewDesc(namespace+"_ne_inode_cnt", "Cumulative count of new negative entries recorded through AddNE across the cache's lifetime; names recorded absent by a positive-entry removal are not counted.", nil, nil)
	descInvalidations       = prometheus.NewDesc(namespace+"_invals", "Invalidation events processed by internal/invalidation.", nil, nil)

	descCurrentCacheSize = prometheus.NewDesc(namespace+"_current_cache_size", "Bytes currently accounted across every cached directory.", nil, nil)
	descRefdInodes       = prometheus.NewDesc(namespace+"_refd_inodes", "Positive entries currently carrying a child identity.", nil, nil)
	descByteCap          = prometheus.NewDesc(namespace+"_byte_cap", "Configured soft byte cap (nl-cache-limit).", nil, nil)
	descInodeCap         = prometheus.NewDesc(namespace+"_inode_cap", "Configured inode cap.", nil, nil)
)

// Collector adapts a *Conf's Statistics and gauges to prometheus.Collector.
// The counters already live on Conf as atomics, so this describes them to
// Prometheus at scrape time instead of duplicating the bookkeeping in
// promauto-managed metric objects.
type Collector struct {
	conf *Conf
}

// NewCollector returns a prometheus.Collector exposing conf's counters and
// gauges. Callers register it with whatever prometheus.Registerer they use
// (cmd/nlcached uses the default registry).
func NewCollector(conf *Conf) *Collector {
	return &Collector{conf: conf}
}

var _ prometheus.Collector = (*Collector)(nil)

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descHit
	ch <- descMiss
	ch <- descNamelessLookup
	ch <- descGetRealFileNameHit
	ch <- descGetRealFileNameMiss
	ch <- descPEInodeCount
	ch <- descNEInodeCount
	ch <- descInvalidations
	ch <- descCurrentCacheSize
	ch <- descRefdInodes
	ch <- descByteCap
	ch <- descInodeCap
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.conf.Stats.Snapshot()

	ch <- prometheus.MustNewConstMetric(descHit, prometheus.CounterValue, float64(s.Hit))
	ch <- prometheus.MustNewConstMetric(descMiss, prometheus.CounterValue, float64(s.Miss))
	ch <- prometheus.MustNewConstMetric(descNamelessLookup, prometheus.CounterValue, float64(s.NamelessLookup))
	ch <- prometheus.MustNewConstMetric(descGetRealFileNameHit, prometheus.CounterValue, float64(s.GetRealFileNameHit))
	ch <- prometheus.MustNewConstMetric(descGetRealFileNameMiss, prometheus.CounterValue, float64(s.GetRealFileNameMiss))
	ch <- prometheus.MustNewConstMetric(descPEInodeCount, prometheus.CounterValue, float64(s.PEInodeCount))
	ch <- prometheus.MustNewConstMetric(descNEInodeCount, prometheus.CounterValue, float64(s.NEInodeCount))
	ch <- prometheus.MustNewConstMetric(descInvalidations, prometheus.CounterValue, float64(s.Invalidations))

	ch <- prometheus.MustNewConstMetric(descCurrentCacheSize, prometheus.GaugeValue, float64(c.conf.currentCacheSize.Load()))
	ch <- prometheus.MustNewConstMetric(descRefdInodes, prometheus.GaugeValue, float64(c.conf.refdInodes.Load()))
	ch <- prometheus.MustNewConstMetric(descByteCap, prometheus.GaugeValue, float64(c.conf.cacheSizeLimit))
	ch <- prometheus.MustNewConstMetric(descInodeCap, prometheus.GaugeValue, float64(c.conf.inodeLimit))
}

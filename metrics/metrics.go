/* Copyright (c) 2016 Jason Ish
 * All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions
 * are met:
 *
 * 1. Redistributions of source code must retain the above copyright
 *    notice, this list of conditions and the following disclaimer.
 * 2. Redistributions in binary form must reproduce the above copyright
 *    notice, this list of conditions and the following disclaimer in the
 *    documentation and/or other materials provided with the distribution.
 *
 * THIS SOFTWARE IS PROVIDED ``AS IS'' AND ANY EXPRESS OR IMPLIED
 * WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
 * MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
 * DISCLAIMED. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY DIRECT,
 * INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES
 * (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
 * SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION)
 * HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT,
 * STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING
 * IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
 * POSSIBILITY OF SUCH DAMAGE.
 */

// Package metrics keeps the engine counters.
package metrics

import (
	"sync/atomic"

	"github.com/jasonish/icsdpi/packet"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "icsdpi"

// Rule sources a match can come from.
const (
	SourceIcs      = "ics"
	SourceSuricata = "suricata"
)

var errorKinds = []packet.ErrorKind{
	packet.ErrParsingPayload,
	packet.ErrParsingHeader,
	packet.ErrUnknownPayload,
	packet.ErrNotEndPayload,
	packet.ErrUnregisteredParser,
}

// Collector counts packets, decode failures, matches and rule loads. All
// methods are safe for concurrent use and a nil Collector ignores updates.
type Collector struct {
	packets         uint64
	unknown         uint64
	decodeErrors    [packet.ErrUnregisteredParser + 1]uint64
	icsMatches      uint64
	suricataMatches uint64
	ruleLoads       uint64
	reloadFailures  uint64
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) IncPackets() {
	if c != nil {
		atomic.AddUint64(&c.packets, 1)
	}
}

// IncUnknown counts packets whose payload no parser claimed.
func (c *Collector) IncUnknown() {
	if c != nil {
		atomic.AddUint64(&c.unknown, 1)
	}
}

func (c *Collector) IncDecodeError(kind packet.ErrorKind) {
	if c == nil || int(kind) >= len(c.decodeErrors) {
		return
	}
	atomic.AddUint64(&c.decodeErrors[kind], 1)
}

func (c *Collector) AddMatches(source string, n int) {
	if c == nil || n <= 0 {
		return
	}
	switch source {
	case SourceIcs:
		atomic.AddUint64(&c.icsMatches, uint64(n))
	case SourceSuricata:
		atomic.AddUint64(&c.suricataMatches, uint64(n))
	}
}

func (c *Collector) IncRuleLoads() {
	if c != nil {
		atomic.AddUint64(&c.ruleLoads, 1)
	}
}

func (c *Collector) IncReloadFailures() {
	if c != nil {
		atomic.AddUint64(&c.reloadFailures, 1)
	}
}

type Stats struct {
	Packets         uint64            `json:"packets"`
	Unknown         uint64            `json:"unknown"`
	DecodeErrors    map[string]uint64 `json:"decode_errors"`
	IcsMatches      uint64            `json:"ics_matches"`
	SuricataMatches uint64            `json:"suricata_matches"`
	RuleLoads       uint64            `json:"rule_loads"`
	ReloadFailures  uint64            `json:"reload_failures"`
}

func (c *Collector) Stats() Stats {
	stats := Stats{
		Packets:         atomic.LoadUint64(&c.packets),
		Unknown:         atomic.LoadUint64(&c.unknown),
		DecodeErrors:    make(map[string]uint64),
		IcsMatches:      atomic.LoadUint64(&c.icsMatches),
		SuricataMatches: atomic.LoadUint64(&c.suricataMatches),
		RuleLoads:       atomic.LoadUint64(&c.ruleLoads),
		ReloadFailures:  atomic.LoadUint64(&c.reloadFailures),
	}
	for _, kind := range errorKinds {
		if n := atomic.LoadUint64(&c.decodeErrors[kind]); n > 0 {
			stats.DecodeErrors[kind.String()] = n
		}
	}
	return stats
}

func (c *Collector) Reset() {
	atomic.StoreUint64(&c.packets, 0)
	atomic.StoreUint64(&c.unknown, 0)
	for i := range c.decodeErrors {
		atomic.StoreUint64(&c.decodeErrors[i], 0)
	}
	atomic.StoreUint64(&c.icsMatches, 0)
	atomic.StoreUint64(&c.suricataMatches, 0)
	atomic.StoreUint64(&c.ruleLoads, 0)
	atomic.StoreUint64(&c.reloadFailures, 0)
}

func (c *Collector) counter(name, help string, labels prometheus.Labels, value *uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, func() float64 {
		return float64(atomic.LoadUint64(value))
	})
}

// Register exports the counters on a Prometheus registry.
func (c *Collector) Register(registerer prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.counter("packets_total", "Packets inspected.", nil, &c.packets),
		c.counter("unknown_total", "Packets with an undecoded payload.", nil, &c.unknown),
		c.counter("matches_total", "Rule matches.",
			prometheus.Labels{"source": SourceIcs}, &c.icsMatches),
		c.counter("matches_total", "Rule matches.",
			prometheus.Labels{"source": SourceSuricata}, &c.suricataMatches),
		c.counter("rule_loads_total", "Rule sets published.", nil, &c.ruleLoads),
		c.counter("rule_reload_failures_total", "Rule reloads that kept the old rules.", nil, &c.reloadFailures),
	}
	for _, kind := range errorKinds {
		collectors = append(collectors, c.counter("decode_errors_total", "Packets that failed to decode.",
			prometheus.Labels{"kind": kind.String()}, &c.decodeErrors[kind]))
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

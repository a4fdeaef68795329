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

package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/jasonish/icsdpi/packet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	c := NewCollector()
	c.IncPackets()
	c.IncPackets()
	c.IncUnknown()
	c.IncDecodeError(packet.ErrParsingHeader)
	c.IncDecodeError(packet.ErrParsingHeader)
	c.IncDecodeError(packet.ErrNotEndPayload)
	c.IncDecodeError(packet.ErrorKind(200))
	c.AddMatches(SourceIcs, 2)
	c.AddMatches(SourceSuricata, 1)
	c.AddMatches("other", 5)
	c.IncRuleLoads()
	c.IncReloadFailures()

	assert.Equal(t, Stats{
		Packets: 2,
		Unknown: 1,
		DecodeErrors: map[string]uint64{
			"ParsingHeader": 2,
			"NotEndPayload": 1,
		},
		IcsMatches:      2,
		SuricataMatches: 1,
		RuleLoads:       1,
		ReloadFailures:  1,
	}, c.Stats())

	c.Reset()
	assert.Equal(t, Stats{DecodeErrors: map[string]uint64{}}, c.Stats())
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.IncPackets()
		c.IncUnknown()
		c.IncDecodeError(packet.ErrParsingPayload)
		c.AddMatches(SourceIcs, 1)
		c.IncRuleLoads()
		c.IncReloadFailures()
	})
}

func TestConcurrentUpdates(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.IncPackets()
				c.AddMatches(SourceIcs, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(10000), c.Stats().Packets)
	assert.Equal(t, uint64(10000), c.Stats().IcsMatches)
}

func TestRegister(t *testing.T) {
	c := NewCollector()
	registry := prometheus.NewRegistry()
	require.NoError(t, c.Register(registry))

	c.IncPackets()
	c.IncDecodeError(packet.ErrParsingPayload)
	c.AddMatches(SourceSuricata, 3)

	expected := `
# HELP icsdpi_matches_total Rule matches.
# TYPE icsdpi_matches_total counter
icsdpi_matches_total{source="ics"} 0
icsdpi_matches_total{source="suricata"} 3
# HELP icsdpi_packets_total Packets inspected.
# TYPE icsdpi_packets_total counter
icsdpi_packets_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"icsdpi_matches_total", "icsdpi_packets_total"))

	count, err := testutil.GatherAndCount(registry, "icsdpi_decode_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	// Registering twice fails.
	assert.Error(t, c.Register(registry))
}

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

package detect

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/jasonish/icsdpi/decoder"
	"github.com/jasonish/icsdpi/metrics"
	"github.com/jasonish/icsdpi/packet"
	"github.com/jasonish/icsdpi/packettest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func icsRuleFile(rid int) string {
	return `[{"rid": ` + strconv.Itoa(rid) + `, "action": "alert", "msg": "write", "proname": "Modbus",
		"args": [{"args_type": "ModbusReq", "function": "WriteSingleRegister"}]}]`
}

const surulesFile = `alert modbus any any -> any 502 (msg:"modbus write"; content:"|06|"; offset:7; depth:1; sid:100;)
drop tcp any any -> any any (msg:"any tcp"; sid:101;)
`

func writeRequest() []byte {
	adu := packettest.ADU(1, 1, packet.ModbusWriteSingleRegister, packettest.U16(100, 7)...)
	return packettest.ModbusRequest(adu)
}

func newTestEngine(t *testing.T, policy Policy) (*Engine, *metrics.Collector, string) {
	t.Helper()
	dir := t.TempDir()
	collector := metrics.NewCollector()
	engine := NewEngine(Options{Policy: policy, Metrics: collector})
	require.NoError(t, engine.LoadIcsRules(writeFile(t, dir, "ics.json", icsRuleFile(1))))
	ruleMap, err := engine.LoadSurules(writeFile(t, dir, "test.rules", surulesFile))
	require.NoError(t, err)
	assert.Equal(t, 2, ruleMap.Len())
	return engine, collector, dir
}

func TestEngineInspect(t *testing.T) {
	engine, collector, _ := newTestEngine(t, FirstMatch)
	assert.Equal(t, 2, engine.Surules().Len())
	assert.Equal(t, 1, engine.IcsRules().Current().Len())

	// First match applies to each rule set.
	result := engine.Inspect(writeRequest())
	assert.Equal(t, Hit, result.Verdict)
	assert.Nil(t, result.Err)
	assert.Equal(t, []Match{
		{Source: SourceIcs, RuleID: 1, Action: "alert", Msg: "write"},
		{Source: SourceSuricata, RuleID: 100, Action: "alert", Msg: "modbus write"},
	}, result.Matches)

	stats := collector.Stats()
	assert.Equal(t, uint64(1), stats.Packets)
	assert.Equal(t, uint64(1), stats.IcsMatches)
	assert.Equal(t, uint64(1), stats.SuricataMatches)
	assert.Equal(t, uint64(2), stats.RuleLoads)
}

func TestEngineAllMatches(t *testing.T) {
	engine, collector, _ := newTestEngine(t, AllMatches)
	result := engine.Inspect(writeRequest())
	require.Len(t, result.Matches, 3)
	assert.Equal(t, uint64(101), result.Matches[2].RuleID)
	assert.Equal(t, "drop", result.Matches[2].Action)
	assert.Equal(t, uint64(2), collector.Stats().SuricataMatches)

	// Only the catch all rule sees a plain TCP packet.
	result = engine.Inspect(packettest.Frame{SrcPort: 40000, DstPort: 80}.Bytes())
	require.Len(t, result.Matches, 1)
	assert.Equal(t, SourceSuricata, result.Matches[0].Source)
}

func TestEngineMalformed(t *testing.T) {
	engine, collector, _ := newTestEngine(t, FirstMatch)

	adu := packettest.ADU(1, 1, packet.ModbusWriteSingleRegister, packettest.U16(100)...)
	result := engine.Inspect(packettest.ModbusRequest(adu))

	// The catch all TCP rule still matches; the error is reported with it.
	assert.Equal(t, Hit, result.Verdict)
	require.NotNil(t, result.Err)
	assert.Equal(t, packet.LayerTypeModbusReq, result.Err.Layer)

	result = engine.Inspect(writeRequest()[:packettest.EthernetLen+4])
	assert.Equal(t, Malformed, result.Verdict)
	assert.Empty(t, result.Matches)

	stats := collector.Stats()
	assert.Equal(t, uint64(2), stats.Packets)
	assert.Equal(t, uint64(2), stats.DecodeErrors[packet.ErrParsingHeader.String()])
}

func TestEngineUnknownPayload(t *testing.T) {
	collector := metrics.NewCollector()
	frame := packettest.Frame{UDP: true, SrcPort: 5353, DstPort: 53, Payload: []byte("q")}.Bytes()

	engine := NewEngine(Options{Metrics: collector})
	assert.Equal(t, Miss, engine.Inspect(frame).Verdict)
	assert.Equal(t, uint64(1), collector.Stats().Unknown)

	strict := NewEngine(Options{Decoder: decoder.Options{Strict: true}})
	result := strict.Inspect(frame)
	assert.Equal(t, Malformed, result.Verdict)
	assert.Equal(t, packet.ErrUnknownPayload, result.Err.Kind)
}

func TestEngineReloadFailureKeepsRules(t *testing.T) {
	engine, collector, dir := newTestEngine(t, AllMatches)
	ics := engine.IcsRules().Current()
	surules := engine.Surules()

	err := engine.LoadIcsRules(writeFile(t, dir, "bad.json", `[{"rid": 1}]`))
	assert.Error(t, err)
	_, err = engine.LoadSurules(filepath.Join(dir, "missing.rules"))
	assert.Error(t, err)
	_, err = engine.LoadSurules(writeFile(t, dir, "bad.rules", "this is not a rule\n"))
	assert.Error(t, err)

	assert.Same(t, ics, engine.IcsRules().Current())
	assert.Same(t, surules, engine.Surules())
	assert.Len(t, engine.Inspect(writeRequest()).Matches, 3)
	assert.Equal(t, uint64(3), collector.Stats().ReloadFailures)
}

func TestEngineSkipsUncompilableRules(t *testing.T) {
	dir := t.TempDir()
	vars, err := NewVars(map[string]string{"HOME_NET": "192.168.0.0/24"}, nil)
	require.NoError(t, err)
	engine := NewEngine(Options{Vars: vars, Policy: AllMatches})

	path := writeFile(t, dir, "vars.rules", `alert tcp $HOME_NET any -> any 502 (sid:1;)
alert tcp $EXTERNAL_NET any -> any 502 (sid:2;)
`)
	ruleMap, err := engine.LoadSurules(path)
	require.NoError(t, err)
	assert.Equal(t, 2, ruleMap.Len())
	assert.Equal(t, 1, engine.Surules().Len())

	result := engine.Inspect(writeRequest())
	require.Len(t, result.Matches, 1)
	assert.Equal(t, uint64(1), result.Matches[0].RuleID)
}

// Inspections running during reloads see one complete rule set or the
// other, never a mix.
func TestEngineHotSwap(t *testing.T) {
	dir := t.TempDir()
	engine := NewEngine(Options{Policy: AllMatches})
	paths := []string{
		writeFile(t, dir, "one.json", icsRuleFile(1)),
		writeFile(t, dir, "two.json", icsRuleFile(2)),
	}
	surules := []string{
		writeFile(t, dir, "one.rules", "alert tcp any any -> any 502 (sid:1;)\n"),
		writeFile(t, dir, "two.rules", "alert tcp any any -> any 502 (sid:2;)\n"),
	}
	require.NoError(t, engine.LoadIcsRules(paths[0]))
	_, err := engine.LoadSurules(surules[0])
	require.NoError(t, err)

	frame := writeRequest()
	done := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				result := engine.Inspect(frame)
				var ics, suricata int
				for _, m := range result.Matches {
					if m.Source == SourceIcs {
						ics++
					} else {
						suricata++
					}
					if m.RuleID != 1 && m.RuleID != 2 {
						errs <- "unexpected rule"
						return
					}
				}
				if ics != 1 || suricata != 1 {
					errs <- "incomplete rule set"
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		require.NoError(t, engine.LoadIcsRules(paths[i%2]))
		_, err := engine.LoadSurules(surules[i%2])
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}

	result := engine.Inspect(frame)
	require.Len(t, result.Matches, 2)
	assert.Equal(t, uint64(2), result.Matches[0].RuleID)
	assert.Equal(t, uint64(2), result.Matches[1].RuleID)
}

func TestParsePolicy(t *testing.T) {
	for _, name := range []string{"", "first-match"} {
		policy, err := ParsePolicy(name)
		require.NoError(t, err)
		assert.Equal(t, FirstMatch, policy)
	}
	policy, err := ParsePolicy("all-matches")
	require.NoError(t, err)
	assert.Equal(t, AllMatches, policy)
	assert.Equal(t, "all-matches", policy.String())

	_, err = ParsePolicy("some")
	assert.Error(t, err)

	assert.Equal(t, "malformed", Malformed.String())
	assert.Equal(t, "Verdict(7)", Verdict(7).String())
}

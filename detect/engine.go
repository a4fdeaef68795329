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
	"sync/atomic"

	"github.com/jasonish/icsdpi/decoder"
	"github.com/jasonish/icsdpi/icsrule"
	"github.com/jasonish/icsdpi/log"
	"github.com/jasonish/icsdpi/metrics"
	"github.com/jasonish/icsdpi/packet"
	"github.com/jasonish/icsdpi/ruleparser"
	"github.com/jasonish/icsdpi/rules"
)

type Options struct {
	Decoder decoder.Options
	Policy  Policy

	// Header variables for Suricata rules. Rules using an undefined
	// variable are not loaded.
	Vars *Vars

	// Parse options for Suricata rule files.
	ParseOptions ruleparser.ParseOptions

	MaxFlows int

	// Optional.
	Metrics *metrics.Collector
}

// Engine decodes packets and matches them against the current ICS and
// Suricata rule sets. Rule sets are replaced atomically; a call to Inspect
// uses the sets that were current when it started.
type Engine struct {
	decoder      *decoder.Decoder
	ics          *icsrule.Store
	surules      atomic.Pointer[Compiled]
	policy       Policy
	vars         *Vars
	parseOptions ruleparser.ParseOptions
	flowbits     *Flowbits
	metrics      *metrics.Collector
}

func NewEngine(options Options) *Engine {
	engine := &Engine{
		decoder:      decoder.New(options.Decoder),
		ics:          icsrule.NewStore(),
		policy:       options.Policy,
		vars:         options.Vars,
		parseOptions: options.ParseOptions,
		flowbits:     NewFlowbits(options.MaxFlows),
		metrics:      options.Metrics,
	}
	engine.surules.Store(&Compiled{})
	return engine
}

func (e *Engine) Decoder() *decoder.Decoder {
	return e.decoder
}

// IcsRules returns the store holding the ICS rules, for rule management.
func (e *Engine) IcsRules() *icsrule.Store {
	return e.ics
}

func (e *Engine) Surules() *Compiled {
	return e.surules.Load()
}

func (e *Engine) Flowbits() *Flowbits {
	return e.flowbits
}

// Inspect decodes a frame and matches it against both rule sets.
func (e *Engine) Inspect(data []byte) CheckResult {
	return e.Check(e.decoder.Decode(data))
}

// FlowHash returns the flow hash of a frame. Frames of one flow, in either
// direction, hash the same.
func (e *Engine) FlowHash(data []byte) uint64 {
	return FlowKeyOf(e.decoder.Decode(data)).Hash()
}

// Check matches an already decoded packet. The policy applies to each rule
// set on its own, so a packet can match one rule of each set under
// first-match.
func (e *Engine) Check(pkt *packet.Packet) CheckResult {
	ics := e.ics.Current()
	surules := e.surules.Load()

	e.metrics.IncPackets()
	if pkt.End == packet.LayerTypeUnknown {
		e.metrics.IncUnknown()
	}
	if err := pkt.Err(); err != nil {
		e.metrics.IncDecodeError(err.Kind)
	}

	icsResult := DetectIcsWith(pkt, ics, e.policy)
	suResult := DetectSurules(pkt, surules, e.policy, e.flowbits)
	e.metrics.AddMatches(metrics.SourceIcs, len(icsResult.Matches))
	e.metrics.AddMatches(metrics.SourceSuricata, len(suResult.Matches))

	return icsResult.merge(suResult)
}

// LoadIcsRules loads an ICS rule file and makes it current. On failure the
// previous rules stay in use.
func (e *Engine) LoadIcsRules(path string) error {
	if err := e.ics.Init(path); err != nil {
		e.metrics.IncReloadFailures()
		return err
	}
	e.metrics.IncRuleLoads()
	return nil
}

// LoadSurules loads and compiles Suricata rule files and makes them
// current. Individual rules that fail to parse or compile are logged and
// skipped. On failure the previous rules stay in use.
func (e *Engine) LoadSurules(paths ...string) (*rules.RuleMap, error) {
	ruleMap, err := rules.NewRuleMapWith(paths, e.parseOptions)
	if err != nil {
		e.metrics.IncReloadFailures()
		return nil, err
	}
	compiled, errs := Compile(ruleMap.Rules(), e.vars)
	for _, err := range errs {
		log.Warning("Failed to compile rule: %v", err)
	}
	e.surules.Store(compiled)
	e.metrics.IncRuleLoads()
	log.Info("Loaded %d Suricata rules", compiled.Len())
	return ruleMap, nil
}

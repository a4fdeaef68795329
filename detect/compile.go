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
	"bytes"

	"github.com/jasonish/icsdpi/log"
	"github.com/jasonish/icsdpi/ruleparser"
	"github.com/pkg/errors"
)

// CompiledRule is a Suricata rule with its header variables resolved,
// ready for matching.
type CompiledRule struct {
	Rule *ruleparser.Surule

	source      ruleparser.AddressList
	destination ruleparser.AddressList
	sourcePort  ruleparser.PortList
	destPort    ruleparser.PortList

	// Lower cased patterns of nocase contents.
	folded map[*ruleparser.Content][]byte

	noalert bool

	// The rule sets, unsets or toggles flowbits.
	updatesFlowbits bool
}

// Compiled is an immutable set of compiled Suricata rules in load order.
type Compiled struct {
	Rules []*CompiledRule
}

func (c *Compiled) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Rules)
}

// Compile resolves the header variables of each enabled rule. Rules that
// cannot be compiled are left out and reported; they never stop the others.
func Compile(rules []*ruleparser.Surule, vars *Vars) (*Compiled, []error) {
	compiled := &Compiled{}
	var errs []error
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		c, err := compileRule(rule, vars)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "sid %d", rule.Sid))
			continue
		}
		if !protocolSupported(rule.Protocol) {
			log.Debug("Rule %d uses protocol %s, it will never match", rule.Sid, rule.Protocol)
		}
		compiled.Rules = append(compiled.Rules, c)
	}
	return compiled, errs
}

func compileRule(rule *ruleparser.Surule, vars *Vars) (*CompiledRule, error) {
	c := &CompiledRule{Rule: rule}
	var err error
	if c.source, err = vars.ResolveAddresses(rule.Source); err != nil {
		return nil, err
	}
	if c.destination, err = vars.ResolveAddresses(rule.Destination); err != nil {
		return nil, err
	}
	if c.sourcePort, err = vars.ResolvePorts(rule.SourcePort); err != nil {
		return nil, err
	}
	if c.destPort, err = vars.ResolvePorts(rule.DestPort); err != nil {
		return nil, err
	}
	for _, option := range rule.Options {
		switch o := option.(type) {
		case *ruleparser.Content:
			if o.Nocase {
				if c.folded == nil {
					c.folded = make(map[*ruleparser.Content][]byte)
				}
				c.folded[o] = bytes.ToLower(o.Pattern)
			}
		case ruleparser.Flag:
			if o == "noalert" {
				c.noalert = true
			}
		case *ruleparser.Flowbits:
			switch o.Command {
			case ruleparser.FlowbitNoAlert:
				c.noalert = true
			case ruleparser.FlowbitSet, ruleparser.FlowbitUnset, ruleparser.FlowbitToggle:
				c.updatesFlowbits = true
			}
		}
	}
	return c, nil
}

func protocolSupported(proto string) bool {
	switch proto {
	case "ip", "tcp", "udp", "modbus":
		return true
	}
	return false
}

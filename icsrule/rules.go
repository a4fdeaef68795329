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

package icsrule

import (
	"encoding/json"
	"time"
)

// Rules is an immutable snapshot of a loaded rule file. Readers may share a
// snapshot freely; changes produce a new one.
type Rules struct {
	Source   string
	LoadedAt time.Time

	rules   []*Rule
	byID    map[uint32]*Rule
	byProto map[string][]*Rule
}

func newRules(rules []*Rule) *Rules {
	r := &Rules{
		LoadedAt: time.Now(),
		rules:    rules,
		byID:     make(map[uint32]*Rule, len(rules)),
		byProto:  make(map[string][]*Rule),
	}
	for _, rule := range rules {
		r.byID[rule.Rid] = rule
		r.byProto[rule.Protocol] = append(r.byProto[rule.Protocol], rule)
	}
	return r
}

func (r *Rules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

// All returns the rules in declaration order.
func (r *Rules) All() []*Rule {
	if r == nil {
		return nil
	}
	return append([]*Rule(nil), r.rules...)
}

func (r *Rules) Get(rid uint32) (*Rule, bool) {
	if r == nil {
		return nil, false
	}
	rule, ok := r.byID[rid]
	return rule, ok
}

// ForProtocol returns the rules for an application protocol in declaration
// order.
func (r *Rules) ForProtocol(name string) []*Rule {
	if r == nil {
		return nil
	}
	return r.byProto[name]
}

// with returns a new snapshot with rules replacing the current ones.
func (r *Rules) with(rules []*Rule) *Rules {
	next := newRules(rules)
	next.Source = r.Source
	return next
}

// MarshalJSON writes the rules in the form Parse reads. Data and MBAP
// matches are written as predicates.
func (r *Rules) MarshalJSON() ([]byte, error) {
	out := make([]jsonRule, 0, r.Len())
	for _, rule := range r.All() {
		out = append(out, rule.toJSON())
	}
	return json.Marshal(out)
}

func (r *Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toJSON())
}

type jsonRule struct {
	Rid     uint32      `json:"rid"`
	Active  bool        `json:"active"`
	Action  Action      `json:"action"`
	SrcMAC  string      `json:"src_mac,omitempty"`
	SrcIP   interface{} `json:"src_ip,omitempty"`
	SrcPort interface{} `json:"src_port,omitempty"`
	Dir     Direction   `json:"dir"`
	DstMAC  string      `json:"dst_mac,omitempty"`
	DstIP   interface{} `json:"dst_ip,omitempty"`
	DstPort interface{} `json:"dst_port,omitempty"`
	Msg     string      `json:"msg,omitempty"`
	Proname string      `json:"proname"`
	Args    []jsonArg   `json:"args"`
}

type jsonArg struct {
	ArgsType   ArgType         `json:"args_type"`
	Function   *uint8          `json:"function,omitempty"`
	Predicates []jsonPredicate `json:"predicates,omitempty"`
}

type jsonPredicate struct {
	Field string      `json:"field"`
	Op    Op          `json:"op"`
	Value interface{} `json:"value"`
}

func (r *Rule) toJSON() jsonRule {
	out := jsonRule{
		Rid:     r.Rid,
		Active:  r.Active,
		Action:  r.Action,
		SrcIP:   addrJSON(r.SrcIP),
		SrcPort: portJSON(r.SrcPort),
		Dir:     r.Dir,
		DstIP:   addrJSON(r.DstIP),
		DstPort: portJSON(r.DstPort),
		Msg:     r.Msg,
		Proname: r.Protocol,
		Args:    []jsonArg{},
	}
	if r.SrcMAC != nil {
		out.SrcMAC = r.SrcMAC.String()
	}
	if r.DstMAC != nil {
		out.DstMAC = r.DstMAC.String()
	}
	for _, arg := range r.Args {
		a := jsonArg{ArgsType: arg.Type, Function: arg.Function}
		for _, p := range arg.Predicates {
			var value interface{} = p.Values
			switch p.Op {
			case OpRange, OpMask, OpIn:
			default:
				value = p.Values[0]
			}
			a.Predicates = append(a.Predicates, jsonPredicate{Field: p.Field, Op: p.Op, Value: value})
		}
		out.Args = append(out.Args, a)
	}
	return out
}

func addrJSON(set AddrSet) interface{} {
	switch text := set.Strings(); len(text) {
	case 0:
		return nil
	case 1:
		return text[0]
	default:
		return text
	}
}

func portJSON(set PortSet) interface{} {
	switch len(set) {
	case 0:
		return nil
	case 1:
		if set[0].Low == set[0].High {
			return set[0].Low
		}
		return set[0].String()
	}
	out := make([]string, len(set))
	for i, r := range set {
		out[i] = r.String()
	}
	return out
}

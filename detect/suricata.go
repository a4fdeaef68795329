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
	"math"
	"net"
	"strconv"

	"github.com/jasonish/icsdpi/packet"
	"github.com/jasonish/icsdpi/ruleparser"
)

// DetectSurules matches the packet against compiled Suricata rules in load
// order. Flowbits set by matching rules are recorded in flowbits, which may
// be nil. Under first-match, rules that update flowbits are still evaluated
// after the first match so flow state does not depend on the policy.
func DetectSurules(pkt *packet.Packet, compiled *Compiled, policy Policy, flowbits *Flowbits) CheckResult {
	result := newResult(pkt)
	if compiled.Len() == 0 {
		return result.finish()
	}
	state := &matchState{pkt: pkt, flowbits: flowbits, key: FlowKeyOf(pkt)}
	state.payload, _ = pkt.TransportPayload()
	reported := false
	for _, rule := range compiled.Rules {
		if reported && (flowbits == nil || !rule.updatesFlowbits) {
			continue
		}
		if !state.match(rule) {
			continue
		}
		if rule.noalert || reported {
			continue
		}
		result.Matches = append(result.Matches, Match{
			Source: SourceSuricata,
			RuleID: rule.Rule.Sid,
			Action: string(rule.Rule.Action),
			Msg:    rule.Rule.Msg,
		})
		reported = policy == FirstMatch
	}
	return result.finish()
}

type matchState struct {
	pkt      *packet.Packet
	payload  []byte
	folded   []byte
	flowbits *Flowbits
	key      FlowKey
}

// foldedPayload returns the lower cased payload, computed once per packet.
func (s *matchState) foldedPayload() []byte {
	if s.folded == nil {
		s.folded = bytes.ToLower(s.payload)
	}
	return s.folded
}

func (s *matchState) match(rule *CompiledRule) bool {
	if !s.matchProtocol(rule.Rule.Protocol) || !s.matchHeader(rule) {
		return false
	}
	var commands []*ruleparser.Flowbits
	pos := 0
	for _, option := range rule.Rule.Options {
		ok := true
		switch o := option.(type) {
		case *ruleparser.Content:
			pos, ok = s.matchContent(rule, o, pos)
		case *ruleparser.Pcre:
			pos, ok = s.matchPcre(o, pos)
		case *ruleparser.ByteTest:
			ok = byteTest(o, s.payload, pos)
		case *ruleparser.ByteJump:
			pos, ok = byteJump(o, s.payload, pos)
		case *ruleparser.Dsize:
			ok = dsize(o, len(s.payload))
		case *ruleparser.IsDataAt:
			ok = isDataAt(o, len(s.payload), pos)
		case ruleparser.Flow:
			ok = s.matchFlow(o)
		case *ruleparser.Flowbits:
			switch o.Command {
			case ruleparser.FlowbitIsSet, ruleparser.FlowbitIsNotSet:
				ok = s.flowbits.check(s.key, o)
			case ruleparser.FlowbitSet, ruleparser.FlowbitUnset, ruleparser.FlowbitToggle:
				commands = append(commands, o)
			}
		}
		if !ok {
			return false
		}
	}
	s.flowbits.apply(s.key, commands)
	return true
}

func (s *matchState) matchProtocol(proto string) bool {
	switch proto {
	case "tcp":
		return s.pkt.TCP() != nil
	case "udp":
		return s.pkt.UDP() != nil
	case "ip":
		return s.pkt.IPv4() != nil || s.pkt.IPv6() != nil
	case "modbus":
		return s.pkt.ModbusReq() != nil || s.pkt.ModbusRsp() != nil
	}
	return false
}

func (s *matchState) matchHeader(rule *CompiledRule) bool {
	src, dst := s.pkt.SrcIP(), s.pkt.DstIP()
	sport, dport, hasPorts := s.pkt.Ports()
	oriented := func(src, dst net.IP, sport, dport uint16) bool {
		if !rule.source.IsAny() && !rule.source.Contains(src) {
			return false
		}
		if !rule.destination.IsAny() && !rule.destination.Contains(dst) {
			return false
		}
		if !rule.sourcePort.IsAny() && (!hasPorts || !rule.sourcePort.Contains(sport)) {
			return false
		}
		if !rule.destPort.IsAny() && (!hasPorts || !rule.destPort.Contains(dport)) {
			return false
		}
		return true
	}
	if oriented(src, dst, sport, dport) {
		return true
	}
	return rule.Rule.Direction == ruleparser.DirectionBi && oriented(dst, src, dport, sport)
}

// matchContent returns the position after the match. Negated contents
// leave the position unchanged.
func (s *matchState) matchContent(rule *CompiledRule, c *ruleparser.Content, pos int) (int, bool) {
	payload, pattern := s.payload, c.Pattern
	if c.Nocase {
		payload, pattern = s.foldedPayload(), rule.folded[c]
	}
	end, found := findContent(c, payload, pattern, pos)
	if c.Negate {
		return pos, !found
	}
	return end, found
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func findContent(c *ruleparser.Content, payload, pattern []byte, last int) (int, bool) {
	n := len(payload)
	switch {
	case c.StartsWith:
		if bytes.HasPrefix(payload, pattern) {
			return len(pattern), true
		}
		return 0, false
	case c.EndsWith:
		if bytes.HasSuffix(payload, pattern) {
			return n, true
		}
		return 0, false
	}

	min, max := 0, n
	switch {
	case c.Absolute():
		if c.Offset != nil {
			min = clamp(*c.Offset, n)
		}
		if c.Depth != nil {
			max = clamp(min+*c.Depth, n)
		}
	case c.Relative():
		offset := last
		if c.Distance != nil {
			offset += *c.Distance
		}
		min = clamp(offset, n)
		if c.Within != nil {
			max = clamp(min+*c.Within, n)
		}
	}
	i := bytes.Index(payload[min:max], pattern)
	if i < 0 {
		return 0, false
	}
	return min + i + len(pattern), true
}

func (s *matchState) matchPcre(p *ruleparser.Pcre, pos int) (int, bool) {
	re := p.Regexp()
	if re == nil {
		return pos, false
	}
	start := 0
	if p.Relative() {
		start = clamp(pos, len(s.payload))
	}
	loc := re.FindIndex(s.payload[start:])
	if p.Negate {
		return pos, loc == nil
	}
	if loc == nil {
		return pos, false
	}
	return start + loc[1], true
}

// extract reads the number a byte_test or byte_jump refers to. Binary
// numbers are big endian unless little is set; string numbers default to
// hex.
func extract(payload []byte, at, count int, little, str bool, numType ruleparser.NumType) (uint64, bool) {
	if at < 0 || count <= 0 || at+count > len(payload) {
		return 0, false
	}
	buf := payload[at : at+count]
	if str {
		base := 16
		switch numType {
		case ruleparser.NumTypeDec:
			base = 10
		case ruleparser.NumTypeOct:
			base = 8
		}
		v, err := strconv.ParseUint(string(buf), base, 64)
		return v, err == nil
	}
	if count > 8 {
		return 0, false
	}
	var v uint64
	if little {
		for i := len(buf) - 1; i >= 0; i-- {
			v = v<<8 | uint64(buf[i])
		}
	} else {
		for _, b := range buf {
			v = v<<8 | uint64(b)
		}
	}
	return v, true
}

func byteTest(bt *ruleparser.ByteTest, payload []byte, last int) bool {
	if len(payload) == 0 {
		return false
	}
	at := bt.Offset
	if bt.Relative {
		at += last
	}
	v, ok := extract(payload, at, bt.Count, bt.Endian == ruleparser.EndianLittle, bt.String, bt.NumType)
	if !ok {
		return false
	}
	if bt.Bitmask != nil {
		v &= *bt.Bitmask
	}
	var result bool
	switch bt.Operator {
	case ruleparser.ByteTestLess:
		result = v < bt.Test
	case ruleparser.ByteTestGreater:
		result = v > bt.Test
	case ruleparser.ByteTestEqual:
		result = v == bt.Test
	case ruleparser.ByteTestLessEqual:
		result = v <= bt.Test
	case ruleparser.ByteTestGreaterEqual:
		result = v >= bt.Test
	case ruleparser.ByteTestAnd:
		result = v&bt.Test != 0
	case ruleparser.ByteTestOr:
		result = v^bt.Test != 0
	}
	return result != bt.Negate
}

// byteJump returns the new cursor position, which must lie inside the
// payload.
func byteJump(bj *ruleparser.ByteJump, payload []byte, last int) (int, bool) {
	n := len(payload)
	if n == 0 {
		return last, false
	}
	at := bj.Offset
	if bj.Relative {
		at += last
	}
	v, ok := extract(payload, at, bj.Count, bj.Endian == ruleparser.EndianLittle, bj.String, bj.NumType)
	if !ok {
		return last, false
	}
	if bj.Multiplier != nil {
		if *bj.Multiplier != 0 && v > math.MaxUint64 / *bj.Multiplier {
			return last, false
		}
		v *= *bj.Multiplier
	}
	if bj.Align {
		if v > math.MaxUint64-3 {
			return last, false
		}
		v = (v + 3) &^ 3
	}
	if bj.Bitmask != nil {
		v &= *bj.Bitmask
	}
	if v > uint64(n) {
		return last, false
	}
	var pos int
	switch bj.From {
	case ruleparser.JumpFromBeginning:
		pos = int(v)
	case ruleparser.JumpFromEnd:
		pos = int(v) + n - 1
	default:
		pos = int(v) + at + bj.Count
	}
	if bj.PostOffset != nil {
		pos += *bj.PostOffset
	}
	if pos < 0 || pos >= n {
		return last, false
	}
	return pos, true
}

func dsize(d *ruleparser.Dsize, size int) bool {
	switch d.Op {
	case ruleparser.DsizeEqual:
		return size == d.Min
	case ruleparser.DsizeNotEqual:
		return size != d.Min
	case ruleparser.DsizeLess:
		return size < d.Min
	case ruleparser.DsizeGreater:
		return size > d.Min
	case ruleparser.DsizeRange:
		return d.Min < size && size < d.Max
	}
	return false
}

func isDataAt(d *ruleparser.IsDataAt, size, last int) bool {
	var ok bool
	if d.Relative {
		ok = last <= size && d.Pos <= size-last
	} else {
		ok = d.Pos <= size
	}
	return ok != d.Negate
}

// matchFlow evaluates flow options without connection tracking. Direction
// comes from the Modbus layer when there is one and from the ports
// otherwise.
func (s *matchState) matchFlow(flow ruleparser.Flow) bool {
	tcp := s.pkt.TCP()
	for _, m := range flow {
		var ok bool
		switch m {
		case ruleparser.FlowToServer, ruleparser.FlowFromClient:
			ok = s.toServer()
		case ruleparser.FlowToClient, ruleparser.FlowFromServer:
			ok = !s.toServer()
		case ruleparser.FlowEstablished:
			ok = tcp == nil || (tcp.HasFlag(packet.TCPFlagACK) && !tcp.HasFlag(packet.TCPFlagSYN))
		case ruleparser.FlowNotEstablished:
			ok = tcp != nil && tcp.HasFlag(packet.TCPFlagSYN)
		case ruleparser.FlowOnlyFrag:
			ip := s.pkt.IPv4()
			ok = ip != nil && ip.Fragmented()
		case ruleparser.FlowNoFrag:
			ip := s.pkt.IPv4()
			ok = ip == nil || !ip.Fragmented()
		default:
			ok = true
		}
		if !ok {
			return false
		}
	}
	return true
}

func (s *matchState) toServer() bool {
	if s.pkt.ModbusReq() != nil {
		return true
	}
	if s.pkt.ModbusRsp() != nil {
		return false
	}
	if tcp := s.pkt.TCP(); tcp != nil && tcp.HasFlag(packet.TCPFlagSYN) {
		return !tcp.HasFlag(packet.TCPFlagACK)
	}
	sport, dport, ok := s.pkt.Ports()
	return ok && dport < sport
}

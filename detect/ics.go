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
	"net"

	"github.com/jasonish/icsdpi/icsrule"
	"github.com/jasonish/icsdpi/packet"
)

// DetectIcs returns the first active ICS rule matching the packet.
func DetectIcs(pkt *packet.Packet, rules *icsrule.Rules) CheckResult {
	return DetectIcsWith(pkt, rules, FirstMatch)
}

// DetectIcsWith matches the packet against the ICS rules in declaration
// order.
func DetectIcsWith(pkt *packet.Packet, rules *icsrule.Rules, policy Policy) CheckResult {
	result := newResult(pkt)
	if !isModbus(pkt) {
		return result.finish()
	}
	endpoints := endpointsOf(pkt)
	for _, rule := range rules.ForProtocol(icsrule.ProtocolModbus) {
		if !rule.Active || !matchIcsRule(pkt, rule, endpoints) {
			continue
		}
		result.Matches = append(result.Matches, Match{
			Source: SourceIcs,
			RuleID: uint64(rule.Rid),
			Action: string(rule.Action),
			Msg:    rule.Msg,
		})
		if policy == FirstMatch {
			break
		}
	}
	return result.finish()
}

// isModbus reports whether the packet is Modbus traffic: it carries a
// Modbus layer or decoding failed inside one.
func isModbus(pkt *packet.Packet) bool {
	if pkt.ModbusReq() != nil || pkt.ModbusRsp() != nil {
		return true
	}
	if err := pkt.Err(); err != nil {
		return err.Layer == packet.LayerTypeModbusReq || err.Layer == packet.LayerTypeModbusRsp
	}
	return false
}

type endpoint struct {
	mac     net.HardwareAddr
	ip      net.IP
	port    uint16
	hasPort bool
}

type endpoints struct {
	src endpoint
	dst endpoint
}

func endpointsOf(pkt *packet.Packet) endpoints {
	var e endpoints
	if eth := pkt.Ethernet(); eth != nil {
		e.src.mac = eth.SrcMAC
		e.dst.mac = eth.DstMAC
	}
	e.src.ip = pkt.SrcIP()
	e.dst.ip = pkt.DstIP()
	if sport, dport, ok := pkt.Ports(); ok {
		e.src.port, e.src.hasPort = sport, true
		e.dst.port, e.dst.hasPort = dport, true
	}
	return e
}

func matchEndpoint(mac net.HardwareAddr, ips icsrule.AddrSet, ports icsrule.PortSet, e endpoint) bool {
	if mac != nil && !bytes.Equal(mac, e.mac) {
		return false
	}
	if !ips.IsAny() && !ips.Contains(e.ip) {
		return false
	}
	if !ports.IsAny() && (!e.hasPort || !ports.Contains(e.port)) {
		return false
	}
	return true
}

func matchIcsHeader(rule *icsrule.Rule, e endpoints) bool {
	forward := matchEndpoint(rule.SrcMAC, rule.SrcIP, rule.SrcPort, e.src) &&
		matchEndpoint(rule.DstMAC, rule.DstIP, rule.DstPort, e.dst)
	if forward || rule.Dir != icsrule.DirectionBi {
		return forward
	}
	return matchEndpoint(rule.SrcMAC, rule.SrcIP, rule.SrcPort, e.dst) &&
		matchEndpoint(rule.DstMAC, rule.DstIP, rule.DstPort, e.src)
}

func matchIcsRule(pkt *packet.Packet, rule *icsrule.Rule, e endpoints) bool {
	if !matchIcsHeader(rule, e) {
		return false
	}
	if rule.HeaderOnly() {
		return true
	}
	for _, arg := range rule.Args {
		if matchArg(pkt, arg) {
			return true
		}
	}
	return false
}

type fieldLayer interface {
	Field(name string) (uint64, bool)
}

func matchArg(pkt *packet.Packet, arg icsrule.Arg) bool {
	var layer fieldLayer
	switch arg.Type {
	case icsrule.ArgModbusReq:
		if req := pkt.ModbusReq(); req != nil {
			layer = req
		}
	case icsrule.ArgModbusRsp:
		if rsp := pkt.ModbusRsp(); rsp != nil {
			layer = rsp
		}
	}
	if layer == nil {
		return false
	}
	if arg.Function != nil {
		fc, ok := layer.Field(packet.FieldFunctionCode)
		if !ok || fc != uint64(*arg.Function) {
			return false
		}
	}
	for _, predicate := range arg.Predicates {
		v, ok := layer.Field(predicate.Field)
		if !ok || !predicate.Eval(v) {
			return false
		}
	}
	return true
}

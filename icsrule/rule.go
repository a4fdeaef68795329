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
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jasonish/icsdpi/packet"
)

type Action string

const (
	ActionAllow  Action = "allow"
	ActionAlert  Action = "alert"
	ActionDrop   Action = "drop"
	ActionReject Action = "reject"
)

func (a Action) valid() bool {
	switch a {
	case ActionAllow, ActionAlert, ActionDrop, ActionReject:
		return true
	}
	return false
}

type Direction string

const (
	DirectionUni Direction = "->"
	DirectionBi  Direction = "<>"
)

// ProtocolModbus is the only application protocol ICS rules target so far.
const ProtocolModbus = "Modbus"

type ArgType string

const (
	ArgModbusReq ArgType = "ModbusReq"
	ArgModbusRsp ArgType = "ModbusRsp"
)

func (t ArgType) LayerType() packet.LayerType {
	if t == ArgModbusRsp {
		return packet.LayerTypeModbusRsp
	}
	return packet.LayerTypeModbusReq
}

// Rule is one ICS rule. Header fields left unset match anything.
type Rule struct {
	Rid    uint32
	Active bool
	Action Action

	SrcMAC  net.HardwareAddr
	SrcIP   AddrSet
	SrcPort PortSet
	Dir     Direction
	DstMAC  net.HardwareAddr
	DstIP   AddrSet
	DstPort PortSet

	Msg      string
	Protocol string

	// Alternatives; the rule matches when any one does. A rule without
	// args matches on its header alone.
	Args []Arg
}

// HeaderOnly reports whether the rule has no application layer arguments.
func (r *Rule) HeaderOnly() bool {
	return len(r.Args) == 0
}

func (r *Rule) clone() *Rule {
	c := *r
	return &c
}

// Arg matches one Modbus request or response. Every predicate must hold.
type Arg struct {
	Type       ArgType
	Function   *uint8
	Predicates []Predicate
}

type Op string

const (
	OpEq    Op = "eq"
	OpNe    Op = "ne"
	OpLt    Op = "lt"
	OpLe    Op = "le"
	OpGt    Op = "gt"
	OpGe    Op = "ge"
	OpRange Op = "range"
	OpIn    Op = "in"

	// value is [mask, expected]: field & mask == expected.
	OpMask Op = "mask"
)

// Predicate compares one layer field. Values holds one operand for the
// comparison operators, [lo, hi] for range, [mask, expected] for mask and
// the candidates for in.
type Predicate struct {
	Field  string
	Op     Op
	Values []uint64
}

func (p Predicate) Eval(v uint64) bool {
	switch p.Op {
	case OpEq:
		return v == p.Values[0]
	case OpNe:
		return v != p.Values[0]
	case OpLt:
		return v < p.Values[0]
	case OpLe:
		return v <= p.Values[0]
	case OpGt:
		return v > p.Values[0]
	case OpGe:
		return v >= p.Values[0]
	case OpRange:
		return p.Values[0] <= v && v <= p.Values[1]
	case OpMask:
		return v&p.Values[0] == p.Values[1]
	case OpIn:
		for _, candidate := range p.Values {
			if v == candidate {
				return true
			}
		}
	}
	return false
}

func (p Predicate) String() string {
	values := make([]string, len(p.Values))
	for i, v := range p.Values {
		values[i] = strconv.FormatUint(v, 10)
	}
	return fmt.Sprintf("%s %s %s", p.Field, p.Op, strings.Join(values, ","))
}

// AddrRange is an inclusive range of addresses of one family.
type AddrRange struct {
	Start net.IP
	End   net.IP
}

// AddrSet is a list of addresses, networks and ranges. An empty set matches
// any address.
type AddrSet struct {
	Nets   []*net.IPNet
	Ranges []AddrRange
	text   []string
}

func (s AddrSet) IsAny() bool {
	return len(s.Nets) == 0 && len(s.Ranges) == 0
}

func (s AddrSet) Contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range s.Nets {
		if n.Contains(ip) {
			return true
		}
	}
	for _, r := range s.Ranges {
		if inRange(ip, r.Start, r.End) {
			return true
		}
	}
	return false
}

func inRange(ip, start, end net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		if start.To4() == nil {
			return false
		}
		ip = v4
		start, end = start.To4(), end.To4()
	} else if start.To4() != nil {
		return false
	}
	return bytes.Compare(ip, start) >= 0 && bytes.Compare(ip, end) <= 0
}

func (s AddrSet) Strings() []string {
	return s.text
}

func parseAddr(text string) (AddrSet, error) {
	var set AddrSet
	text = strings.TrimSpace(text)
	switch {
	case strings.Contains(text, "/"):
		_, n, err := net.ParseCIDR(text)
		if err != nil {
			return set, fmt.Errorf("invalid network %q", text)
		}
		set.Nets = append(set.Nets, n)
	case strings.Contains(text, "-"):
		parts := strings.SplitN(text, "-", 2)
		start := net.ParseIP(strings.TrimSpace(parts[0]))
		end := net.ParseIP(strings.TrimSpace(parts[1]))
		if start == nil || end == nil || (start.To4() == nil) != (end.To4() == nil) ||
			!inRange(end, start, end) {
			return set, fmt.Errorf("invalid address range %q", text)
		}
		set.Ranges = append(set.Ranges, AddrRange{Start: start, End: end})
	default:
		ip := net.ParseIP(text)
		if ip == nil {
			return set, fmt.Errorf("invalid address %q", text)
		}
		bits := 128
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 32
		}
		set.Nets = append(set.Nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	set.text = []string{text}
	return set, nil
}

func (s *AddrSet) add(other AddrSet) {
	s.Nets = append(s.Nets, other.Nets...)
	s.Ranges = append(s.Ranges, other.Ranges...)
	s.text = append(s.text, other.text...)
}

// PortRange is an inclusive port range; single ports have Low == High.
type PortRange struct {
	Low  uint16
	High uint16
}

// PortSet is a list of ports and ranges. An empty set matches any port.
type PortSet []PortRange

func (s PortSet) IsAny() bool {
	return len(s) == 0
}

func (s PortSet) Contains(port uint16) bool {
	for _, r := range s {
		if r.Low <= port && port <= r.High {
			return true
		}
	}
	return false
}

func (r PortRange) String() string {
	if r.Low == r.High {
		return strconv.Itoa(int(r.Low))
	}
	return fmt.Sprintf("%d:%d", r.Low, r.High)
}

// FunctionName returns the name of a Modbus function code as used in rule
// files, or "" if there is none.
func FunctionName(fc uint8) string {
	for name, code := range functionNames {
		if code == fc {
			return name
		}
	}
	return ""
}

var functionNames = map[string]uint8{
	"ReadCoils":                  packet.ModbusReadCoils,
	"ReadDiscreteInputs":         packet.ModbusReadDiscreteInputs,
	"ReadHoldingRegisters":       packet.ModbusReadHoldingRegisters,
	"ReadInputRegisters":         packet.ModbusReadInputRegisters,
	"WriteSingleCoil":            packet.ModbusWriteSingleCoil,
	"WriteSingleRegister":        packet.ModbusWriteSingleRegister,
	"ReadExceptionStatus":        packet.ModbusReadExceptionStatus,
	"Diagnostics":                packet.ModbusDiagnostics,
	"GetCommEventCounter":        packet.ModbusGetCommEventCounter,
	"GetCommEventLog":            packet.ModbusGetCommEventLog,
	"WriteMultipleCoils":         packet.ModbusWriteMultipleCoils,
	"WriteMultipleRegisters":     packet.ModbusWriteMultipleRegisters,
	"ReportServerID":             packet.ModbusReportServerID,
	"ReadFileRecord":             packet.ModbusReadFileRecord,
	"WriteFileRecord":            packet.ModbusWriteFileRecord,
	"MaskWriteRegister":          packet.ModbusMaskWriteRegister,
	"ReadWriteMultipleRegisters": packet.ModbusReadWriteMultipleRegisters,
	"ReadFIFOQueue":              packet.ModbusReadFIFOQueue,
	"EncapsulatedInterface":      packet.ModbusEncapsulatedInterface,
}

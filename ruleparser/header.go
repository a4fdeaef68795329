// The MIT License (MIT)
// Copyright (c) 2016 Jason Ish
//
// Permission is hereby granted, free of charge, to any person
// obtaining a copy of this software and associated documentation
// files (the "Software"), to deal in the Software without
// restriction, including without limitation the rights to use, copy,
// modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be
// included in all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
// EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
// MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND
// NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS
// BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN
// ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package ruleparser

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

type Action string

const (
	ActionAlert      Action = "alert"
	ActionPass       Action = "pass"
	ActionDrop       Action = "drop"
	ActionReject     Action = "reject"
	ActionRejectSrc  Action = "rejectsrc"
	ActionRejectDst  Action = "rejectdst"
	ActionRejectBoth Action = "rejectboth"
)

func parseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionAlert, ActionPass, ActionDrop, ActionReject,
		ActionRejectSrc, ActionRejectDst, ActionRejectBoth:
		return a, nil
	}
	return "", newRuleError(ErrInvalidAction, "%q", s)
}

type Direction string

const (
	DirectionUni Direction = "->"
	DirectionBi  Direction = "<>"
)

func validateDirection(direction string) bool {
	switch Direction(direction) {
	case DirectionUni, DirectionBi:
		return true
	}
	return false
}

// Protocols the detection engine can gate on. Other well formed protocol
// names parse with a warning and never match.
var knownProtocols = map[string]bool{
	"ip":     true,
	"tcp":    true,
	"udp":    true,
	"modbus": true,
}

var protocolPattern = regexp.MustCompile(`^[a-z][a-z0-9\-]*$`)

func parseProtocol(rule *Surule, s string) error {
	proto := strings.ToLower(s)
	if !protocolPattern.MatchString(proto) {
		return newRuleError(ErrInvalidProtocol, "%q", s)
	}
	if !knownProtocols[proto] {
		rule.Warnings = append(rule.Warnings,
			newRuleError(ErrUnsupportedProtocol, "%q", proto))
	}
	rule.Protocol = proto
	return nil
}

// Address is one element of an address list: a network or an unresolved
// variable such as $HOME_NET.
type Address struct {
	Net *net.IPNet
	Var string
}

func (a Address) String() string {
	if a.Var != "" {
		return "$" + a.Var
	}
	ones, bits := a.Net.Mask.Size()
	if ones == bits {
		return a.Net.IP.String()
	}
	return a.Net.String()
}

// Contains reports whether ip is inside the network. Variables never
// contain anything; they must be resolved first.
func (a Address) Contains(ip net.IP) bool {
	if a.Net == nil {
		return false
	}
	return a.Net.Contains(ip)
}

// AddressList is a source or destination specification. A nil Accept list
// means any address.
type AddressList struct {
	Accept []Address
	Except []Address
}

func (l AddressList) IsAny() bool {
	return l.Accept == nil && l.Except == nil
}

func (l AddressList) String() string {
	var elements []string
	for _, a := range l.Accept {
		elements = append(elements, a.String())
	}
	for _, a := range l.Except {
		elements = append(elements, "!"+a.String())
	}
	return formatList(elements)
}

// Vars lists the variables referenced by the list.
func (l AddressList) Vars() []string {
	var vars []string
	for _, a := range l.Accept {
		if a.Var != "" {
			vars = append(vars, a.Var)
		}
	}
	for _, a := range l.Except {
		if a.Var != "" {
			vars = append(vars, a.Var)
		}
	}
	return vars
}

// Contains reports whether ip matches the list. The list must not contain
// variables.
func (l AddressList) Contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, a := range l.Except {
		if a.Contains(ip) {
			return false
		}
	}
	if l.Accept == nil {
		return true
	}
	for _, a := range l.Accept {
		if a.Contains(ip) {
			return true
		}
	}
	return false
}

// Port is a single port or an inclusive range, or an unresolved variable.
type Port struct {
	Low  uint16
	High uint16
	Var  string
}

func (p Port) String() string {
	switch {
	case p.Var != "":
		return "$" + p.Var
	case p.Low == p.High:
		return strconv.Itoa(int(p.Low))
	case p.High == 65535:
		return strconv.Itoa(int(p.Low)) + ":"
	}
	return strconv.Itoa(int(p.Low)) + ":" + strconv.Itoa(int(p.High))
}

func (p Port) Contains(port uint16) bool {
	return p.Var == "" && p.Low <= port && port <= p.High
}

// PortList is a source or destination port specification. A nil Accept
// list means any port.
type PortList struct {
	Accept []Port
	Except []Port
}

func (l PortList) IsAny() bool {
	return l.Accept == nil && l.Except == nil
}

func (l PortList) String() string {
	var elements []string
	for _, p := range l.Accept {
		elements = append(elements, p.String())
	}
	for _, p := range l.Except {
		elements = append(elements, "!"+p.String())
	}
	return formatList(elements)
}

func (l PortList) Vars() []string {
	var vars []string
	for _, p := range l.Accept {
		if p.Var != "" {
			vars = append(vars, p.Var)
		}
	}
	for _, p := range l.Except {
		if p.Var != "" {
			vars = append(vars, p.Var)
		}
	}
	return vars
}

func (l PortList) Contains(port uint16) bool {
	for _, p := range l.Except {
		if p.Contains(port) {
			return false
		}
	}
	if l.Accept == nil {
		return true
	}
	for _, p := range l.Accept {
		if p.Contains(port) {
			return true
		}
	}
	return false
}

func formatList(elements []string) string {
	switch len(elements) {
	case 0:
		return "any"
	case 1:
		return elements[0]
	}
	return "[" + strings.Join(elements, ",") + "]"
}

// splitList splits the top level elements of a list, honouring nested
// brackets. The surrounding brackets must already be removed.
func splitList(buf string) ([]string, bool) {
	var elements []string
	depth := 0
	start := 0
	for i, r := range buf {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, false
			}
		case ',':
			if depth == 0 {
				elements = append(elements, strings.TrimSpace(buf[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, false
	}
	return append(elements, strings.TrimSpace(buf[start:])), true
}

// walkList visits every leaf of a possibly nested, possibly negated list.
// Negation flips for each enclosing '!'.
func walkList(buf string, negated bool, depth int, visit func(elem string, negated bool) error,
	invalid func(string) error) error {
	if depth > 8 {
		return invalid(buf)
	}
	buf = strings.TrimSpace(buf)
	if strings.HasPrefix(buf, "!") {
		return walkList(buf[1:], !negated, depth, visit, invalid)
	}
	if !strings.HasPrefix(buf, "[") {
		if buf == "" {
			return invalid(buf)
		}
		return visit(buf, negated)
	}
	if !strings.HasSuffix(buf, "]") {
		return invalid(buf)
	}
	elements, ok := splitList(buf[1 : len(buf)-1])
	if !ok {
		return invalid(buf)
	}
	for _, elem := range elements {
		if err := walkList(elem, negated, depth+1, visit, invalid); err != nil {
			return err
		}
	}
	return nil
}

// ParseAddressList parses an address specification such as any,
// 10.0.0.0/8, !$HOME_NET or [1.1.1.1,![2.2.2.0/24]].
func ParseAddressList(buf string) (AddressList, error) {
	var list AddressList
	invalid := func(s string) error {
		return newRuleError(ErrInvalidAddress, "%q", s)
	}
	err := walkList(buf, false, 0, func(elem string, negated bool) error {
		if elem == "any" {
			if negated {
				return invalid("!any")
			}
			return nil
		}
		addr, err := parseAddress(elem)
		if err != nil {
			return err
		}
		if negated {
			list.Except = append(list.Except, addr)
		} else {
			list.Accept = append(list.Accept, addr)
		}
		return nil
	}, invalid)
	return list, err
}

func parseAddress(elem string) (Address, error) {
	if strings.HasPrefix(elem, "$") {
		name := elem[1:]
		if name == "" {
			return Address{}, newRuleError(ErrInvalidAddress, "%q", elem)
		}
		return Address{Var: name}, nil
	}
	if strings.Contains(elem, "/") {
		_, ipnet, err := net.ParseCIDR(elem)
		if err != nil {
			return Address{}, newRuleError(ErrInvalidAddress, "%q", elem)
		}
		return Address{Net: ipnet}, nil
	}
	ip := net.ParseIP(elem)
	if ip == nil {
		return Address{}, newRuleError(ErrInvalidAddress, "%q", elem)
	}
	if v4 := ip.To4(); v4 != nil {
		return Address{Net: &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}}, nil
	}
	return Address{Net: &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}}, nil
}

// ParsePortList parses a port specification such as any, 502, 1024:,
// [80,443] or !$HTTP_PORTS.
func ParsePortList(buf string) (PortList, error) {
	var list PortList
	invalid := func(s string) error {
		return newRuleError(ErrInvalidPort, "%q", s)
	}
	err := walkList(buf, false, 0, func(elem string, negated bool) error {
		if elem == "any" {
			if negated {
				return invalid("!any")
			}
			return nil
		}
		port, err := parsePort(elem)
		if err != nil {
			return err
		}
		if negated {
			list.Except = append(list.Except, port)
		} else {
			list.Accept = append(list.Accept, port)
		}
		return nil
	}, invalid)
	return list, err
}

func parsePort(elem string) (Port, error) {
	invalid := newRuleError(ErrInvalidPort, "%q", elem)
	if strings.HasPrefix(elem, "$") {
		if len(elem) == 1 {
			return Port{}, invalid
		}
		return Port{Var: elem[1:]}, nil
	}
	parse := func(s string, def uint16) (uint16, bool) {
		if s == "" {
			return def, true
		}
		v, err := strconv.ParseUint(s, 10, 16)
		return uint16(v), err == nil
	}
	if i := strings.Index(elem, ":"); i >= 0 {
		if elem == ":" {
			return Port{}, invalid
		}
		low, ok1 := parse(elem[:i], 0)
		high, ok2 := parse(elem[i+1:], 65535)
		if !ok1 || !ok2 || high < low {
			return Port{}, invalid
		}
		return Port{Low: low, High: high}, nil
	}
	v, ok := parse(elem, 0)
	if !ok || elem == "" {
		return Port{}, invalid
	}
	return Port{Low: v, High: v}, nil
}

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
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/jasonish/icsdpi/packet"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// ValidationError rejects a rule file. Index is the position of the
// offending rule in the document.
type ValidationError struct {
	Index int
	Rid   uint32
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Rid == 0 {
		return fmt.Sprintf("rule %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("rule %d (rid %d): %v", e.Index, e.Rid, e.Err)
}

func (e *ValidationError) Cause() error { return e.Err }

func (e *ValidationError) Unwrap() error { return e.Err }

// Accepted rule keys. The short forms are aliases used by newer rule
// files.
var ruleKeys = map[string]string{
	"rid":      "rid",
	"active":   "active",
	"action":   "action",
	"src_mac":  "src_mac",
	"src_ip":   "src_ip",
	"src":      "src_ip",
	"src_port": "src_port",
	"sport":    "src_port",
	"dir":      "dir",
	"dire":     "dir",
	"dst_mac":  "dst_mac",
	"dst_ip":   "dst_ip",
	"dst":      "dst_ip",
	"dst_port": "dst_port",
	"dport":    "dst_port",
	"msg":      "msg",
	"proname":  "proname",
	"args":     "args",
}

var mbapFields = []struct {
	name string
	max  uint64
}{
	{packet.FieldTransactionID, 0xffff},
	{packet.FieldProtocolID, 0xffff},
	{packet.FieldLength, 0xffff},
	{packet.FieldUnitID, 0xff},
}

// Load reads and validates an ICS rule file.
func Load(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", path)
	}
	rules.Source = path
	return rules, nil
}

// Parse decodes and validates a JSON array of rules. A single invalid rule
// rejects the whole document.
func Parse(data []byte) (*Rules, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var objects []map[string]interface{}
	if err := decoder.Decode(&objects); err != nil {
		return nil, errors.Wrap(err, "invalid rule document")
	}

	seen := make(map[uint32]int)
	rules := make([]*Rule, 0, len(objects))
	for i, object := range objects {
		rule, err := decodeRule(object)
		if err != nil {
			return nil, &ValidationError{Index: i, Rid: rule.Rid, Err: err}
		}
		if first, ok := seen[rule.Rid]; ok {
			return nil, &ValidationError{Index: i, Rid: rule.Rid,
				Err: fmt.Errorf("duplicate rid, first used by rule %d", first)}
		}
		seen[rule.Rid] = i
		rules = append(rules, rule)
	}
	return newRules(rules), nil
}

func normalizeKeys(object map[string]interface{}, known map[string]string) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(object))
	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		name, ok := known[key]
		if !ok {
			return nil, fmt.Errorf("unknown key %q", key)
		}
		if _, dup := fields[name]; dup {
			return nil, fmt.Errorf("%s given more than once", name)
		}
		fields[name] = object[key]
	}
	return fields, nil
}

func decodeRule(object map[string]interface{}) (*Rule, error) {
	rule := &Rule{Active: true, Dir: DirectionUni}
	if object == nil {
		return rule, errors.New("rule is not an object")
	}

	// The rid is decoded first so errors can name it.
	rid, ok := object["rid"]
	if !ok {
		return rule, errors.New("missing rid")
	}
	v, err := toUint(rid, 0xffffffff)
	if err != nil {
		return rule, errors.Wrap(err, "rid")
	}
	if v == 0 {
		return rule, errors.New("rid must not be 0")
	}
	rule.Rid = uint32(v)

	fields, err := normalizeKeys(object, ruleKeys)
	if err != nil {
		return rule, err
	}

	if value, ok := fields["active"]; ok {
		if rule.Active, err = cast.ToBoolE(value); err != nil {
			return rule, errors.Wrap(err, "active")
		}
	}

	action, err := requiredString(fields, "action")
	if err != nil {
		return rule, err
	}
	rule.Action = Action(strings.ToLower(action))
	if !rule.Action.valid() {
		return rule, fmt.Errorf("unknown action %q", action)
	}

	if value, ok := fields["dir"]; ok {
		dir, err := cast.ToStringE(value)
		if err != nil {
			return rule, errors.Wrap(err, "dir")
		}
		rule.Dir = Direction(dir)
		if rule.Dir != DirectionUni && rule.Dir != DirectionBi {
			return rule, fmt.Errorf("unknown direction %q", dir)
		}
	}

	if rule.SrcMAC, err = parseMAC(fields, "src_mac"); err != nil {
		return rule, err
	}
	if rule.DstMAC, err = parseMAC(fields, "dst_mac"); err != nil {
		return rule, err
	}
	if rule.SrcIP, err = parseAddrSet(fields["src_ip"]); err != nil {
		return rule, errors.Wrap(err, "src_ip")
	}
	if rule.DstIP, err = parseAddrSet(fields["dst_ip"]); err != nil {
		return rule, errors.Wrap(err, "dst_ip")
	}
	if rule.SrcPort, err = parsePortSet(fields["src_port"]); err != nil {
		return rule, errors.Wrap(err, "src_port")
	}
	if rule.DstPort, err = parsePortSet(fields["dst_port"]); err != nil {
		return rule, errors.Wrap(err, "dst_port")
	}

	if value, ok := fields["msg"]; ok {
		if rule.Msg, err = cast.ToStringE(value); err != nil {
			return rule, errors.Wrap(err, "msg")
		}
	}

	proname, err := requiredString(fields, "proname")
	if err != nil {
		return rule, err
	}
	if !strings.EqualFold(proname, ProtocolModbus) {
		return rule, fmt.Errorf("unsupported protocol %q", proname)
	}
	rule.Protocol = ProtocolModbus

	if value, ok := fields["args"]; ok && value != nil {
		list, ok := value.([]interface{})
		if !ok {
			return rule, errors.New("args must be a list")
		}
		for i, item := range list {
			arg, err := decodeArg(item)
			if err != nil {
				return rule, errors.Wrapf(err, "args[%d]", i)
			}
			rule.Args = append(rule.Args, arg)
		}
	}

	return rule, nil
}

var argKeys = map[string]string{
	"args_type":               "args_type",
	"function":                "function",
	"data":                    "data",
	"predicates":              "predicates",
	packet.FieldTransactionID: packet.FieldTransactionID,
	packet.FieldProtocolID:    packet.FieldProtocolID,
	packet.FieldLength:        packet.FieldLength,
	packet.FieldUnitID:        packet.FieldUnitID,
}

func decodeArg(item interface{}) (Arg, error) {
	var arg Arg
	object, ok := item.(map[string]interface{})
	if !ok {
		return arg, errors.New("not an object")
	}
	fields, err := normalizeKeys(object, argKeys)
	if err != nil {
		return arg, err
	}

	argType, err := requiredString(fields, "args_type")
	if err != nil {
		return arg, err
	}
	arg.Type = ArgType(argType)
	if arg.Type != ArgModbusReq && arg.Type != ArgModbusRsp {
		return arg, fmt.Errorf("unknown args_type %q", argType)
	}
	response := arg.Type == ArgModbusRsp

	if value, ok := fields["function"]; ok {
		fc, err := parseFunction(value)
		if err != nil {
			return arg, err
		}
		if !packet.ModbusFunctionSupported(response, fc) {
			return arg, fmt.Errorf("unsupported function code 0x%02x for %s", fc, arg.Type)
		}
		arg.Function = &fc
	}

	for _, mbap := range mbapFields {
		value, ok := fields[mbap.name]
		if !ok {
			continue
		}
		v, err := toUint(value, mbap.max)
		if err != nil {
			return arg, errors.Wrap(err, mbap.name)
		}
		arg.Predicates = append(arg.Predicates, Predicate{Field: mbap.name, Op: OpEq, Values: []uint64{v}})
	}

	if value, ok := fields["data"]; ok && value != nil {
		data, ok := value.(map[string]interface{})
		if !ok {
			return arg, errors.New("data must be an object")
		}
		names := make([]string, 0, len(data))
		for name := range data {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v, err := toUint(data[name], 0)
			if err != nil {
				return arg, errors.Wrapf(err, "data.%s", name)
			}
			arg.Predicates = append(arg.Predicates, Predicate{Field: name, Op: OpEq, Values: []uint64{v}})
		}
	}

	if value, ok := fields["predicates"]; ok && value != nil {
		list, ok := value.([]interface{})
		if !ok {
			return arg, errors.New("predicates must be a list")
		}
		for i, item := range list {
			predicate, err := decodePredicate(item)
			if err != nil {
				return arg, errors.Wrapf(err, "predicates[%d]", i)
			}
			arg.Predicates = append(arg.Predicates, predicate)
		}
	}

	for _, predicate := range arg.Predicates {
		if !packet.ModbusFieldKnown(response, arg.Function, predicate.Field) {
			return arg, fmt.Errorf("field %q is not available for %s", predicate.Field, describe(arg))
		}
	}

	return arg, nil
}

func describe(arg Arg) string {
	if arg.Function == nil {
		return string(arg.Type)
	}
	return fmt.Sprintf("%s function 0x%02x", arg.Type, *arg.Function)
}

var predicateKeys = map[string]string{
	"field": "field",
	"op":    "op",
	"value": "value",
}

func decodePredicate(item interface{}) (Predicate, error) {
	var predicate Predicate
	object, ok := item.(map[string]interface{})
	if !ok {
		return predicate, errors.New("not an object")
	}
	fields, err := normalizeKeys(object, predicateKeys)
	if err != nil {
		return predicate, err
	}
	if predicate.Field, err = requiredString(fields, "field"); err != nil {
		return predicate, err
	}
	predicate.Op = OpEq
	if value, ok := fields["op"]; ok {
		op, err := cast.ToStringE(value)
		if err != nil {
			return predicate, errors.Wrap(err, "op")
		}
		predicate.Op = Op(strings.ToLower(op))
	}

	value, ok := fields["value"]
	if !ok {
		return predicate, errors.New("missing value")
	}
	var values []interface{}
	if list, ok := value.([]interface{}); ok {
		values = list
	} else {
		values = []interface{}{value}
	}
	for _, v := range values {
		n, err := toUint(v, 0)
		if err != nil {
			return predicate, errors.Wrap(err, "value")
		}
		predicate.Values = append(predicate.Values, n)
	}

	switch predicate.Op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		if len(predicate.Values) != 1 {
			return predicate, fmt.Errorf("%s takes a single value", predicate.Op)
		}
	case OpRange:
		if len(predicate.Values) != 2 || predicate.Values[0] > predicate.Values[1] {
			return predicate, errors.New("range takes [low, high] with low <= high")
		}
	case OpMask:
		if len(predicate.Values) != 2 {
			return predicate, errors.New("mask takes [mask, expected]")
		}
	case OpIn:
		if len(predicate.Values) == 0 {
			return predicate, errors.New("in takes at least one value")
		}
	default:
		return predicate, fmt.Errorf("unknown operator %q", predicate.Op)
	}
	return predicate, nil
}

func requiredString(fields map[string]interface{}, name string) (string, error) {
	value, ok := fields[name]
	if !ok || value == nil {
		return "", fmt.Errorf("missing %s", name)
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return "", errors.Wrap(err, name)
	}
	if s == "" {
		return "", fmt.Errorf("empty %s", name)
	}
	return s, nil
}

// toUint converts a JSON number or a decimal, hex or octal string. A max of
// 0 means no limit.
func toUint(value interface{}, max uint64) (uint64, error) {
	switch v := value.(type) {
	case json.Number:
		value = v.String()
	case string:
		value = strings.TrimSpace(v)
	case bool, nil:
		return 0, fmt.Errorf("expected a number, got %v", value)
	}
	n, err := cast.ToUint64E(value)
	if err != nil {
		return 0, err
	}
	if max > 0 && n > max {
		return 0, fmt.Errorf("%d out of range, max %d", n, max)
	}
	return n, nil
}

func parseFunction(value interface{}) (uint8, error) {
	if name, ok := value.(string); ok {
		if fc, ok := functionNames[strings.TrimSpace(name)]; ok {
			return fc, nil
		}
	}
	fc, err := toUint(value, 0xff)
	if err != nil {
		return 0, errors.Wrap(err, "function")
	}
	return uint8(fc), nil
}

func parseMAC(fields map[string]interface{}, name string) (net.HardwareAddr, error) {
	value, ok := fields[name]
	if !ok || value == nil {
		return nil, nil
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	if s == "" || s == "any" {
		return nil, nil
	}
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	return mac, nil
}

// listOf returns a single value or the elements of a list as strings.
func listOf(value interface{}) ([]string, error) {
	var items []interface{}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		items = v
	default:
		items = []interface{}{v}
	}
	var out []string
	for _, item := range items {
		if n, ok := item.(json.Number); ok {
			item = n.String()
		}
		s, err := cast.ToStringE(item)
		if err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if s == "" || s == "any" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func parseAddrSet(value interface{}) (AddrSet, error) {
	var set AddrSet
	items, err := listOf(value)
	if err != nil {
		return set, err
	}
	for _, item := range items {
		elem, err := parseAddr(item)
		if err != nil {
			return set, err
		}
		set.add(elem)
	}
	return set, nil
}

func parsePortSet(value interface{}) (PortSet, error) {
	items, err := listOf(value)
	if err != nil {
		return nil, err
	}
	var set PortSet
	for _, item := range items {
		r, err := parsePortRange(item)
		if err != nil {
			return nil, err
		}
		set = append(set, r)
	}
	return set, nil
}

func parsePortRange(s string) (PortRange, error) {
	low, high := s, s
	if i := strings.Index(s, ":"); i >= 0 {
		low, high = s[:i], s[i+1:]
	}
	lo, err := toUint(low, 0xffff)
	if err != nil {
		return PortRange{}, fmt.Errorf("invalid port %q", s)
	}
	hi, err := toUint(high, 0xffff)
	if err != nil || hi < lo {
		return PortRange{}, fmt.Errorf("invalid port %q", s)
	}
	return PortRange{Low: uint16(lo), High: uint16(hi)}, nil
}

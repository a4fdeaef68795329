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
	"net"
	"sync"
	"testing"

	"github.com/jasonish/icsdpi/packet"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	rules, err := Load("testdata/modbus.json")
	require.NoError(t, err)
	require.Equal(t, 4, rules.Len())
	assert.Equal(t, "testdata/modbus.json", rules.Source)
	assert.Len(t, rules.ForProtocol(ProtocolModbus), 4)

	all := rules.All()
	for i, rid := range []uint32{1, 2, 3, 4} {
		assert.Equal(t, rid, all[i].Rid)
	}

	rule, ok := rules.Get(1)
	require.True(t, ok)
	assert.True(t, rule.Active)
	assert.Equal(t, ActionAlert, rule.Action)
	assert.Equal(t, DirectionUni, rule.Dir)
	assert.True(t, rule.SrcIP.Contains(net.ParseIP("192.168.1.10")))
	assert.False(t, rule.SrcIP.Contains(net.ParseIP("192.168.1.11")))
	assert.True(t, rule.DstIP.Contains(net.ParseIP("192.168.1.200")))
	assert.True(t, rule.SrcPort.IsAny())
	assert.True(t, rule.DstPort.Contains(502))
	require.Len(t, rule.Args, 1)
	require.NotNil(t, rule.Args[0].Function)
	assert.Equal(t, packet.ModbusWriteSingleRegister, *rule.Args[0].Function)
	assert.Equal(t, []Predicate{
		{Field: packet.FieldRegisterAddress, Op: OpEq, Values: []uint64{100}},
	}, rule.Args[0].Predicates)

	rule, _ = rules.Get(2)
	assert.False(t, rule.Active)
	assert.Equal(t, DirectionBi, rule.Dir)
	require.Len(t, rule.Args, 2)
	assert.Equal(t, ArgModbusReq, rule.Args[0].Type)
	assert.Equal(t, ArgModbusRsp, rule.Args[1].Type)
	for _, arg := range rule.Args {
		assert.Equal(t, packet.ModbusReadCoils, *arg.Function)
		assert.Equal(t, []Predicate{
			{Field: packet.FieldUnitID, Op: OpEq, Values: []uint64{1}},
		}, arg.Predicates)
	}

	rule, _ = rules.Get(3)
	assert.True(t, rule.SrcIP.Contains(net.ParseIP("10.0.0.5")))
	assert.True(t, rule.SrcIP.Contains(net.ParseIP("10.0.0.20")))
	assert.False(t, rule.SrcIP.Contains(net.ParseIP("10.0.0.21")))
	assert.True(t, rule.SrcIP.Contains(net.ParseIP("fd00::1")))
	assert.True(t, rule.DstPort.Contains(502))
	assert.True(t, rule.DstPort.Contains(1050))
	assert.False(t, rule.DstPort.Contains(503))
	assert.Equal(t, []Predicate{
		{Field: packet.FieldStartAddress, Op: OpRange, Values: []uint64{1000, 2000}},
		{Field: packet.FieldCount, Op: OpGt, Values: []uint64{16}},
	}, rule.Args[0].Predicates)

	rule, _ = rules.Get(4)
	assert.True(t, rule.HeaderOnly())
	assert.Equal(t, "00:11:22:33:44:55", rule.SrcMAC.String())

	_, ok = rules.Get(99)
	assert.False(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("testdata/does-not-exist.json")
	assert.Error(t, err)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load("testdata/invalid.json")
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 1, verr.Index)
	assert.Equal(t, uint32(2), verr.Rid)
	assert.Contains(t, err.Error(), "count")
}

func modbusRule(arg string) string {
	return `[{"rid": 1, "action": "alert", "proname": "Modbus", "args": [` + arg + `]}]`
}

func TestFunctionCoercion(t *testing.T) {
	valid := []string{`6`, `"6"`, `"0x06"`, `"WriteSingleRegister"`, `" 6 "`}
	for _, function := range valid {
		rules, err := Parse([]byte(modbusRule(`{"args_type": "ModbusReq", "function": ` + function + `}`)))
		require.NoError(t, err, function)
		assert.Equal(t, packet.ModbusWriteSingleRegister, *rules.All()[0].Args[0].Function, function)
	}

	invalid := []string{`"0x100"`, `"Nope"`, `-1`, `true`, `1.5`, `200`}
	for _, function := range invalid {
		_, err := Parse([]byte(modbusRule(`{"args_type": "ModbusReq", "function": ` + function + `}`)))
		assert.Error(t, err, function)
	}
}

func TestExceptionFunction(t *testing.T) {
	rules, err := Parse([]byte(modbusRule(
		`{"args_type": "ModbusRsp", "function": "0x83", "data": {"exception_code": 2}}`)))
	require.NoError(t, err)
	assert.Equal(t, uint8(0x83), *rules.All()[0].Args[0].Function)

	_, err = Parse([]byte(modbusRule(`{"args_type": "ModbusReq", "function": "0x83"}`)))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		index int
		rid   uint32
		msg   string
	}{
		{"missing rid", `[{"action": "alert", "proname": "Modbus"}]`, 0, 0, "missing rid"},
		{"zero rid", `[{"rid": 0, "action": "alert", "proname": "Modbus"}]`, 0, 0, "rid"},
		{"duplicate rid",
			`[{"rid": 5, "action": "alert", "proname": "Modbus"},
			  {"rid": 5, "action": "drop", "proname": "Modbus"}]`, 1, 5, "duplicate rid"},
		{"bad action", `[{"rid": 1, "action": "log", "proname": "Modbus"}]`, 0, 1, "action"},
		{"missing action", `[{"rid": 1, "proname": "Modbus"}]`, 0, 1, "missing action"},
		{"bad direction", `[{"rid": 1, "action": "alert", "dir": "<-", "proname": "Modbus"}]`, 0, 1, "direction"},
		{"bad protocol", `[{"rid": 1, "action": "alert", "proname": "DNP3"}]`, 0, 1, "protocol"},
		{"unknown key", `[{"rid": 1, "action": "alert", "proname": "Modbus", "colour": "red"}]`, 0, 1, "colour"},
		{"alias twice", `[{"rid": 1, "action": "alert", "proname": "Modbus", "src": "1.1.1.1", "src_ip": "1.1.1.1"}]`, 0, 1, "src_ip"},
		{"bad ip", `[{"rid": 1, "action": "alert", "proname": "Modbus", "src_ip": "1.1.1"}]`, 0, 1, "src_ip"},
		{"reversed ip range", `[{"rid": 1, "action": "alert", "proname": "Modbus", "dst_ip": "10.0.0.9-10.0.0.1"}]`, 0, 1, "dst_ip"},
		{"mixed ip range", `[{"rid": 1, "action": "alert", "proname": "Modbus", "dst_ip": "10.0.0.1-::1"}]`, 0, 1, "dst_ip"},
		{"bad port", `[{"rid": 1, "action": "alert", "proname": "Modbus", "dst_port": 70000}]`, 0, 1, "dst_port"},
		{"reversed port range", `[{"rid": 1, "action": "alert", "proname": "Modbus", "src_port": "9:1"}]`, 0, 1, "src_port"},
		{"bad mac", `[{"rid": 1, "action": "alert", "proname": "Modbus", "src_mac": "00:11"}]`, 0, 1, "src_mac"},
		{"bad args type", modbusRule(`{"args_type": "DnpReq"}`), 0, 1, "args_type"},
		{"unsupported function", modbusRule(`{"args_type": "ModbusReq", "function": 9}`), 0, 1, "function"},
		{"unknown field", modbusRule(`{"args_type": "ModbusReq", "data": {"colour": 1}}`), 0, 1, "colour"},
		{"field for other function", modbusRule(`{"args_type": "ModbusReq", "function": 1, "data": {"register_value": 1}}`), 0, 1, "register_value"},
		{"unit id too large", modbusRule(`{"args_type": "ModbusReq", "unit_id": 256}`), 0, 1, "unit_id"},
		{"range arity", modbusRule(`{"args_type": "ModbusReq", "predicates": [{"field": "unit_id", "op": "range", "value": 1}]}`), 0, 1, "range"},
		{"range order", modbusRule(`{"args_type": "ModbusReq", "predicates": [{"field": "unit_id", "op": "range", "value": [5, 1]}]}`), 0, 1, "range"},
		{"scalar arity", modbusRule(`{"args_type": "ModbusReq", "predicates": [{"field": "unit_id", "op": "lt", "value": [1, 2]}]}`), 0, 1, "single value"},
		{"empty in", modbusRule(`{"args_type": "ModbusReq", "predicates": [{"field": "unit_id", "op": "in", "value": []}]}`), 0, 1, "at least one"},
		{"unknown op", modbusRule(`{"args_type": "ModbusReq", "predicates": [{"field": "unit_id", "op": "like", "value": 1}]}`), 0, 1, "operator"},
		{"missing value", modbusRule(`{"args_type": "ModbusReq", "predicates": [{"field": "unit_id"}]}`), 0, 1, "missing value"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.doc))
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), err.Error())
			assert.Equal(t, test.index, verr.Index)
			assert.Equal(t, test.rid, verr.Rid)
			assert.Contains(t, err.Error(), test.msg)
		})
	}
}

func TestParseNotJSON(t *testing.T) {
	_, err := Parse([]byte(`{"rid": 1}`))
	require.Error(t, err)
	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))

	rules, err := Parse([]byte(`[]`))
	require.NoError(t, err)
	assert.Equal(t, 0, rules.Len())
}

func TestPredicateEval(t *testing.T) {
	tests := []struct {
		predicate Predicate
		value     uint64
		expected  bool
	}{
		{Predicate{Op: OpEq, Values: []uint64{5}}, 5, true},
		{Predicate{Op: OpEq, Values: []uint64{5}}, 6, false},
		{Predicate{Op: OpNe, Values: []uint64{5}}, 6, true},
		{Predicate{Op: OpLt, Values: []uint64{5}}, 5, false},
		{Predicate{Op: OpLe, Values: []uint64{5}}, 5, true},
		{Predicate{Op: OpGt, Values: []uint64{5}}, 6, true},
		{Predicate{Op: OpGe, Values: []uint64{5}}, 4, false},
		{Predicate{Op: OpRange, Values: []uint64{10, 20}}, 10, true},
		{Predicate{Op: OpRange, Values: []uint64{10, 20}}, 20, true},
		{Predicate{Op: OpRange, Values: []uint64{10, 20}}, 21, false},
		{Predicate{Op: OpIn, Values: []uint64{1, 3, 5}}, 3, true},
		{Predicate{Op: OpIn, Values: []uint64{1, 3, 5}}, 4, false},
		{Predicate{Op: OpMask, Values: []uint64{0xff00, 0x1200}}, 0x1234, true},
		{Predicate{Op: OpMask, Values: []uint64{0xff00, 0x1200}}, 0x1334, false},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, test.predicate.Eval(test.value), test.predicate.String())
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	rules, err := Load("testdata/modbus.json")
	require.NoError(t, err)

	buf, err := json.Marshal(rules)
	require.NoError(t, err)

	reloaded, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, rules.All(), reloaded.All())

	again, err := json.Marshal(reloaded)
	require.NoError(t, err)
	assert.JSONEq(t, string(buf), string(again))
}

func TestFunctionName(t *testing.T) {
	assert.Equal(t, "ReadCoils", FunctionName(packet.ModbusReadCoils))
	assert.Equal(t, "MaskWriteRegister", FunctionName(packet.ModbusMaskWriteRegister))
	assert.Equal(t, "", FunctionName(0x63))
}

func TestStoreInitFailureKeepsSnapshot(t *testing.T) {
	store := NewStore()
	assert.Equal(t, 0, store.Current().Len())

	require.NoError(t, store.Init("testdata/modbus.json"))
	loaded := store.Current()
	assert.Equal(t, 4, loaded.Len())

	assert.Error(t, store.Init("testdata/invalid.json"))
	assert.Same(t, loaded, store.Current())

	assert.Error(t, store.Init("testdata/does-not-exist.json"))
	assert.Same(t, loaded, store.Current())
}

func TestStoreMutations(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Init("testdata/modbus.json"))
	before := store.Current()

	require.NoError(t, store.Activate(2))
	rule, _ := store.Current().Get(2)
	assert.True(t, rule.Active)

	// The old snapshot is unchanged.
	rule, _ = before.Get(2)
	assert.False(t, rule.Active)

	require.NoError(t, store.Deactivate(1))
	rule, _ = store.Current().Get(1)
	assert.False(t, rule.Active)

	require.NoError(t, store.Delete(3))
	current := store.Current()
	assert.Equal(t, 3, current.Len())
	_, ok := current.Get(3)
	assert.False(t, ok)
	assert.Equal(t, "testdata/modbus.json", current.Source)
	assert.Equal(t, 4, before.Len())

	var missing ErrNoSuchRule
	err := store.Delete(3)
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, ErrNoSuchRule(3), missing)
	assert.Error(t, store.Activate(42))
}

func TestStoreConcurrentUpdates(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Init("testdata/modbus.json"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if (i+j)%2 == 0 {
					assert.NoError(t, store.Activate(4))
				} else {
					assert.NoError(t, store.Deactivate(4))
				}
				assert.Equal(t, 4, store.Current().Len())
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, store.Deactivate(4))
	rule, _ := store.Current().Get(4)
	assert.False(t, rule.Active)
}

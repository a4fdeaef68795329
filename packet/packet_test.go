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

package packet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPacketAccessors(t *testing.T) {
	data := make([]byte, 8)
	p := &Packet{
		Data: data,
		Layers: []Layer{
			&Ethernet{},
			&IPv4{SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 2)},
			&UDP{SrcPort: 1000, DstPort: 502, BaseLayer: BaseLayer{Payload: data}},
		},
		End: LayerTypeEof,
	}

	assert.NotNil(t, p.Ethernet())
	assert.Nil(t, p.TCP())
	assert.Nil(t, p.Err())
	assert.Equal(t, LayerTypeUDP, p.Last().LayerType())
	assert.Equal(t, "10.0.0.1", p.SrcIP().String())

	src, dst, ok := p.Ports()
	assert.True(t, ok)
	assert.Equal(t, uint16(1000), src)
	assert.Equal(t, uint16(502), dst)

	payload, ok := p.TransportPayload()
	assert.True(t, ok)
	assert.Len(t, payload, 8)
}

func TestPacketErr(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	perr := NewParseError(ErrParsingHeader, data[2:], 2)
	perr.Layer = LayerTypeTCP
	p := &Packet{
		Data:   data,
		Layers: []Layer{&ErrorLayer{Err: perr}},
		End:    LayerTypeError,
	}

	assert.Equal(t, perr, p.Err())
	assert.Equal(t, []byte{3, 4}, p.Last().LayerContents())
	assert.Equal(t, "TCP: ParsingHeader at offset 2 (2 bytes)", perr.Error())
}

func TestEmptyPacket(t *testing.T) {
	p := &Packet{}
	assert.Nil(t, p.Last())
	assert.Nil(t, p.Err())
	_, _, ok := p.Ports()
	assert.False(t, ok)
}

func TestLayerTypeString(t *testing.T) {
	assert.Equal(t, "ModbusReq", LayerTypeModbusReq.String())
	assert.Equal(t, "LayerType(200)", LayerType(200).String())
	assert.True(t, LayerTypeUnknown.Terminal())
	assert.False(t, LayerTypeTCP.Terminal())
	assert.Equal(t, "NotEndPayload", ErrNotEndPayload.String())
}

func TestModbusFieldKnown(t *testing.T) {
	fc := ModbusWriteSingleRegister
	assert.True(t, ModbusFieldKnown(false, &fc, FieldRegisterValue))
	assert.True(t, ModbusFieldKnown(false, &fc, FieldUnitID))
	assert.False(t, ModbusFieldKnown(false, &fc, FieldCount))
	assert.True(t, ModbusFieldKnown(false, nil, FieldCount))
	assert.False(t, ModbusFieldKnown(false, nil, "bogus"))

	assert.True(t, ModbusFieldKnown(true, nil, FieldExceptionCode))
	exc := ModbusReadCoils | ModbusExceptionBit
	assert.True(t, ModbusFieldKnown(true, &exc, FieldExceptionCode))
	assert.False(t, ModbusFieldKnown(true, &fc, FieldExceptionCode))

	assert.True(t, ModbusFunctionSupported(true, exc))
	assert.False(t, ModbusFunctionSupported(false, exc))
	assert.False(t, ModbusFunctionSupported(false, 0x41))
}

func TestModbusField(t *testing.T) {
	req := &ModbusReq{
		MBAP:         MBAPHeader{TransactionID: 7, Length: 6, UnitID: 1},
		FunctionCode: ModbusReadCoils,
		Data:         &ReadRequest{StartAddress: 3, Count: 4},
	}
	v, ok := req.Field(FieldTransactionID)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), v)
	v, _ = req.Field(FieldFunctionCode)
	assert.Equal(t, uint64(1), v)
	v, _ = req.Field(FieldCount)
	assert.Equal(t, uint64(4), v)
	_, ok = req.Field(FieldByteCount)
	assert.False(t, ok)
}

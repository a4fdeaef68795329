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

package decoder

import (
	"encoding/binary"

	"github.com/jasonish/icsdpi/packet"
)

const (
	mbapHeaderLen = 7
	fileSubReqLen = 7
)

// pduReader reads big endian fields from a PDU body. Fixed fields that run
// short are header errors, declared variable data that runs short is a
// payload error.
type pduReader struct {
	data []byte
	pos  int
}

func (r *pduReader) fail(kind packet.ErrorKind) error {
	return packet.NewParseError(kind, r.data[r.pos:], r.pos)
}

func (r *pduReader) u8(v *uint8) error {
	if r.pos+1 > len(r.data) {
		return r.fail(packet.ErrParsingHeader)
	}
	*v = r.data[r.pos]
	r.pos++
	return nil
}

func (r *pduReader) u16(v *uint16) error {
	if r.pos+2 > len(r.data) {
		return r.fail(packet.ErrParsingHeader)
	}
	*v = binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return nil
}

func (r *pduReader) u16s(vs ...*uint16) error {
	for _, v := range vs {
		if err := r.u16(v); err != nil {
			return err
		}
	}
	return nil
}

func (r *pduReader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, r.fail(packet.ErrParsingPayload)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *pduReader) rest() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

// shift rebases a parse error produced on a sub-slice starting at offset.
func shift(err error, offset int) error {
	if perr, ok := err.(*packet.ParseError); ok {
		perr.Offset += offset
	}
	return err
}

type modbusADU struct {
	mbap packet.MBAPHeader
	fc   uint8
	data packet.ModbusData

	contents []byte
	rest     []byte
}

type pduParser func(fc uint8, r *pduReader) (packet.ModbusData, error)

func parseADU(data []byte, pdu pduParser, response bool) (*modbusADU, error) {
	if len(data) < mbapHeaderLen {
		return nil, headerError(data, 0)
	}
	adu := &modbusADU{
		mbap: packet.MBAPHeader{
			TransactionID: binary.BigEndian.Uint16(data[0:2]),
			ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
			Length:        binary.BigEndian.Uint16(data[4:6]),
			UnitID:        data[6],
		},
	}
	if adu.mbap.ProtocolID != 0 || adu.mbap.Length < 2 {
		return nil, headerError(data, 0)
	}

	// The length field counts the unit identifier and the PDU.
	declaredEnd := mbapHeaderLen - 1 + int(adu.mbap.Length)
	region := data[mbapHeaderLen:clamp(data, 0, declaredEnd)]
	if len(region) == 0 {
		return nil, headerError(data, mbapHeaderLen)
	}
	adu.fc = region[0]
	if !packet.ModbusFunctionSupported(response, adu.fc) {
		return nil, headerError(data, mbapHeaderLen)
	}

	r := &pduReader{data: region[1:]}
	d, err := pdu(adu.fc, r)
	if err != nil {
		return nil, shift(err, mbapHeaderLen+1)
	}
	adu.data = d

	if declaredEnd > len(data) {
		return nil, payloadError(data, mbapHeaderLen)
	}

	consumed := mbapHeaderLen + 1 + r.pos
	adu.contents = data[:consumed]
	adu.rest = data[consumed:]
	return adu, nil
}

func parseModbusReq(data []byte) (packet.Layer, []byte, packet.LayerType, error) {
	adu, err := parseADU(data, parseRequestPDU, false)
	if err != nil {
		return nil, nil, 0, err
	}
	req := &packet.ModbusReq{
		MBAP:         adu.mbap,
		FunctionCode: adu.fc,
		Data:         adu.data,
	}
	req.Contents = adu.contents
	req.Payload = adu.rest
	return req, adu.rest, packet.LayerTypeEof, nil
}

func parseModbusRsp(data []byte) (packet.Layer, []byte, packet.LayerType, error) {
	adu, err := parseADU(data, parseResponsePDU, true)
	if err != nil {
		return nil, nil, 0, err
	}
	rsp := &packet.ModbusRsp{
		MBAP:         adu.mbap,
		FunctionCode: adu.fc,
		Data:         adu.data,
	}
	rsp.Contents = adu.contents
	rsp.Payload = adu.rest
	return rsp, adu.rest, packet.LayerTypeEof, nil
}

func parseRequestPDU(fc uint8, r *pduReader) (packet.ModbusData, error) {
	switch fc {
	case packet.ModbusReadCoils, packet.ModbusReadDiscreteInputs,
		packet.ModbusReadHoldingRegisters, packet.ModbusReadInputRegisters:
		d := &packet.ReadRequest{}
		return d, r.u16s(&d.StartAddress, &d.Count)
	case packet.ModbusWriteSingleCoil:
		d := &packet.WriteSingleCoil{}
		return d, r.u16s(&d.OutputAddress, &d.OutputValue)
	case packet.ModbusWriteSingleRegister:
		d := &packet.WriteSingleRegister{}
		return d, r.u16s(&d.RegisterAddress, &d.RegisterValue)
	case packet.ModbusReadExceptionStatus, packet.ModbusGetCommEventCounter,
		packet.ModbusGetCommEventLog, packet.ModbusReportServerID:
		return &packet.EmptyRequest{}, nil
	case packet.ModbusDiagnostics:
		return parseDiagnostics(r)
	case packet.ModbusWriteMultipleCoils:
		d := &packet.WriteMultipleCoils{}
		if err := r.u16s(&d.StartAddress, &d.OutputCount); err != nil {
			return nil, err
		}
		if err := r.u8(&d.ByteCount); err != nil {
			return nil, err
		}
		var err error
		d.Values, err = r.bytes(int(d.ByteCount))
		return d, err
	case packet.ModbusWriteMultipleRegisters:
		d := &packet.WriteMultipleRegisters{}
		if err := r.u16s(&d.StartAddress, &d.OutputCount); err != nil {
			return nil, err
		}
		if err := r.u8(&d.ByteCount); err != nil {
			return nil, err
		}
		if d.ByteCount%2 != 0 {
			return nil, r.fail(packet.ErrParsingPayload)
		}
		var err error
		d.Registers, err = r.bytes(int(d.ByteCount))
		return d, err
	case packet.ModbusReadFileRecord:
		return parseReadFileRecordRequest(r)
	case packet.ModbusWriteFileRecord:
		return parseWriteFileRecord(r)
	case packet.ModbusMaskWriteRegister:
		d := &packet.MaskWriteRegister{}
		return d, r.u16s(&d.RefAddress, &d.AndMask, &d.OrMask)
	case packet.ModbusReadWriteMultipleRegisters:
		d := &packet.ReadWriteMultipleRegisters{}
		if err := r.u16s(&d.ReadStartAddress, &d.ReadCount,
			&d.WriteStartAddress, &d.WriteCount); err != nil {
			return nil, err
		}
		if err := r.u8(&d.WriteByteCount); err != nil {
			return nil, err
		}
		if d.WriteByteCount%2 != 0 {
			return nil, r.fail(packet.ErrParsingPayload)
		}
		var err error
		d.Registers, err = r.bytes(int(d.WriteByteCount))
		return d, err
	case packet.ModbusReadFIFOQueue:
		d := &packet.ReadFIFOQueue{}
		return d, r.u16(&d.FIFOPointerAddress)
	case packet.ModbusEncapsulatedInterface:
		return parseEncapsulated(r)
	}
	return nil, r.fail(packet.ErrParsingHeader)
}

func parseResponsePDU(fc uint8, r *pduReader) (packet.ModbusData, error) {
	if fc&packet.ModbusExceptionBit != 0 {
		d := &packet.ExceptionResponse{}
		return d, r.u8(&d.ExceptionCode)
	}

	switch fc {
	case packet.ModbusReadCoils, packet.ModbusReadDiscreteInputs:
		return parseByteCountData(r, false)
	case packet.ModbusReadHoldingRegisters, packet.ModbusReadInputRegisters,
		packet.ModbusReadWriteMultipleRegisters:
		return parseByteCountData(r, true)
	case packet.ModbusWriteSingleCoil:
		d := &packet.WriteSingleCoil{}
		return d, r.u16s(&d.OutputAddress, &d.OutputValue)
	case packet.ModbusWriteSingleRegister:
		d := &packet.WriteSingleRegister{}
		return d, r.u16s(&d.RegisterAddress, &d.RegisterValue)
	case packet.ModbusReadExceptionStatus:
		d := &packet.ExceptionStatus{}
		return d, r.u8(&d.OutputData)
	case packet.ModbusDiagnostics:
		return parseDiagnostics(r)
	case packet.ModbusGetCommEventCounter:
		d := &packet.CommEventCounter{}
		return d, r.u16s(&d.Status, &d.EventCount)
	case packet.ModbusGetCommEventLog, packet.ModbusReportServerID:
		d := &packet.ByteCountResponse{}
		if err := r.u8(&d.ByteCount); err != nil {
			return nil, err
		}
		var err error
		d.Data, err = r.bytes(int(d.ByteCount))
		return d, err
	case packet.ModbusWriteMultipleCoils, packet.ModbusWriteMultipleRegisters:
		d := &packet.WriteMultipleResponse{}
		return d, r.u16s(&d.StartAddress, &d.OutputCount)
	case packet.ModbusReadFileRecord:
		return parseReadFileRecordResponse(r)
	case packet.ModbusWriteFileRecord:
		return parseWriteFileRecord(r)
	case packet.ModbusMaskWriteRegister:
		d := &packet.MaskWriteRegister{}
		return d, r.u16s(&d.RefAddress, &d.AndMask, &d.OrMask)
	case packet.ModbusReadFIFOQueue:
		d := &packet.ReadFIFOQueueResponse{}
		if err := r.u16s(&d.ByteCount, &d.FIFOCount); err != nil {
			return nil, err
		}
		var err error
		d.Values, err = r.bytes(int(d.FIFOCount) * 2)
		return d, err
	case packet.ModbusEncapsulatedInterface:
		return parseEncapsulated(r)
	}
	return nil, r.fail(packet.ErrParsingHeader)
}

func parseByteCountData(r *pduReader, registers bool) (packet.ModbusData, error) {
	d := &packet.ReadResponse{}
	if err := r.u8(&d.ByteCount); err != nil {
		return nil, err
	}
	if registers && d.ByteCount%2 != 0 {
		return nil, r.fail(packet.ErrParsingPayload)
	}
	var err error
	d.Data, err = r.bytes(int(d.ByteCount))
	return d, err
}

func parseDiagnostics(r *pduReader) (packet.ModbusData, error) {
	d := &packet.Diagnostics{}
	if err := r.u16(&d.SubFunction); err != nil {
		return nil, err
	}
	d.Data = r.rest()
	return d, nil
}

func parseEncapsulated(r *pduReader) (packet.ModbusData, error) {
	d := &packet.EncapsulatedInterface{}
	if err := r.u8(&d.MEIType); err != nil {
		return nil, err
	}
	d.Data = r.rest()
	return d, nil
}

func parseReadFileRecordRequest(r *pduReader) (packet.ModbusData, error) {
	d := &packet.ReadFileRecord{}
	if err := r.u8(&d.ByteCount); err != nil {
		return nil, err
	}
	if int(d.ByteCount)%fileSubReqLen != 0 {
		return nil, r.fail(packet.ErrParsingPayload)
	}
	start := r.pos
	buf, err := r.bytes(int(d.ByteCount))
	if err != nil {
		return nil, err
	}
	sub := &pduReader{data: buf}
	for sub.pos < len(buf) {
		var req packet.FileSubRequest
		if err := sub.u8(&req.RefType); err != nil {
			return nil, shift(err, start)
		}
		if err := sub.u16s(&req.FileNumber, &req.RecordNumber, &req.RecordLength); err != nil {
			return nil, shift(err, start)
		}
		d.SubRequests = append(d.SubRequests, req)
	}
	return d, nil
}

func parseWriteFileRecord(r *pduReader) (packet.ModbusData, error) {
	d := &packet.WriteFileRecord{}
	if err := r.u8(&d.ByteCount); err != nil {
		return nil, err
	}
	start := r.pos
	buf, err := r.bytes(int(d.ByteCount))
	if err != nil {
		return nil, err
	}
	sub := &pduReader{data: buf}
	for sub.pos < len(buf) {
		var rec packet.FileRecord
		if err := sub.u8(&rec.RefType); err != nil {
			return nil, payloadShift(err, start)
		}
		if err := sub.u16s(&rec.FileNumber, &rec.RecordNumber, &rec.RecordLength); err != nil {
			return nil, payloadShift(err, start)
		}
		rec.Data, err = sub.bytes(int(rec.RecordLength) * 2)
		if err != nil {
			return nil, shift(err, start)
		}
		d.Records = append(d.Records, rec)
	}
	return d, nil
}

func parseReadFileRecordResponse(r *pduReader) (packet.ModbusData, error) {
	d := &packet.ReadFileRecordResponse{}
	if err := r.u8(&d.ByteCount); err != nil {
		return nil, err
	}
	start := r.pos
	buf, err := r.bytes(int(d.ByteCount))
	if err != nil {
		return nil, err
	}
	sub := &pduReader{data: buf}
	for sub.pos < len(buf) {
		var rsp packet.FileSubResponse
		if err := sub.u8(&rsp.Length); err != nil {
			return nil, payloadShift(err, start)
		}
		if rsp.Length < 1 {
			return nil, shift(sub.fail(packet.ErrParsingPayload), start)
		}
		if err := sub.u8(&rsp.RefType); err != nil {
			return nil, payloadShift(err, start)
		}
		rsp.Data, err = sub.bytes(int(rsp.Length) - 1)
		if err != nil {
			return nil, shift(err, start)
		}
		d.SubResponses = append(d.SubResponses, rsp)
	}
	return d, nil
}

// payloadShift rebases an error from inside a byte counted region. The
// region length was declared, so running short inside it is a payload error.
func payloadShift(err error, offset int) error {
	if perr, ok := err.(*packet.ParseError); ok {
		perr.Kind = packet.ErrParsingPayload
	}
	return shift(err, offset)
}

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

import "encoding/binary"

// Modbus function codes.
const (
	ModbusReadCoils                  uint8 = 0x01
	ModbusReadDiscreteInputs         uint8 = 0x02
	ModbusReadHoldingRegisters       uint8 = 0x03
	ModbusReadInputRegisters         uint8 = 0x04
	ModbusWriteSingleCoil            uint8 = 0x05
	ModbusWriteSingleRegister        uint8 = 0x06
	ModbusReadExceptionStatus        uint8 = 0x07
	ModbusDiagnostics                uint8 = 0x08
	ModbusGetCommEventCounter        uint8 = 0x0b
	ModbusGetCommEventLog            uint8 = 0x0c
	ModbusWriteMultipleCoils         uint8 = 0x0f
	ModbusWriteMultipleRegisters     uint8 = 0x10
	ModbusReportServerID             uint8 = 0x11
	ModbusReadFileRecord             uint8 = 0x14
	ModbusWriteFileRecord            uint8 = 0x15
	ModbusMaskWriteRegister          uint8 = 0x16
	ModbusReadWriteMultipleRegisters uint8 = 0x17
	ModbusReadFIFOQueue              uint8 = 0x18
	ModbusEncapsulatedInterface      uint8 = 0x2b

	// Set on the function code of an exception response.
	ModbusExceptionBit uint8 = 0x80
)

// Names of the fields exposed through Field.
const (
	FieldTransactionID      = "transaction_id"
	FieldProtocolID         = "protocol_id"
	FieldLength             = "length"
	FieldUnitID             = "unit_id"
	FieldFunctionCode       = "function_code"
	FieldStartAddress       = "start_address"
	FieldCount              = "count"
	FieldOutputAddress      = "output_address"
	FieldOutputValue        = "output_value"
	FieldRegisterAddress    = "register_address"
	FieldRegisterValue      = "register_value"
	FieldOutputCount        = "output_count"
	FieldByteCount          = "byte_count"
	FieldSubFunction        = "sub_function"
	FieldRefAddress         = "ref_address"
	FieldAndMask            = "and_mask"
	FieldOrMask             = "or_mask"
	FieldReadStartAddress   = "read_start_address"
	FieldReadCount          = "read_count"
	FieldWriteStartAddress  = "write_start_address"
	FieldWriteCount         = "write_count"
	FieldWriteByteCount     = "write_byte_count"
	FieldFIFOPointerAddress = "fifo_pointer_address"
	FieldFIFOCount          = "fifo_count"
	FieldMEIType            = "mei_type"
	FieldOutputData         = "output_data"
	FieldStatus             = "status"
	FieldEventCount         = "event_count"
	FieldExceptionCode      = "exception_code"
	FieldRecordCount        = "record_count"
)

// MBAPHeader is the Modbus/TCP application header.
type MBAPHeader struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        uint8
}

func (h *MBAPHeader) Field(name string) (uint64, bool) {
	switch name {
	case FieldTransactionID:
		return uint64(h.TransactionID), true
	case FieldProtocolID:
		return uint64(h.ProtocolID), true
	case FieldLength:
		return uint64(h.Length), true
	case FieldUnitID:
		return uint64(h.UnitID), true
	}
	return 0, false
}

// ModbusData is the function specific part of a PDU.
type ModbusData interface {
	Field(name string) (uint64, bool)
}

// ModbusReq is a decoded Modbus request ADU.
type ModbusReq struct {
	BaseLayer
	MBAP         MBAPHeader
	FunctionCode uint8
	Data         ModbusData
}

func (m *ModbusReq) LayerType() LayerType { return LayerTypeModbusReq }

func (m *ModbusReq) Field(name string) (uint64, bool) {
	return modbusField(&m.MBAP, m.FunctionCode, m.Data, name)
}

// ModbusRsp is a decoded Modbus response ADU.
type ModbusRsp struct {
	BaseLayer
	MBAP         MBAPHeader
	FunctionCode uint8
	Data         ModbusData
}

func (m *ModbusRsp) LayerType() LayerType { return LayerTypeModbusRsp }

func (m *ModbusRsp) Field(name string) (uint64, bool) {
	return modbusField(&m.MBAP, m.FunctionCode, m.Data, name)
}

// Exception reports whether the response carries an exception code.
func (m *ModbusRsp) Exception() bool {
	return m.FunctionCode&ModbusExceptionBit != 0
}

func modbusField(mbap *MBAPHeader, fc uint8, data ModbusData, name string) (uint64, bool) {
	if name == FieldFunctionCode {
		return uint64(fc), true
	}
	if v, ok := mbap.Field(name); ok {
		return v, true
	}
	if data == nil {
		return 0, false
	}
	return data.Field(name)
}

// ReadRequest covers function codes 1 to 4.
type ReadRequest struct {
	StartAddress uint16
	Count        uint16
}

func (d *ReadRequest) Field(name string) (uint64, bool) {
	switch name {
	case FieldStartAddress:
		return uint64(d.StartAddress), true
	case FieldCount:
		return uint64(d.Count), true
	}
	return 0, false
}

// WriteSingleCoil is both the request and the echoed response.
type WriteSingleCoil struct {
	OutputAddress uint16
	OutputValue   uint16
}

func (d *WriteSingleCoil) Field(name string) (uint64, bool) {
	switch name {
	case FieldOutputAddress:
		return uint64(d.OutputAddress), true
	case FieldOutputValue:
		return uint64(d.OutputValue), true
	}
	return 0, false
}

// WriteSingleRegister is both the request and the echoed response.
type WriteSingleRegister struct {
	RegisterAddress uint16
	RegisterValue   uint16
}

func (d *WriteSingleRegister) Field(name string) (uint64, bool) {
	switch name {
	case FieldRegisterAddress:
		return uint64(d.RegisterAddress), true
	case FieldRegisterValue:
		return uint64(d.RegisterValue), true
	}
	return 0, false
}

// EmptyRequest is a request with no data after the function code.
type EmptyRequest struct{}

func (d *EmptyRequest) Field(name string) (uint64, bool) { return 0, false }

// Diagnostics is used for both directions of function code 8.
type Diagnostics struct {
	SubFunction uint16
	Data        []byte
}

func (d *Diagnostics) Field(name string) (uint64, bool) {
	if name == FieldSubFunction {
		return uint64(d.SubFunction), true
	}
	return 0, false
}

type WriteMultipleCoils struct {
	StartAddress uint16
	OutputCount  uint16
	ByteCount    uint8
	Values       []byte
}

func (d *WriteMultipleCoils) Field(name string) (uint64, bool) {
	switch name {
	case FieldStartAddress:
		return uint64(d.StartAddress), true
	case FieldOutputCount:
		return uint64(d.OutputCount), true
	case FieldByteCount:
		return uint64(d.ByteCount), true
	}
	return 0, false
}

type WriteMultipleRegisters struct {
	StartAddress uint16
	OutputCount  uint16
	ByteCount    uint8

	// Raw big endian register values, ByteCount bytes.
	Registers []byte
}

func (d *WriteMultipleRegisters) Field(name string) (uint64, bool) {
	switch name {
	case FieldStartAddress:
		return uint64(d.StartAddress), true
	case FieldOutputCount:
		return uint64(d.OutputCount), true
	case FieldByteCount:
		return uint64(d.ByteCount), true
	}
	return 0, false
}

// Register returns the i'th register value.
func (d *WriteMultipleRegisters) Register(i int) uint16 {
	return registerAt(d.Registers, i)
}

// FileSubRequest is one reference of a read file record request.
type FileSubRequest struct {
	RefType      uint8
	FileNumber   uint16
	RecordNumber uint16
	RecordLength uint16
}

type ReadFileRecord struct {
	ByteCount   uint8
	SubRequests []FileSubRequest
}

func (d *ReadFileRecord) Field(name string) (uint64, bool) {
	switch name {
	case FieldByteCount:
		return uint64(d.ByteCount), true
	case FieldRecordCount:
		return uint64(len(d.SubRequests)), true
	}
	return 0, false
}

// FileRecord is one reference of a write file record request or response.
type FileRecord struct {
	RefType      uint8
	FileNumber   uint16
	RecordNumber uint16
	RecordLength uint16
	Data         []byte
}

// WriteFileRecord is both the request and the echoed response.
type WriteFileRecord struct {
	ByteCount uint8
	Records   []FileRecord
}

func (d *WriteFileRecord) Field(name string) (uint64, bool) {
	switch name {
	case FieldByteCount:
		return uint64(d.ByteCount), true
	case FieldRecordCount:
		return uint64(len(d.Records)), true
	}
	return 0, false
}

// MaskWriteRegister is both the request and the echoed response.
type MaskWriteRegister struct {
	RefAddress uint16
	AndMask    uint16
	OrMask     uint16
}

func (d *MaskWriteRegister) Field(name string) (uint64, bool) {
	switch name {
	case FieldRefAddress:
		return uint64(d.RefAddress), true
	case FieldAndMask:
		return uint64(d.AndMask), true
	case FieldOrMask:
		return uint64(d.OrMask), true
	}
	return 0, false
}

type ReadWriteMultipleRegisters struct {
	ReadStartAddress  uint16
	ReadCount         uint16
	WriteStartAddress uint16
	WriteCount        uint16
	WriteByteCount    uint8
	Registers         []byte
}

func (d *ReadWriteMultipleRegisters) Field(name string) (uint64, bool) {
	switch name {
	case FieldReadStartAddress:
		return uint64(d.ReadStartAddress), true
	case FieldReadCount:
		return uint64(d.ReadCount), true
	case FieldWriteStartAddress:
		return uint64(d.WriteStartAddress), true
	case FieldWriteCount:
		return uint64(d.WriteCount), true
	case FieldWriteByteCount:
		return uint64(d.WriteByteCount), true
	}
	return 0, false
}

func (d *ReadWriteMultipleRegisters) Register(i int) uint16 {
	return registerAt(d.Registers, i)
}

type ReadFIFOQueue struct {
	FIFOPointerAddress uint16
}

func (d *ReadFIFOQueue) Field(name string) (uint64, bool) {
	if name == FieldFIFOPointerAddress {
		return uint64(d.FIFOPointerAddress), true
	}
	return 0, false
}

// EncapsulatedInterface is used for both directions of function code 0x2b.
type EncapsulatedInterface struct {
	MEIType uint8
	Data    []byte
}

func (d *EncapsulatedInterface) Field(name string) (uint64, bool) {
	if name == FieldMEIType {
		return uint64(d.MEIType), true
	}
	return 0, false
}

// ReadResponse covers function codes 1 to 4 and 0x17.
type ReadResponse struct {
	ByteCount uint8
	Data      []byte
}

func (d *ReadResponse) Field(name string) (uint64, bool) {
	if name == FieldByteCount {
		return uint64(d.ByteCount), true
	}
	return 0, false
}

// Register returns the i'th register of a register read response.
func (d *ReadResponse) Register(i int) uint16 {
	return registerAt(d.Data, i)
}

// ExceptionStatus is the response to function code 7.
type ExceptionStatus struct {
	OutputData uint8
}

func (d *ExceptionStatus) Field(name string) (uint64, bool) {
	if name == FieldOutputData {
		return uint64(d.OutputData), true
	}
	return 0, false
}

// CommEventCounter is the response to function code 0x0b.
type CommEventCounter struct {
	Status     uint16
	EventCount uint16
}

func (d *CommEventCounter) Field(name string) (uint64, bool) {
	switch name {
	case FieldStatus:
		return uint64(d.Status), true
	case FieldEventCount:
		return uint64(d.EventCount), true
	}
	return 0, false
}

// ByteCountResponse covers responses that are a byte count and opaque data
// (0x0c, 0x11).
type ByteCountResponse struct {
	ByteCount uint8
	Data      []byte
}

func (d *ByteCountResponse) Field(name string) (uint64, bool) {
	if name == FieldByteCount {
		return uint64(d.ByteCount), true
	}
	return 0, false
}

// WriteMultipleResponse is the response to function codes 0x0f and 0x10.
type WriteMultipleResponse struct {
	StartAddress uint16
	OutputCount  uint16
}

func (d *WriteMultipleResponse) Field(name string) (uint64, bool) {
	switch name {
	case FieldStartAddress:
		return uint64(d.StartAddress), true
	case FieldOutputCount:
		return uint64(d.OutputCount), true
	}
	return 0, false
}

// FileSubResponse is one record group of a read file record response.
type FileSubResponse struct {
	Length  uint8
	RefType uint8
	Data    []byte
}

type ReadFileRecordResponse struct {
	ByteCount    uint8
	SubResponses []FileSubResponse
}

func (d *ReadFileRecordResponse) Field(name string) (uint64, bool) {
	switch name {
	case FieldByteCount:
		return uint64(d.ByteCount), true
	case FieldRecordCount:
		return uint64(len(d.SubResponses)), true
	}
	return 0, false
}

type ReadFIFOQueueResponse struct {
	ByteCount uint16
	FIFOCount uint16
	Values    []byte
}

func (d *ReadFIFOQueueResponse) Field(name string) (uint64, bool) {
	switch name {
	case FieldByteCount:
		return uint64(d.ByteCount), true
	case FieldFIFOCount:
		return uint64(d.FIFOCount), true
	}
	return 0, false
}

type ExceptionResponse struct {
	ExceptionCode uint8
}

func (d *ExceptionResponse) Field(name string) (uint64, bool) {
	if name == FieldExceptionCode {
		return uint64(d.ExceptionCode), true
	}
	return 0, false
}

func registerAt(buf []byte, i int) uint16 {
	if i < 0 || 2*i+2 > len(buf) {
		return 0
	}
	return binary.BigEndian.Uint16(buf[2*i:])
}

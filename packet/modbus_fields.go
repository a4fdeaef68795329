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

var modbusHeaderFields = []string{
	FieldTransactionID,
	FieldProtocolID,
	FieldLength,
	FieldUnitID,
	FieldFunctionCode,
}

var modbusRequestFields = map[uint8][]string{
	ModbusReadCoils:                  {FieldStartAddress, FieldCount},
	ModbusReadDiscreteInputs:         {FieldStartAddress, FieldCount},
	ModbusReadHoldingRegisters:       {FieldStartAddress, FieldCount},
	ModbusReadInputRegisters:         {FieldStartAddress, FieldCount},
	ModbusWriteSingleCoil:            {FieldOutputAddress, FieldOutputValue},
	ModbusWriteSingleRegister:        {FieldRegisterAddress, FieldRegisterValue},
	ModbusReadExceptionStatus:        {},
	ModbusDiagnostics:                {FieldSubFunction},
	ModbusGetCommEventCounter:        {},
	ModbusGetCommEventLog:            {},
	ModbusWriteMultipleCoils:         {FieldStartAddress, FieldOutputCount, FieldByteCount},
	ModbusWriteMultipleRegisters:     {FieldStartAddress, FieldOutputCount, FieldByteCount},
	ModbusReportServerID:             {},
	ModbusReadFileRecord:             {FieldByteCount, FieldRecordCount},
	ModbusWriteFileRecord:            {FieldByteCount, FieldRecordCount},
	ModbusMaskWriteRegister:          {FieldRefAddress, FieldAndMask, FieldOrMask},
	ModbusReadWriteMultipleRegisters: {FieldReadStartAddress, FieldReadCount, FieldWriteStartAddress, FieldWriteCount, FieldWriteByteCount},
	ModbusReadFIFOQueue:              {FieldFIFOPointerAddress},
	ModbusEncapsulatedInterface:      {FieldMEIType},
}

var modbusResponseFields = map[uint8][]string{
	ModbusReadCoils:                  {FieldByteCount},
	ModbusReadDiscreteInputs:         {FieldByteCount},
	ModbusReadHoldingRegisters:       {FieldByteCount},
	ModbusReadInputRegisters:         {FieldByteCount},
	ModbusWriteSingleCoil:            {FieldOutputAddress, FieldOutputValue},
	ModbusWriteSingleRegister:        {FieldRegisterAddress, FieldRegisterValue},
	ModbusReadExceptionStatus:        {FieldOutputData},
	ModbusDiagnostics:                {FieldSubFunction},
	ModbusGetCommEventCounter:        {FieldStatus, FieldEventCount},
	ModbusGetCommEventLog:            {FieldByteCount},
	ModbusWriteMultipleCoils:         {FieldStartAddress, FieldOutputCount},
	ModbusWriteMultipleRegisters:     {FieldStartAddress, FieldOutputCount},
	ModbusReportServerID:             {FieldByteCount},
	ModbusReadFileRecord:             {FieldByteCount, FieldRecordCount},
	ModbusWriteFileRecord:            {FieldByteCount, FieldRecordCount},
	ModbusMaskWriteRegister:          {FieldRefAddress, FieldAndMask, FieldOrMask},
	ModbusReadWriteMultipleRegisters: {FieldByteCount},
	ModbusReadFIFOQueue:              {FieldByteCount, FieldFIFOCount},
	ModbusEncapsulatedInterface:      {FieldMEIType},
}

// ModbusFunctionSupported reports whether the decoder understands the
// function code in the given direction. Exception codes are only valid in
// responses.
func ModbusFunctionSupported(response bool, fc uint8) bool {
	if response && fc&ModbusExceptionBit != 0 {
		_, ok := modbusResponseFields[fc&^ModbusExceptionBit]
		return ok
	}
	if response {
		_, ok := modbusResponseFields[fc]
		return ok
	}
	_, ok := modbusRequestFields[fc]
	return ok
}

// ModbusFieldKnown reports whether name can be extracted from a Modbus
// layer. When fc is nil any function code is considered.
func ModbusFieldKnown(response bool, fc *uint8, name string) bool {
	for _, f := range modbusHeaderFields {
		if f == name {
			return true
		}
	}
	table := modbusRequestFields
	if response {
		table = modbusResponseFields
		if name == FieldExceptionCode {
			return fc == nil || *fc&ModbusExceptionBit != 0
		}
	}
	if fc != nil {
		code := *fc
		if response && code&ModbusExceptionBit != 0 {
			return false
		}
		return contains(table[code], name)
	}
	for _, fields := range table {
		if contains(fields, name) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

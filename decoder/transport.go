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
	tcpMinHeaderLen = 20
	udpHeaderLen    = 8
)

// applicationFor selects the application layer from the transport ports.
// Traffic towards the Modbus port is a request, traffic from it a response.
func applicationFor(modbusPort, srcPort, dstPort uint16) packet.LayerType {
	switch {
	case dstPort == modbusPort:
		return packet.LayerTypeModbusReq
	case srcPort == modbusPort:
		return packet.LayerTypeModbusRsp
	}
	return packet.LayerTypeUnknown
}

type tcpParser struct {
	modbusPort uint16
}

func (p *tcpParser) Parse(data []byte) (packet.Layer, []byte, packet.LayerType, error) {
	if len(data) < tcpMinHeaderLen {
		return nil, nil, 0, headerError(data, 0)
	}
	dataOffset := data[12] >> 4
	if dataOffset < 5 {
		return nil, nil, 0, headerError(data, 0)
	}
	headerLen := int(dataOffset) * 4
	if len(data) < headerLen {
		return nil, nil, 0, headerError(data, 0)
	}

	tcp := &packet.TCP{
		SrcPort:    binary.BigEndian.Uint16(data[0:2]),
		DstPort:    binary.BigEndian.Uint16(data[2:4]),
		Seq:        binary.BigEndian.Uint32(data[4:8]),
		Ack:        binary.BigEndian.Uint32(data[8:12]),
		DataOffset: dataOffset,
		Reserved:   (data[12] >> 1) & 0x07,
		Flags:      uint16(data[12]&0x01)<<8 | uint16(data[13]),
		Window:     binary.BigEndian.Uint16(data[14:16]),
		Checksum:   binary.BigEndian.Uint16(data[16:18]),
		Urgent:     binary.BigEndian.Uint16(data[18:20]),
		Options:    data[tcpMinHeaderLen:headerLen],
	}
	tcp.Contents = data[:headerLen]
	tcp.Payload = data[headerLen:]

	if len(tcp.Payload) == 0 {
		return tcp, tcp.Payload, packet.LayerTypeEof, nil
	}
	return tcp, tcp.Payload, applicationFor(p.modbusPort, tcp.SrcPort, tcp.DstPort), nil
}

type udpParser struct {
	modbusPort uint16
}

func (p *udpParser) Parse(data []byte) (packet.Layer, []byte, packet.LayerType, error) {
	if len(data) < udpHeaderLen {
		return nil, nil, 0, headerError(data, 0)
	}
	length := binary.BigEndian.Uint16(data[4:6])
	if length < udpHeaderLen {
		return nil, nil, 0, headerError(data, 0)
	}

	udp := &packet.UDP{
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		Length:   length,
		Checksum: binary.BigEndian.Uint16(data[6:8]),
	}
	udp.Contents = data[:udpHeaderLen]
	udp.Payload = data[udpHeaderLen:clamp(data, 0, int(length))]

	if len(udp.Payload) == 0 {
		return udp, udp.Payload, packet.LayerTypeEof, nil
	}
	return udp, udp.Payload, applicationFor(p.modbusPort, udp.SrcPort, udp.DstPort), nil
}

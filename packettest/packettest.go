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

// Package packettest builds Ethernet frames for tests with gopacket.
package packettest

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ClientMAC  = net.HardwareAddr{0x20, 0x10, 0x15, 0xe9, 0x15, 0x02}
	ServerMAC  = net.HardwareAddr{0x20, 0x10, 0x15, 0xe9, 0x15, 0x01}
	ClientIP   = net.IPv4(192, 168, 0, 2).To4()
	ServerIP   = net.IPv4(192, 168, 0, 3).To4()
	ClientIP6  = net.ParseIP("fd00::2")
	ServerIP6  = net.ParseIP("fd00::3")
	ClientPort = uint16(53211)
	ModbusPort = uint16(502)
)

// Frame describes an Ethernet frame carrying a TCP or UDP payload.
type Frame struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	VLAN    uint16
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
	UDP     bool

	// TCP flags. ACK and PSH are set when none are given.
	SYN, ACK, PSH, FIN, RST bool

	Payload []byte
}

// Bytes serializes the frame. It panics if gopacket rejects the layers,
// which only happens for invalid test input.
func (f Frame) Bytes() []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}

	srcMAC, dstMAC := f.SrcMAC, f.DstMAC
	if srcMAC == nil {
		srcMAC = ClientMAC
	}
	if dstMAC == nil {
		dstMAC = ServerMAC
	}
	srcIP, dstIP := f.SrcIP, f.DstIP
	if srcIP == nil {
		srcIP = ClientIP
	}
	if dstIP == nil {
		dstIP = ServerIP
	}
	isIP6 := srcIP.To4() == nil

	var stack []gopacket.SerializableLayer

	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	if isIP6 {
		eth.EthernetType = layers.EthernetTypeIPv6
	}
	stack = append(stack, eth)
	if f.VLAN != 0 {
		dot1q := &layers.Dot1Q{
			VLANIdentifier: f.VLAN,
			Type:           eth.EthernetType,
		}
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, dot1q)
	}

	proto := layers.IPProtocolTCP
	if f.UDP {
		proto = layers.IPProtocolUDP
	}

	var network gopacket.NetworkLayer
	if isIP6 {
		ip6 := &layers.IPv6{
			Version:    6,
			NextHeader: proto,
			HopLimit:   64,
			SrcIP:      srcIP,
			DstIP:      dstIP,
		}
		network = ip6
		stack = append(stack, ip6)
	} else {
		ip4 := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Flags:    layers.IPv4DontFragment,
			Protocol: proto,
			SrcIP:    srcIP,
			DstIP:    dstIP,
		}
		network = ip4
		stack = append(stack, ip4)
	}

	if f.UDP {
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(f.SrcPort),
			DstPort: layers.UDPPort(f.DstPort),
		}
		if err := udp.SetNetworkLayerForChecksum(network); err != nil {
			panic(err)
		}
		stack = append(stack, udp)
	} else {
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(f.SrcPort),
			DstPort: layers.TCPPort(f.DstPort),
			Seq:     1175987464,
			Ack:     3947317609,
			Window:  256,
			SYN:     f.SYN,
			ACK:     f.ACK,
			PSH:     f.PSH,
			FIN:     f.FIN,
			RST:     f.RST,
		}
		if !(f.SYN || f.ACK || f.PSH || f.FIN || f.RST) {
			tcp.ACK = true
			tcp.PSH = true
		}
		if err := tcp.SetNetworkLayerForChecksum(network); err != nil {
			panic(err)
		}
		stack = append(stack, tcp)
	}

	stack = append(stack, gopacket.Payload(f.Payload))

	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// ADU builds a Modbus/TCP application data unit with a correct length field.
func ADU(transactionID uint16, unitID uint8, functionCode uint8, body ...byte) []byte {
	adu := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint16(adu[0:], transactionID)
	binary.BigEndian.PutUint16(adu[2:], 0)
	binary.BigEndian.PutUint16(adu[4:], uint16(2+len(body)))
	adu[6] = unitID
	adu[7] = functionCode
	return append(adu, body...)
}

// U16 encodes values as big endian words, for building PDU bodies.
func U16(values ...uint16) []byte {
	buf := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(buf[2*i:], v)
	}
	return buf
}

// ModbusRequest returns a client to server frame carrying adu.
func ModbusRequest(adu []byte) []byte {
	return Frame{
		SrcPort: ClientPort,
		DstPort: ModbusPort,
		Payload: adu,
	}.Bytes()
}

// ModbusResponse returns a server to client frame carrying adu.
func ModbusResponse(adu []byte) []byte {
	return Frame{
		SrcMAC:  ServerMAC,
		DstMAC:  ClientMAC,
		SrcIP:   ServerIP,
		DstIP:   ClientIP,
		SrcPort: ModbusPort,
		DstPort: ClientPort,
		Payload: adu,
	}.Bytes()
}

// Header lengths of a frame built by ModbusRequest, for truncation tests.
const (
	EthernetLen = 14
	IPv4Len     = 20
	TCPLen      = 20
	MBAPLen     = 7
)

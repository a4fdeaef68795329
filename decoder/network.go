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
	"net"

	"github.com/google/gopacket/layers"
	"github.com/jasonish/icsdpi/packet"
)

const (
	ethernetHeaderLen = 14
	vlanTagLen        = 4
	ipv4MinHeaderLen  = 20
	ipv6HeaderLen     = 40
)

func headerError(data []byte, offset int) error {
	return packet.NewParseError(packet.ErrParsingHeader, data[offset:], offset)
}

func payloadError(data []byte, offset int) error {
	return packet.NewParseError(packet.ErrParsingPayload, data[offset:], offset)
}

// clamp returns the end of a payload that declares length bytes starting at
// start. Short captures are truncated to what is available.
func clamp(data []byte, start int, length int) int {
	end := start + length
	if end > len(data) {
		return len(data)
	}
	return end
}

func parseEthernet(data []byte) (packet.Layer, []byte, packet.LayerType, error) {
	if len(data) < ethernetHeaderLen {
		return nil, nil, 0, headerError(data, 0)
	}

	eth := &packet.Ethernet{
		DstMAC: net.HardwareAddr(data[0:6]),
		SrcMAC: net.HardwareAddr(data[6:12]),
	}

	etype := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen
	for layers.EthernetType(etype) == layers.EthernetTypeDot1Q ||
		layers.EthernetType(etype) == layers.EthernetTypeQinQ {
		if len(data) < offset+vlanTagLen {
			return nil, nil, 0, headerError(data, 0)
		}
		eth.VLANs = append(eth.VLANs, binary.BigEndian.Uint16(data[offset:])&0x0fff)
		etype = binary.BigEndian.Uint16(data[offset+2:])
		offset += vlanTagLen
	}
	eth.EtherType = layers.EthernetType(etype)
	eth.Contents = data[:offset]
	eth.Payload = data[offset:]

	if len(eth.Payload) == 0 {
		return eth, eth.Payload, packet.LayerTypeEof, nil
	}

	switch eth.EtherType {
	case layers.EthernetTypeIPv4:
		return eth, eth.Payload, packet.LayerTypeIPv4, nil
	case layers.EthernetTypeIPv6:
		return eth, eth.Payload, packet.LayerTypeIPv6, nil
	}
	return eth, eth.Payload, packet.LayerTypeUnknown, nil
}

func parseIPv4(data []byte) (packet.Layer, []byte, packet.LayerType, error) {
	if len(data) < ipv4MinHeaderLen {
		return nil, nil, 0, headerError(data, 0)
	}

	version := data[0] >> 4
	ihl := data[0] & 0x0f
	if version != 4 || ihl < 5 {
		return nil, nil, 0, headerError(data, 0)
	}
	headerLen := int(ihl) * 4
	if len(data) < headerLen {
		return nil, nil, 0, headerError(data, 0)
	}
	totalLength := binary.BigEndian.Uint16(data[2:4])
	if int(totalLength) < headerLen {
		return nil, nil, 0, headerError(data, 0)
	}
	flagsFrag := binary.BigEndian.Uint16(data[6:8])

	ip := &packet.IPv4{
		Version:     version,
		IHL:         ihl,
		DSCP:        data[1] >> 2,
		ECN:         data[1] & 0x03,
		TotalLength: totalLength,
		ID:          binary.BigEndian.Uint16(data[4:6]),
		Flags:       uint8(flagsFrag >> 13),
		FragOffset:  flagsFrag & 0x1fff,
		TTL:         data[8],
		Protocol:    layers.IPProtocol(data[9]),
		Checksum:    binary.BigEndian.Uint16(data[10:12]),
		SrcIP:       net.IP(data[12:16]),
		DstIP:       net.IP(data[16:20]),
		Options:     data[ipv4MinHeaderLen:headerLen],
	}
	ip.Contents = data[:headerLen]
	ip.Payload = data[headerLen:clamp(data, 0, int(totalLength))]

	if ip.FragOffset != 0 {
		return ip, ip.Payload, packet.LayerTypeUnknown, nil
	}
	if len(ip.Payload) == 0 {
		return ip, ip.Payload, packet.LayerTypeEof, nil
	}
	return ip, ip.Payload, transportFor(ip.Protocol), nil
}

func parseIPv6(data []byte) (packet.Layer, []byte, packet.LayerType, error) {
	if len(data) < ipv6HeaderLen {
		return nil, nil, 0, headerError(data, 0)
	}
	version := data[0] >> 4
	if version != 6 {
		return nil, nil, 0, headerError(data, 0)
	}

	ip := &packet.IPv6{
		Version:       version,
		TrafficClass:  uint8(binary.BigEndian.Uint16(data[0:2]) >> 4),
		FlowLabel:     binary.BigEndian.Uint32(data[0:4]) & 0x000fffff,
		PayloadLength: binary.BigEndian.Uint16(data[4:6]),
		NextHeader:    layers.IPProtocol(data[6]),
		HopLimit:      data[7],
		SrcIP:         net.IP(data[8:24]),
		DstIP:         net.IP(data[24:40]),
	}
	ip.Contents = data[:ipv6HeaderLen]

	end := len(data)
	if ip.PayloadLength != 0 {
		end = clamp(data, ipv6HeaderLen, int(ip.PayloadLength))
	}
	ip.Payload = data[ipv6HeaderLen:end]

	if len(ip.Payload) == 0 {
		return ip, ip.Payload, packet.LayerTypeEof, nil
	}
	return ip, ip.Payload, transportFor(ip.NextHeader), nil
}

func transportFor(proto layers.IPProtocol) packet.LayerType {
	switch proto {
	case layers.IPProtocolTCP:
		return packet.LayerTypeTCP
	case layers.IPProtocolUDP:
		return packet.LayerTypeUDP
	}
	return packet.LayerTypeUnknown
}

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

	"github.com/google/gopacket/layers"
)

// Ethernet is an Ethernet II header with any 802.1Q tags that followed it.
type Ethernet struct {
	BaseLayer
	DstMAC    net.HardwareAddr
	SrcMAC    net.HardwareAddr
	VLANs     []uint16
	EtherType layers.EthernetType
}

func (e *Ethernet) LayerType() LayerType { return LayerTypeEthernet }

// IPv4 header. Options is empty when IHL is 5.
type IPv4 struct {
	BaseLayer
	Version     uint8
	IHL         uint8
	DSCP        uint8
	ECN         uint8
	TotalLength uint16
	ID          uint16
	Flags       uint8
	FragOffset  uint16
	TTL         uint8
	Protocol    layers.IPProtocol
	Checksum    uint16
	SrcIP       net.IP
	DstIP       net.IP
	Options     []byte
}

func (ip *IPv4) LayerType() LayerType { return LayerTypeIPv4 }

const (
	IPv4Reserved      uint8 = 0x4
	IPv4DontFragment  uint8 = 0x2
	IPv4MoreFragments uint8 = 0x1
)

// Fragmented reports whether the datagram is part of a fragment train.
func (ip *IPv4) Fragmented() bool {
	return ip.Flags&IPv4MoreFragments != 0 || ip.FragOffset != 0
}

// IPv6 fixed header. Extension headers are not walked.
type IPv6 struct {
	BaseLayer
	Version       uint8
	TrafficClass  uint8
	FlowLabel     uint32
	PayloadLength uint16
	NextHeader    layers.IPProtocol
	HopLimit      uint8
	SrcIP         net.IP
	DstIP         net.IP
}

func (ip *IPv6) LayerType() LayerType { return LayerTypeIPv6 }

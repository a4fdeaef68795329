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

// Packet is the ordered chain of layers decoded from one buffer. A packet
// shares its bytes with Data and must not outlive it.
type Packet struct {
	Data   []byte
	Layers []Layer

	// How decoding ended: Eof, Unknown or Error.
	End LayerType
}

// Layer returns the first layer of the given type or nil.
func (p *Packet) Layer(t LayerType) Layer {
	for _, l := range p.Layers {
		if l.LayerType() == t {
			return l
		}
	}
	return nil
}

// Last returns the innermost layer or nil for an empty packet.
func (p *Packet) Last() Layer {
	if len(p.Layers) == 0 {
		return nil
	}
	return p.Layers[len(p.Layers)-1]
}

// Err returns the parse error that stopped decoding, if any.
func (p *Packet) Err() *ParseError {
	if last, ok := p.Last().(*ErrorLayer); ok {
		return last.Err
	}
	return nil
}

func (p *Packet) Ethernet() *Ethernet {
	l, _ := p.Layer(LayerTypeEthernet).(*Ethernet)
	return l
}

func (p *Packet) IPv4() *IPv4 {
	l, _ := p.Layer(LayerTypeIPv4).(*IPv4)
	return l
}

func (p *Packet) IPv6() *IPv6 {
	l, _ := p.Layer(LayerTypeIPv6).(*IPv6)
	return l
}

func (p *Packet) TCP() *TCP {
	l, _ := p.Layer(LayerTypeTCP).(*TCP)
	return l
}

func (p *Packet) UDP() *UDP {
	l, _ := p.Layer(LayerTypeUDP).(*UDP)
	return l
}

func (p *Packet) ModbusReq() *ModbusReq {
	l, _ := p.Layer(LayerTypeModbusReq).(*ModbusReq)
	return l
}

func (p *Packet) ModbusRsp() *ModbusRsp {
	l, _ := p.Layer(LayerTypeModbusRsp).(*ModbusRsp)
	return l
}

// SrcIP returns the network source address or nil.
func (p *Packet) SrcIP() net.IP {
	if ip := p.IPv4(); ip != nil {
		return ip.SrcIP
	}
	if ip := p.IPv6(); ip != nil {
		return ip.SrcIP
	}
	return nil
}

// DstIP returns the network destination address or nil.
func (p *Packet) DstIP() net.IP {
	if ip := p.IPv4(); ip != nil {
		return ip.DstIP
	}
	if ip := p.IPv6(); ip != nil {
		return ip.DstIP
	}
	return nil
}

// Ports returns the transport ports. ok is false without a TCP or UDP layer.
func (p *Packet) Ports() (src uint16, dst uint16, ok bool) {
	if tcp := p.TCP(); tcp != nil {
		return tcp.SrcPort, tcp.DstPort, true
	}
	if udp := p.UDP(); udp != nil {
		return udp.SrcPort, udp.DstPort, true
	}
	return 0, 0, false
}

// Protocol returns the IP protocol number of the packet, or 0 without a
// network layer.
func (p *Packet) Protocol() layers.IPProtocol {
	if ip := p.IPv4(); ip != nil {
		return ip.Protocol
	}
	if ip := p.IPv6(); ip != nil {
		return ip.NextHeader
	}
	return 0
}

// TransportPayload returns the bytes carried by the TCP or UDP layer. ok is
// false without a transport layer.
func (p *Packet) TransportPayload() (payload []byte, ok bool) {
	if tcp := p.TCP(); tcp != nil {
		return tcp.Payload, true
	}
	if udp := p.UDP(); udp != nil {
		return udp.Payload, true
	}
	return nil, false
}

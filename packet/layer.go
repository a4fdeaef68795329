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

import "fmt"

// LayerType identifies the kind of a decoded layer.
type LayerType uint8

const (
	LayerTypeEof LayerType = iota
	LayerTypeEthernet
	LayerTypeIPv4
	LayerTypeIPv6
	LayerTypeTCP
	LayerTypeUDP
	LayerTypeModbusReq
	LayerTypeModbusRsp
	LayerTypeUnknown
	LayerTypeError
)

var layerTypeNames = map[LayerType]string{
	LayerTypeEof:       "Eof",
	LayerTypeEthernet:  "Ethernet",
	LayerTypeIPv4:      "IPv4",
	LayerTypeIPv6:      "IPv6",
	LayerTypeTCP:       "TCP",
	LayerTypeUDP:       "UDP",
	LayerTypeModbusReq: "ModbusReq",
	LayerTypeModbusRsp: "ModbusRsp",
	LayerTypeUnknown:   "Unknown",
	LayerTypeError:     "Error",
}

func (t LayerType) String() string {
	if name, ok := layerTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("LayerType(%d)", uint8(t))
}

// Terminal reports whether decoding stops at a layer of this type.
func (t LayerType) Terminal() bool {
	return t == LayerTypeEof || t == LayerTypeUnknown || t == LayerTypeError
}

// Layer is a single decoded protocol layer. Contents and payload are views
// into the buffer the packet was decoded from.
type Layer interface {
	LayerType() LayerType
	LayerContents() []byte
	LayerPayload() []byte
}

// BaseLayer holds the header and payload views shared by all layers.
type BaseLayer struct {
	Contents []byte
	Payload  []byte
}

func (b *BaseLayer) LayerContents() []byte { return b.Contents }
func (b *BaseLayer) LayerPayload() []byte  { return b.Payload }

// Unknown terminates a chain at a well formed payload for which no decoder
// is registered. It is not an error.
type Unknown struct {
	BaseLayer

	// The layer whose payload could not be decoded further.
	Parent LayerType

	// The ethertype, IP protocol or port that selected no parser.
	Protocol uint16
}

func (u *Unknown) LayerType() LayerType { return LayerTypeUnknown }

// ErrorLayer terminates a chain at a parse failure.
type ErrorLayer struct {
	Err *ParseError
}

func (e *ErrorLayer) LayerType() LayerType { return LayerTypeError }

func (e *ErrorLayer) LayerContents() []byte {
	if e.Err == nil {
		return nil
	}
	return e.Err.Data
}

func (e *ErrorLayer) LayerPayload() []byte { return nil }

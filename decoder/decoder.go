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

// Package decoder walks a captured frame from the link layer down to the
// application layer, producing a packet.Packet.
package decoder

import (
	"github.com/jasonish/icsdpi/packet"
	"github.com/pkg/errors"
)

const (
	DefaultModbusPort = 502
	DefaultMaxLayers  = 16
)

// Parser decodes one layer. It returns the decoded layer, the bytes that
// follow it and the type of the next layer. On failure err should be a
// *packet.ParseError whose data is a sub-slice of the input with an offset
// relative to it.
type Parser interface {
	Parse(data []byte) (layer packet.Layer, rest []byte, next packet.LayerType, err error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(data []byte) (packet.Layer, []byte, packet.LayerType, error)

func (f ParserFunc) Parse(data []byte) (packet.Layer, []byte, packet.LayerType, error) {
	return f(data)
}

type Options struct {
	// TCP/UDP port carrying Modbus.
	ModbusPort uint16

	// Report payloads without a decoder as an UnknownPayload error instead
	// of an Unknown layer.
	Strict bool

	// When set, decoding ends after the first layer of this type.
	StopAt packet.LayerType

	// Upper bound on the number of layers in a packet.
	MaxLayers int
}

func (o Options) withDefaults() Options {
	if o.ModbusPort == 0 {
		o.ModbusPort = DefaultModbusPort
	}
	if o.MaxLayers <= 0 {
		o.MaxLayers = DefaultMaxLayers
	}
	return o
}

// Decoder holds the registry of layer parsers. It is safe for concurrent
// use once registration is complete.
type Decoder struct {
	options Options
	parsers map[packet.LayerType]Parser
}

// New returns a decoder with all built-in parsers registered.
func New(options Options) *Decoder {
	options = options.withDefaults()
	d := &Decoder{
		options: options,
		parsers: map[packet.LayerType]Parser{},
	}
	d.Register(packet.LayerTypeEthernet, ParserFunc(parseEthernet))
	d.Register(packet.LayerTypeIPv4, ParserFunc(parseIPv4))
	d.Register(packet.LayerTypeIPv6, ParserFunc(parseIPv6))
	d.Register(packet.LayerTypeTCP, &tcpParser{modbusPort: options.ModbusPort})
	d.Register(packet.LayerTypeUDP, &udpParser{modbusPort: options.ModbusPort})
	d.Register(packet.LayerTypeModbusReq, ParserFunc(parseModbusReq))
	d.Register(packet.LayerTypeModbusRsp, ParserFunc(parseModbusRsp))
	return d
}

func (d *Decoder) Options() Options {
	return d.options
}

// Register installs or replaces the parser for a layer type.
func (d *Decoder) Register(t packet.LayerType, p Parser) {
	d.parsers[t] = p
}

func (d *Decoder) Unregister(t packet.LayerType) {
	delete(d.parsers, t)
}

var defaultDecoder = New(Options{})

// Decode decodes data with the default options.
func Decode(data []byte) *packet.Packet {
	return defaultDecoder.Decode(data)
}

// Decode decodes a frame starting at the Ethernet layer. It never fails;
// problems are reported as a trailing error layer.
func (d *Decoder) Decode(data []byte) *packet.Packet {
	return d.DecodeFrom(data, packet.LayerTypeEthernet)
}

// DecodeFrom decodes data starting at an arbitrary layer type.
func (d *Decoder) DecodeFrom(data []byte, first packet.LayerType) *packet.Packet {
	p := &packet.Packet{
		Data:   data,
		Layers: make([]packet.Layer, 0, 5),
	}

	rest := data
	offset := 0
	next := first

	for {
		if len(p.Layers) >= d.options.MaxLayers {
			d.fail(p, packet.NewParseError(packet.ErrParsingPayload, rest, 0),
				next, offset)
			return p
		}

		switch next {
		case packet.LayerTypeEof:
			if len(rest) > 0 {
				d.fail(p, packet.NewParseError(packet.ErrNotEndPayload, rest, 0),
					lastType(p), offset)
				return p
			}
			p.End = packet.LayerTypeEof
			return p
		case packet.LayerTypeUnknown:
			if d.options.Strict {
				d.fail(p, packet.NewParseError(packet.ErrUnknownPayload, rest, 0),
					lastType(p), offset)
				return p
			}
			p.Layers = append(p.Layers, &packet.Unknown{
				BaseLayer: packet.BaseLayer{Contents: rest},
				Parent:    lastType(p),
				Protocol:  nextProtocol(p.Last()),
			})
			p.End = packet.LayerTypeUnknown
			return p
		}

		parser, ok := d.parsers[next]
		if !ok {
			d.fail(p, packet.NewParseError(packet.ErrUnregisteredParser, rest, 0),
				next, offset)
			return p
		}

		layer, remaining, following, err := parser.Parse(rest)
		if err != nil {
			d.fail(p, asParseError(err, rest), next, offset)
			return p
		}

		p.Layers = append(p.Layers, layer)
		offset += len(layer.LayerContents())
		rest = remaining

		if next == d.options.StopAt && d.options.StopAt != packet.LayerTypeEof {
			p.End = packet.LayerTypeEof
			return p
		}
		next = following
	}
}

// fail terminates the packet with an error layer, converting the error
// offset to be relative to the start of the packet.
func (d *Decoder) fail(p *packet.Packet, perr *packet.ParseError, layer packet.LayerType, offset int) {
	perr.Offset += offset
	perr.Layer = layer
	p.Layers = append(p.Layers, &packet.ErrorLayer{Err: perr})
	p.End = packet.LayerTypeError
}

// asParseError converts any error returned by a parser into a ParseError.
// Errors of foreign types are reported against the whole input.
func asParseError(err error, data []byte) *packet.ParseError {
	var perr *packet.ParseError
	if errors.As(err, &perr) {
		return perr
	}
	return packet.NewParseError(packet.ErrParsingHeader, data, 0)
}

func lastType(p *packet.Packet) packet.LayerType {
	if last := p.Last(); last != nil {
		return last.LayerType()
	}
	return packet.LayerTypeEof
}

func nextProtocol(parent packet.Layer) uint16 {
	switch l := parent.(type) {
	case *packet.Ethernet:
		return uint16(l.EtherType)
	case *packet.IPv4:
		return uint16(l.Protocol)
	case *packet.IPv6:
		return uint16(l.NextHeader)
	case *packet.TCP:
		return l.DstPort
	case *packet.UDP:
		return l.DstPort
	}
	return 0
}

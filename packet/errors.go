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

// ErrorKind tags why decoding stopped.
type ErrorKind uint8

const (
	// A payload declared by a header was missing or inconsistent.
	ErrParsingPayload ErrorKind = iota + 1

	// A header was truncated or carried invalid fields.
	ErrParsingHeader

	// No decoder exists for the payload (strict mode only).
	ErrUnknownPayload

	// Bytes remained after a self delimiting payload.
	ErrNotEndPayload

	// The chain asked for a layer type with no registered parser.
	ErrUnregisteredParser
)

var errorKindNames = map[ErrorKind]string{
	ErrParsingPayload:     "ParsingPayload",
	ErrParsingHeader:      "ParsingHeader",
	ErrUnknownPayload:     "UnknownPayload",
	ErrNotEndPayload:      "NotEndPayload",
	ErrUnregisteredParser: "UnregisteredParser",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// ParseError carries the exact sub-slice of the input where decoding failed.
// Data is always input[Offset:Offset+len(Data)].
type ParseError struct {
	Kind ErrorKind

	// The layer being decoded when the failure happened.
	Layer LayerType

	Data   []byte
	Offset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s at offset %d (%d bytes)",
		e.Layer, e.Kind, e.Offset, len(e.Data))
}

// NewParseError returns an error for data, which must be a sub-slice of the
// buffer handed to the parser, starting at the given relative offset.
func NewParseError(kind ErrorKind, data []byte, offset int) *ParseError {
	return &ParseError{
		Kind:   kind,
		Data:   data,
		Offset: offset,
	}
}

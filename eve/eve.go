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

// Package eve renders inspection results as Suricata EVE style JSON
// records.
package eve

import (
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/google/gopacket/layers"
)

// The Eve timestamp format - a slightly modified RFC3339Nano format.
const EveTimestampFormat = "2006-01-02T15:04:05.999999999Z0700"

func ParseTimestamp(timestamp string) (time.Time, error) {
	return time.Parse(EveTimestampFormat, timestamp)
}

func FormatTimestamp(timestamp time.Time) string {
	return timestamp.Format("2006-01-02T15:04:05.000000-0700")
}

func FormatTimestampUTC(timestamp time.Time) string {
	return timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// ProtoName returns the name Suricata uses for an IP protocol, or the
// number as a string.
func ProtoName(proto layers.IPProtocol) string {
	switch proto {
	case layers.IPProtocolTCP:
		return "TCP"
	case layers.IPProtocolUDP:
		return "UDP"
	case layers.IPProtocolICMPv4:
		return "ICMP"
	case layers.IPProtocolICMPv6:
		return "IPv6-ICMP"
	case 0:
		return ""
	}
	return strconv.Itoa(int(proto))
}

// Writer writes one JSON record per line.
type Writer struct {
	encoder *json.Encoder
	count   int
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{encoder: json.NewEncoder(w)}
}

func (w *Writer) Write(event *Event) error {
	if err := w.encoder.Encode(event); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.count
}

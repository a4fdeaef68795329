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

package eve

import (
	"encoding/base64"
	"math/rand"
	"sync"
	"time"

	"github.com/jasonish/icsdpi/decoder"
	"github.com/jasonish/icsdpi/detect"
	"github.com/jasonish/icsdpi/icsrule"
	"github.com/jasonish/icsdpi/packet"
	"github.com/jasonish/icsdpi/ruleparser"
	"github.com/jasonish/icsdpi/worker"
	"github.com/oklog/ulid"
)

const (
	EventTypeAlert   = "alert"
	EventTypeAnomaly = "anomaly"
)

type AlertInfo struct {
	Action      string `json:"action"`
	Source      string `json:"source"`
	SignatureID uint64 `json:"signature_id"`
	Signature   string `json:"signature"`
	Rule        string `json:"rule,omitempty"`
}

type ModbusInfo struct {
	Direction     string `json:"direction"`
	TransactionID uint16 `json:"transaction_id"`
	UnitID        uint8  `json:"unit_id"`
	FunctionCode  uint8  `json:"function_code"`
	Function      string `json:"function,omitempty"`
	ExceptionCode *uint8 `json:"exception_code,omitempty"`
}

type DecodeError struct {
	Kind   string `json:"kind"`
	Layer  string `json:"layer"`
	Offset int    `json:"offset"`
}

// Event is one EVE record. A packet produces one alert event per match, or
// a single anomaly event when it matched nothing and failed to decode.
type Event struct {
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	EventType   string       `json:"event_type"`
	PcapCount   int          `json:"pcap_cnt"`
	SrcMAC      string       `json:"src_mac,omitempty"`
	DestMAC     string       `json:"dest_mac,omitempty"`
	SrcIP       string       `json:"src_ip,omitempty"`
	SrcPort     uint16       `json:"src_port,omitempty"`
	DestIP      string       `json:"dest_ip,omitempty"`
	DestPort    uint16       `json:"dest_port,omitempty"`
	Proto       string       `json:"proto,omitempty"`
	Alert       *AlertInfo   `json:"alert,omitempty"`
	Modbus      *ModbusInfo  `json:"modbus,omitempty"`
	DecodeError *DecodeError `json:"decode_error,omitempty"`
	Packet      string       `json:"packet,omitempty"`
}

// RuleLookup finds the Suricata rule behind a match. *rules.RuleMap
// satisfies it.
type RuleLookup interface {
	FindById(id uint64) *ruleparser.Surule
}

type BuilderOptions struct {
	// Include the base64 encoded frame in each event.
	Packet bool

	// Optional, used to add the rule text to Suricata alerts.
	Rules RuleLookup
}

// Builder turns inspection results into events. It is safe for concurrent
// use.
type Builder struct {
	decoder *decoder.Decoder
	options BuilderOptions

	entropyLock sync.Mutex
	entropy     *rand.Rand
	lastSeed    int64
}

func NewBuilder(d *decoder.Decoder, options BuilderOptions) *Builder {
	return &Builder{
		decoder: d,
		options: options,
	}
}

func (b *Builder) newID(ts time.Time) string {
	b.entropyLock.Lock()
	defer b.entropyLock.Unlock()
	if b.entropy == nil {
		seed := time.Now().UnixNano()
		if seed <= b.lastSeed {
			seed = b.lastSeed + 1
		}
		b.lastSeed = seed
		b.entropy = rand.New(rand.NewSource(seed))
	}
	return ulid.MustNew(ulid.Timestamp(ts), b.entropy).String()
}

// Build returns the events for one inspected frame. Misses produce no
// events.
func (b *Builder) Build(frame worker.Frame, result detect.CheckResult) []*Event {
	if result.Verdict == detect.Miss {
		return nil
	}

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	pkt := b.decoder.Decode(frame.Data)

	var events []*Event
	if len(result.Matches) == 0 {
		event := b.newEvent(ts, frame, pkt, result)
		event.EventType = EventTypeAnomaly
		return append(events, event)
	}
	for _, match := range result.Matches {
		event := b.newEvent(ts, frame, pkt, result)
		event.EventType = EventTypeAlert
		event.Alert = b.alertInfo(match)
		events = append(events, event)
	}
	return events
}

func (b *Builder) newEvent(ts time.Time, frame worker.Frame, pkt *packet.Packet, result detect.CheckResult) *Event {
	event := &Event{
		ID:        b.newID(ts),
		Timestamp: FormatTimestampUTC(ts),
		PcapCount: frame.Index + 1,
		Proto:     ProtoName(pkt.Protocol()),
		Modbus:    modbusInfo(pkt),
	}
	if eth := pkt.Ethernet(); eth != nil {
		event.SrcMAC = eth.SrcMAC.String()
		event.DestMAC = eth.DstMAC.String()
	}
	if ip := pkt.SrcIP(); ip != nil {
		event.SrcIP = ip.String()
	}
	if ip := pkt.DstIP(); ip != nil {
		event.DestIP = ip.String()
	}
	if src, dst, ok := pkt.Ports(); ok {
		event.SrcPort = src
		event.DestPort = dst
	}
	if perr := result.Err; perr != nil {
		event.DecodeError = &DecodeError{
			Kind:   perr.Kind.String(),
			Layer:  perr.Layer.String(),
			Offset: perr.Offset,
		}
	}
	if b.options.Packet {
		event.Packet = base64.StdEncoding.EncodeToString(frame.Data)
	}
	return event
}

func (b *Builder) alertInfo(match detect.Match) *AlertInfo {
	alert := &AlertInfo{
		Action:      match.Action,
		Source:      string(match.Source),
		SignatureID: match.RuleID,
		Signature:   match.Msg,
	}
	if match.Source == detect.SourceSuricata && b.options.Rules != nil {
		if rule := b.options.Rules.FindById(match.RuleID); rule != nil {
			alert.Rule = rule.Raw
		}
	}
	return alert
}

func modbusInfo(pkt *packet.Packet) *ModbusInfo {
	if req := pkt.ModbusReq(); req != nil {
		return &ModbusInfo{
			Direction:     "request",
			TransactionID: req.MBAP.TransactionID,
			UnitID:        req.MBAP.UnitID,
			FunctionCode:  req.FunctionCode,
			Function:      icsrule.FunctionName(req.FunctionCode),
		}
	}
	if rsp := pkt.ModbusRsp(); rsp != nil {
		info := &ModbusInfo{
			Direction:     "response",
			TransactionID: rsp.MBAP.TransactionID,
			UnitID:        rsp.MBAP.UnitID,
			FunctionCode:  rsp.FunctionCode,
			Function:      icsrule.FunctionName(rsp.FunctionCode &^ packet.ModbusExceptionBit),
		}
		if rsp.Exception() {
			if code, ok := rsp.Field(packet.FieldExceptionCode); ok {
				exception := uint8(code)
				info.ExceptionCode = &exception
			}
		}
		return info
	}
	return nil
}

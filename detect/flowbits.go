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

package detect

import (
	"hash/fnv"
	"net"
	"strconv"
	"sync"

	"github.com/jasonish/icsdpi/log"
	"github.com/jasonish/icsdpi/packet"
	"github.com/jasonish/icsdpi/ruleparser"
)

// DefaultMaxFlows bounds the number of flows a Flowbits store tracks.
const DefaultMaxFlows = 65536

// FlowKey identifies a flow independent of direction.
type FlowKey struct {
	proto uint8
	lo    string
	hi    string
}

func endpointKey(ip net.IP, port uint16) string {
	key := make([]byte, 0, len(ip)+2)
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	key = append(key, ip...)
	return string(append(key, byte(port>>8), byte(port)))
}

// FlowKeyOf returns the flow of a packet. Packets without a network layer
// share one flow.
func FlowKeyOf(pkt *packet.Packet) FlowKey {
	sport, dport, _ := pkt.Ports()
	a := endpointKey(pkt.SrcIP(), sport)
	b := endpointKey(pkt.DstIP(), dport)
	if a > b {
		a, b = b, a
	}
	return FlowKey{proto: uint8(pkt.Protocol()), lo: a, hi: b}
}

// Hash returns a hash of the flow, equal for both directions.
func (k FlowKey) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte{k.proto})
	h.Write([]byte(k.lo))
	h.Write([]byte(k.hi))
	return h.Sum64()
}

// Flowbits is the flowbits state shared by the Suricata rules. It is safe
// for concurrent use; a nil store has no bits set and ignores updates.
type Flowbits struct {
	mu       sync.Mutex
	flows    map[FlowKey]map[string]bool
	maxFlows int
}

func NewFlowbits(maxFlows int) *Flowbits {
	if maxFlows <= 0 {
		maxFlows = DefaultMaxFlows
	}
	return &Flowbits{
		flows:    make(map[FlowKey]map[string]bool),
		maxFlows: maxFlows,
	}
}

func (f *Flowbits) IsSet(key FlowKey, name string) bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flows[key][name]
}

// check evaluates an isset or isnotset condition. All names must agree.
func (f *Flowbits) check(key FlowKey, fb *ruleparser.Flowbits) bool {
	want := fb.Command == ruleparser.FlowbitIsSet
	for _, name := range fb.Names {
		if f.IsSet(key, name) != want {
			return false
		}
	}
	return true
}

// apply runs the set, unset and toggle commands of a matching rule.
func (f *Flowbits) apply(key FlowKey, commands []*ruleparser.Flowbits) {
	if f == nil || len(commands) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	bits, ok := f.flows[key]
	if !ok {
		if len(f.flows) >= f.maxFlows {
			log.Debug("Flowbits table full with %d flows, clearing", len(f.flows))
			f.flows = make(map[FlowKey]map[string]bool)
		}
		bits = make(map[string]bool)
		f.flows[key] = bits
	}
	for _, fb := range commands {
		for _, name := range fb.Names {
			switch fb.Command {
			case ruleparser.FlowbitSet:
				bits[name] = true
			case ruleparser.FlowbitUnset:
				delete(bits, name)
			case ruleparser.FlowbitToggle:
				if bits[name] {
					delete(bits, name)
				} else {
					bits[name] = true
				}
			}
		}
	}
}

// Len returns the number of flows with state.
func (f *Flowbits) Len() int {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flows)
}

func (f *Flowbits) Reset() {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flows = make(map[FlowKey]map[string]bool)
}

func (k FlowKey) String() string {
	format := func(key string) string {
		if len(key) < 2 {
			return "-"
		}
		ip := net.IP(key[:len(key)-2])
		port := uint16(key[len(key)-2])<<8 | uint16(key[len(key)-1])
		return net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
	}
	return format(k.lo) + "<>" + format(k.hi)
}

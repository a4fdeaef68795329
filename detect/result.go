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

// Package detect matches decoded packets against ICS and Suricata rules.
package detect

import (
	"fmt"

	"github.com/jasonish/icsdpi/config"
	"github.com/jasonish/icsdpi/packet"
	"github.com/pkg/errors"
)

type Verdict int

const (
	// No rule matched.
	Miss Verdict = iota

	// At least one rule matched.
	Hit

	// No rule matched and the packet did not decode completely.
	Malformed
)

func (v Verdict) String() string {
	switch v {
	case Miss:
		return "miss"
	case Hit:
		return "hit"
	case Malformed:
		return "malformed"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// Source names the rule set a match came from.
type Source string

const (
	SourceIcs      Source = "ics"
	SourceSuricata Source = "suricata"
)

type Match struct {
	Source Source
	RuleID uint64
	Action string
	Msg    string
}

// CheckResult is the outcome of matching one packet. Err is set whenever
// decoding stopped at an error, even when rules matched.
type CheckResult struct {
	Verdict Verdict
	Matches []Match
	Err     *packet.ParseError
}

// Policy decides whether matching stops at the first matching rule.
type Policy int

const (
	FirstMatch Policy = iota
	AllMatches
)

func (p Policy) String() string {
	if p == AllMatches {
		return config.PolicyAllMatches
	}
	return config.PolicyFirstMatch
}

func ParsePolicy(name string) (Policy, error) {
	switch name {
	case config.PolicyFirstMatch, "":
		return FirstMatch, nil
	case config.PolicyAllMatches:
		return AllMatches, nil
	}
	return FirstMatch, errors.Errorf("unknown match policy %q", name)
}

// merge appends the matches of other and recomputes the verdict.
func (r CheckResult) merge(other CheckResult) CheckResult {
	r.Matches = append(r.Matches, other.Matches...)
	if r.Err == nil {
		r.Err = other.Err
	}
	return r.finish()
}

func newResult(pkt *packet.Packet) CheckResult {
	return CheckResult{Err: pkt.Err()}
}

func (r CheckResult) finish() CheckResult {
	switch {
	case len(r.Matches) > 0:
		r.Verdict = Hit
	case r.Err != nil:
		r.Verdict = Malformed
	default:
		r.Verdict = Miss
	}
	return r
}

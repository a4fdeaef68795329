// The MIT License (MIT)
// Copyright (c) 2016 Jason Ish
//
// Permission is hereby granted, free of charge, to any person
// obtaining a copy of this software and associated documentation
// files (the "Software"), to deal in the Software without
// restriction, including without limitation the rights to use, copy,
// modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be
// included in all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
// EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
// MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND
// NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS
// BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN
// ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.


package ruleparser

// Summary is the exported view of a rule.
type Summary struct {
	Sid         uint64   `json:"sid" yaml:"sid"`
	Gid         uint64   `json:"gid,omitempty" yaml:"gid,omitempty"`
	Rev         uint64   `json:"rev,omitempty" yaml:"rev,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Action      string   `json:"action" yaml:"action"`
	Protocol    string   `json:"protocol" yaml:"protocol"`
	Source      string   `json:"source" yaml:"source"`
	SourcePort  string   `json:"source_port" yaml:"source_port"`
	Direction   string   `json:"direction" yaml:"direction"`
	Destination string   `json:"destination" yaml:"destination"`
	DestPort    string   `json:"dest_port" yaml:"dest_port"`
	Msg         string   `json:"msg,omitempty" yaml:"msg,omitempty"`
	Options     []string `json:"options,omitempty" yaml:"options,omitempty"`
	Warnings    []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func (r *Surule) Summary() Summary {
	summary := Summary{
		Sid:         r.Sid,
		Gid:         r.Gid,
		Rev:         r.Rev,
		Enabled:     r.Enabled,
		Action:      string(r.Action),
		Protocol:    r.Protocol,
		Source:      r.Source.String(),
		SourcePort:  r.SourcePort.String(),
		Direction:   string(r.Direction),
		Destination: r.Destination.String(),
		DestPort:    r.DestPort.String(),
		Msg:         r.Msg,
	}
	for _, o := range r.Options {
		summary.Options = append(summary.Options, formatOption(o)...)
	}
	for _, w := range r.Warnings {
		summary.Warnings = append(summary.Warnings, w.Error())
	}
	return summary
}

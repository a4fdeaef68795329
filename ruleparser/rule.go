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

import (
	"strings"
)

// Option is a parsed rule option.
type Option interface {
	Keyword() string

	// Value returns the option argument as it is written in a rule, and
	// false for options written without one.
	Value() (string, bool)
}

// Surule is a Suricata rule.
type Surule struct {
	// The raw rule string.
	Raw string

	Enabled bool

	// Header components.
	Action      Action
	Protocol    string
	Source      AddressList
	SourcePort  PortList
	Direction   Direction
	Destination AddressList
	DestPort    PortList

	// List of options in order. Content modifiers are folded into the
	// content they modify.
	Options []Option

	// Some options are also pulled out for easy access.
	Msg string
	Sid uint64
	Gid uint64
	Rev uint64

	// Recoverable problems, such as options without a parser.
	Warnings []error
}

// Contents returns the content options in rule order.
func (r *Surule) Contents() []*Content {
	var contents []*Content
	for _, o := range r.Options {
		if c, ok := o.(*Content); ok {
			contents = append(contents, c)
		}
	}
	return contents
}

// lastContent returns the content a modifier applies to.
func (r *Surule) lastContent() *Content {
	for i := len(r.Options) - 1; i >= 0; i-- {
		if c, ok := r.Options[i].(*Content); ok {
			return c
		}
	}
	return nil
}

// String renders the rule in canonical form. Parsing the result yields an
// equivalent rule.
func (r *Surule) String() string {
	var b strings.Builder
	if !r.Enabled {
		b.WriteString("# ")
	}
	b.WriteString(string(r.Action))
	b.WriteString(" ")
	b.WriteString(r.Protocol)
	b.WriteString(" ")
	b.WriteString(r.Source.String())
	b.WriteString(" ")
	b.WriteString(r.SourcePort.String())
	b.WriteString(" ")
	b.WriteString(string(r.Direction))
	b.WriteString(" ")
	b.WriteString(r.Destination.String())
	b.WriteString(" ")
	b.WriteString(r.DestPort.String())
	b.WriteString(" (")

	var parts []string
	for _, o := range r.Options {
		parts = append(parts, formatOption(o)...)
	}
	if len(parts) > 0 {
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(";")
	}
	b.WriteString(")")
	return b.String()
}

func formatOption(o Option) []string {
	var parts []string
	if v, ok := o.Value(); ok {
		parts = append(parts, o.Keyword()+":"+v)
	} else {
		parts = append(parts, o.Keyword())
	}
	if c, ok := o.(*Content); ok {
		parts = append(parts, c.modifiers()...)
	}
	return parts
}

// Surules is an ordered rule collection loaded from one source.
type Surules struct {
	Rules       []*Surule
	Source      string
	Diagnostics []Diagnostic
}

func (s *Surules) Len() int {
	return len(s.Rules)
}

// Errors returns the diagnostics for rules that were dropped.
func (s *Surules) Errors() []Diagnostic {
	var errs []Diagnostic
	for _, d := range s.Diagnostics {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

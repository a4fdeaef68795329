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
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoRules is returned by ParseFile when a file produced errors and not a
// single rule.
var ErrNoRules = errors.New("no rules parsed")

type ErrorKind int

const (
	ErrIncomplete ErrorKind = iota + 1
	ErrInvalidAction
	ErrInvalidProtocol
	ErrInvalidAddress
	ErrInvalidPort
	ErrInvalidDirection
	ErrInvalidOption
	ErrInvalidValue
	ErrUnknownOption
	ErrWildContentModifier
	ErrConflictContentModifier
	ErrDuplicatedContentModifier
	ErrOddContentHex
	ErrUnknownFlowOption
	ErrFlowbits
	ErrUnsupportedPcre
	ErrUnsupportedProtocol
)

var errorKindNames = map[ErrorKind]string{
	ErrIncomplete:                "incomplete rule",
	ErrInvalidAction:             "invalid action",
	ErrInvalidProtocol:           "invalid protocol",
	ErrInvalidAddress:            "invalid address",
	ErrInvalidPort:               "invalid port",
	ErrInvalidDirection:          "invalid direction",
	ErrInvalidOption:             "invalid option",
	ErrInvalidValue:              "invalid value",
	ErrUnknownOption:             "unknown option",
	ErrWildContentModifier:       "content modifier without content",
	ErrConflictContentModifier:   "conflicting content modifiers",
	ErrDuplicatedContentModifier: "duplicated content modifier",
	ErrOddContentHex:             "odd length hex in content",
	ErrUnknownFlowOption:         "unknown flow option",
	ErrFlowbits:                  "invalid flowbits",
	ErrUnsupportedPcre:           "unsupported pcre",
	ErrUnsupportedProtocol:       "unsupported protocol",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// RuleError is the error type returned for rule text that cannot be parsed,
// and the type of the warnings attached to rules that could.
type RuleError struct {
	Kind ErrorKind
	Msg  string
}

func (e *RuleError) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newRuleError(kind ErrorKind, format string, args ...interface{}) *RuleError {
	return &RuleError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func newIncompleteRuleError() error {
	return &RuleError{Kind: ErrIncomplete}
}

// IsKind reports whether err is a RuleError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var rerr *RuleError
	if errors.As(err, &rerr) {
		return rerr.Kind == kind
	}
	return false
}

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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ParseOptions controls how strictly rules are parsed.
type ParseOptions struct {
	// Reject rules using keywords without a registered parser instead of
	// keeping them with a warning.
	Strict bool

	// Keep commented out rules in a collection. They are never matched.
	KeepDisabled bool
}

// Remove leading white space from a string.
func trimLeadingWhiteSpace(buf string) string {
	return strings.TrimLeft(buf, " \t")
}

func splitAt(buf string, sep string) (string, string) {
	var leading string
	var trailing string

	parts := strings.SplitN(buf, sep, 2)
	if len(parts) > 1 {
		trailing = strings.TrimSpace(parts[1])
	}
	leading = strings.TrimSpace(parts[0])

	return leading, trailing
}

// nextField splits the next white space delimited header field from buf.
func nextField(buf string) (string, string) {
	buf = trimLeadingWhiteSpace(buf)
	end := strings.IndexAny(buf, " \t")
	if end < 0 {
		return buf, ""
	}
	return buf[:end], trimLeadingWhiteSpace(buf[end:])
}

// Parse the next rule option from the provided rule.
//
// The option, its raw argument, whether it had an argument and the
// remainder of the rule are returned.
func parseOption(rule string) (string, string, bool, string, error) {
	var option string
	var arg string

	// Strip any leading space.
	rule = trimLeadingWhiteSpace(rule)

	hasArg := false
	optend := strings.IndexFunc(rule, func(r rune) bool {
		switch r {
		case ';':
			return true
		case ':':
			hasArg = true
			return true
		}
		return false
	})
	if optend < 0 {
		return option, arg, false, rule, newRuleError(ErrInvalidOption,
			"unterminated option")
	}

	option = strings.TrimSpace(rule[0:optend])
	if option == "" {
		return option, arg, false, rule, newRuleError(ErrInvalidOption,
			"empty option name")
	}

	rule = rule[optend+1:]

	if hasArg {
		if len(rule) == 0 {
			return option, arg, hasArg, rule, newRuleError(ErrInvalidOption,
				"no argument for %s", option)
		}
		escaped := false
		argend := strings.IndexFunc(rule, func(r rune) bool {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == ';' {
				return true
			}
			return false
		})
		if argend < 0 {
			return option, arg, hasArg, rule, newRuleError(ErrInvalidOption,
				"unterminated argument for %s", option)
		}
		arg = strings.TrimSpace(rule[:argend])
		rule = rule[argend+1:]
	}

	return option, arg, hasArg, rule, nil
}

// Parse a rule from the provided string buffer with default options.
func Parse(buf string) (Surule, error) {
	return ParseWith(buf, ParseOptions{})
}

// ParseWith parses a rule from the provided string buffer.
func ParseWith(buf string, options ParseOptions) (Surule, error) {
	rule := Surule{
		Raw: buf,
	}

	// Removing leading space.
	buf = trimLeadingWhiteSpace(buf)

	// Check enable/disable status.
	if !strings.HasPrefix(buf, "#") {
		rule.Enabled = true
	} else {
		buf = strings.TrimPrefix(buf, "#")
		buf = trimLeadingWhiteSpace(buf)
	}

	rem, err := parseHeader(&rule, buf)
	if err != nil {
		return rule, err
	}

	// Check that then next char is a (.
	if rem[0:1] != "(" {
		return rule, newRuleError(ErrInvalidOption, "expected (, got %s", rem[0:1])
	}
	buf = rem[1:]

	// Parse options.
	for {
		buf = trimLeadingWhiteSpace(buf)
		if len(buf) == 0 {
			return rule, newIncompleteRuleError()
		}

		if strings.HasPrefix(buf, ")") {
			// Done.
			if trailing := strings.TrimSpace(buf[1:]); trailing != "" {
				return rule, newRuleError(ErrInvalidOption,
					"unexpected text after options: %s", trailing)
			}
			break
		}

		option, arg, hasArg, rest, err := parseOption(buf)
		if err != nil {
			return rule, err
		}
		buf = rest

		parser, ok := lookupOption(option)
		if !ok {
			if options.Strict {
				return rule, newRuleError(ErrUnknownOption, "%s", option)
			}
			rule.Options = append(rule.Options, &GenericOption{
				Name:     option,
				Val:      arg,
				HasValue: hasArg,
			})
			rule.Warnings = append(rule.Warnings, newRuleError(ErrUnknownOption, "%s", option))
			continue
		}
		if err := parser(&rule, arg, hasArg); err != nil {
			return rule, err
		}
	}

	if rule.Sid == 0 {
		return rule, newRuleError(ErrInvalidValue, "rule has no sid")
	}

	return rule, nil
}

func parseHeader(rule *Surule, buf string) (string, error) {
	action, rem := nextField(buf)
	if len(rem) == 0 {
		return rem, newIncompleteRuleError()
	}
	var err error
	if rule.Action, err = parseAction(action); err != nil {
		return rem, err
	}

	proto, rem := nextField(rem)
	if len(rem) == 0 {
		return rem, newIncompleteRuleError()
	}
	if err := parseProtocol(rule, proto); err != nil {
		return rem, err
	}

	sourceAddr, rem := nextField(rem)
	if len(rem) == 0 {
		return rem, newIncompleteRuleError()
	}
	if rule.Source, err = ParseAddressList(sourceAddr); err != nil {
		return rem, err
	}

	sourcePort, rem := nextField(rem)
	if len(rem) == 0 {
		return rem, newIncompleteRuleError()
	}
	if rule.SourcePort, err = ParsePortList(sourcePort); err != nil {
		return rem, err
	}

	direction, rem := nextField(rem)
	if !validateDirection(direction) {
		return rem, newRuleError(ErrInvalidDirection, "%s", direction)
	}
	rule.Direction = Direction(direction)
	if len(rem) == 0 {
		return rem, newIncompleteRuleError()
	}

	destAddr, rem := nextField(rem)
	if len(rem) == 0 {
		return rem, newIncompleteRuleError()
	}
	if rule.Destination, err = ParseAddressList(destAddr); err != nil {
		return rem, err
	}

	destPort, rem := nextField(rem)
	if len(rem) == 0 {
		return rem, newIncompleteRuleError()
	}
	if rule.DestPort, err = ParsePortList(destPort); err != nil {
		return rem, err
	}

	return rem, nil
}

type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic reports a problem with one rule of a collection. Errors drop
// the rule, warnings do not.
type Diagnostic struct {
	Line     int
	Severity Severity
	Sid      uint64
	Err      error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d: %s: %v", d.Line, d.Severity, d.Err)
}

// ParseReader parses multiple rules from a reader. Rules that fail to parse
// are reported as diagnostics; only read errors are returned.
func ParseReader(reader io.Reader, options ParseOptions) (*Surules, error) {
	rules := &Surules{}

	ruleReader := NewRuleReader(reader)
	ruleReader.options = options

	for {
		rule, err := ruleReader.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			var rerr *RuleError
			if !errors.As(err, &rerr) {
				return rules, err
			}
			rules.Diagnostics = append(rules.Diagnostics, Diagnostic{
				Line:     ruleReader.Line(),
				Severity: SeverityError,
				Sid:      rule.Sid,
				Err:      err,
			})
			continue
		}
		if !rule.Enabled && !options.KeepDisabled {
			continue
		}
		for _, warning := range rule.Warnings {
			rules.Diagnostics = append(rules.Diagnostics, Diagnostic{
				Line:     ruleReader.Line(),
				Severity: SeverityWarning,
				Sid:      rule.Sid,
				Err:      warning,
			})
		}
		r := rule
		rules.Rules = append(rules.Rules, &r)
	}

	return rules, nil
}

// ParseFile parses a rule file. Every rule is parsed independently; a bad
// rule is recorded in the returned collection's diagnostics. ErrNoRules is
// returned, with the diagnostics, when no rule at all could be parsed.
func ParseFile(path string, options ParseOptions) (*Surules, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	rules, err := ParseReader(file, options)
	if err != nil {
		return rules, errors.Wrapf(err, "failed to read %s", path)
	}
	rules.Source = path
	if rules.Len() == 0 && len(rules.Errors()) > 0 {
		return rules, ErrNoRules
	}
	return rules, nil
}

// RuleReader parses rules one by from an underlying reader.
type RuleReader struct {
	reader  *bufio.Reader
	options ParseOptions

	// Lines consumed so far, and the first line of the last rule.
	line  int
	start int
}

// NewRuleReader creates a new RuleReader reading from a reader.
func NewRuleReader(reader io.Reader) *RuleReader {
	ruleReader := &RuleReader{
		reader: bufio.NewReader(reader),
	}
	return ruleReader
}

// Line returns the line number the last rule or error started on.
func (r *RuleReader) Line() int {
	return r.start
}

func (r *RuleReader) readLine() (string, error) {
	bytes, err := r.reader.ReadBytes('\n')
	if err != nil && len(bytes) == 0 {
		return "", err
	}
	r.line++
	return strings.TrimSpace(string(bytes)), nil
}

// Next returns the next rule read from the reader. Empty lines and commented
// out lines are skipped. Any other line that doesn't parse as a rule is
// considered an error.
func (r *RuleReader) Next() (Surule, error) {

	ruleString := ""

	for {
		line, err := r.readLine()
		if err != nil && line == "" {
			if err == io.EOF && ruleString != "" {
				// A continuation on the last line.
				return r.parse(ruleString)
			}
			return Surule{}, err
		}

		if len(line) == 0 {
			continue
		}

		if ruleString == "" {
			r.start = r.line
		}

		if strings.HasSuffix(line, "\\") {
			ruleString = fmt.Sprintf("%s%s",
				ruleString, line[0:len(line)-1])
			continue
		}

		ruleString = fmt.Sprintf("%s%s", ruleString, line)

		rule, err := ParseWith(ruleString, r.options)
		if err != nil {
			if strings.HasPrefix(ruleString, "#") {
				ruleString = ""
				continue
			}
			return rule, err
		}
		return rule, nil
	}
}

func (r *RuleReader) parse(ruleString string) (Surule, error) {
	rule, err := ParseWith(ruleString, r.options)
	if err != nil && strings.HasPrefix(ruleString, "#") {
		return Surule{}, io.EOF
	}
	return rule, err
}

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
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// OptionParser parses the argument of one keyword into the rule. hasValue
// is false for keywords written without a colon.
type OptionParser func(rule *Surule, value string, hasValue bool) error

var (
	optionParsersLock sync.RWMutex
	optionParsers     = map[string]OptionParser{}
)

// RegisterOption installs the parser for a keyword, replacing any existing
// one. Keywords without a parser are kept as GenericOption.
func RegisterOption(keyword string, parser OptionParser) {
	optionParsersLock.Lock()
	defer optionParsersLock.Unlock()
	optionParsers[keyword] = parser
}

func lookupOption(keyword string) (OptionParser, bool) {
	optionParsersLock.RLock()
	defer optionParsersLock.RUnlock()
	parser, ok := optionParsers[keyword]
	return parser, ok
}

func init() {
	RegisterOption("msg", parseMsg)
	RegisterOption("sid", numberOption("sid", func(r *Surule, n uint64) Option {
		r.Sid = n
		return Sid(n)
	}))
	RegisterOption("rev", numberOption("rev", func(r *Surule, n uint64) Option {
		r.Rev = n
		return Rev(n)
	}))
	RegisterOption("gid", numberOption("gid", func(r *Surule, n uint64) Option {
		r.Gid = n
		return Gid(n)
	}))
	RegisterOption("priority", numberOption("priority", func(r *Surule, n uint64) Option {
		return Priority(n)
	}))
	RegisterOption("classtype", parseClasstype)
	RegisterOption("reference", parseReference)
	RegisterOption("metadata", parseMetadata)
	RegisterOption("content", parseContent)
	for _, name := range []string{"nocase", "rawbytes", "fast_pattern", "startswith",
		"endswith", "offset", "depth", "distance", "within"} {
		RegisterOption(name, contentModifier(name))
	}
	RegisterOption("pcre", parsePcre)
	RegisterOption("byte_test", parseByteTest)
	RegisterOption("byte_jump", parseByteJump)
	RegisterOption("dsize", parseDsize)
	RegisterOption("isdataat", parseIsDataAt)
	RegisterOption("flow", parseFlow)
	RegisterOption("flowbits", parseFlowbits)
	for _, name := range []string{"file_data", "ftpbounce", "noalert"} {
		RegisterOption(name, flagOption(name))
	}
}

type Msg string

func (m Msg) Keyword() string { return "msg" }
func (m Msg) Value() (string, bool) {
	return `"` + escapeText(string(m)) + `"`, true
}

type Sid uint64

func (s Sid) Keyword() string { return "sid" }
func (s Sid) Value() (string, bool) { return strconv.FormatUint(uint64(s), 10), true }

type Rev uint64

func (r Rev) Keyword() string { return "rev" }
func (r Rev) Value() (string, bool) { return strconv.FormatUint(uint64(r), 10), true }

type Gid uint64

func (g Gid) Keyword() string { return "gid" }
func (g Gid) Value() (string, bool) { return strconv.FormatUint(uint64(g), 10), true }

type Priority uint64

func (p Priority) Keyword() string { return "priority" }
func (p Priority) Value() (string, bool) { return strconv.FormatUint(uint64(p), 10), true }

type Classtype string

func (c Classtype) Keyword() string { return "classtype" }
func (c Classtype) Value() (string, bool) { return string(c), true }

type Reference struct {
	System string
	ID     string
}

func (r *Reference) Keyword() string { return "reference" }
func (r *Reference) Value() (string, bool) {
	return r.System + "," + r.ID, true
}

// Metadata holds the comma separated entries of a metadata option.
type Metadata []string

func (m Metadata) Keyword() string { return "metadata" }
func (m Metadata) Value() (string, bool) { return strings.Join(m, ", "), true }

// Flag is a keyword without arguments, such as file_data.
type Flag string

func (f Flag) Keyword() string { return string(f) }
func (f Flag) Value() (string, bool) { return "", false }

// GenericOption is a keyword that has no registered parser.
type GenericOption struct {
	Name     string
	Val      string
	HasValue bool
}

func (g *GenericOption) Keyword() string { return g.Name }
func (g *GenericOption) Value() (string, bool) {
	return g.Val, g.HasValue
}

func parseMsg(rule *Surule, value string, hasValue bool) error {
	value = strings.TrimSpace(value)
	if text, ok := unquote(value); ok {
		value = text
	}
	msg := unescapeText(value)
	rule.Msg = msg
	rule.Options = append(rule.Options, Msg(msg))
	return nil
}

func numberOption(name string, apply func(*Surule, uint64) Option) OptionParser {
	return func(rule *Surule, value string, hasValue bool) error {
		n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return newRuleError(ErrInvalidValue, "failed to parse %s: %s", name, value)
		}
		rule.Options = append(rule.Options, apply(rule, n))
		return nil
	}
}

func parseClasstype(rule *Surule, value string, hasValue bool) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return newRuleError(ErrInvalidValue, "empty classtype")
	}
	rule.Options = append(rule.Options, Classtype(value))
	return nil
}

func parseReference(rule *Surule, value string, hasValue bool) error {
	system, id := splitAt(value, ",")
	if system == "" || id == "" {
		return newRuleError(ErrInvalidValue, "reference:%s", value)
	}
	rule.Options = append(rule.Options, &Reference{System: system, ID: id})
	return nil
}

func parseMetadata(rule *Surule, value string, hasValue bool) error {
	var entries Metadata
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		return newRuleError(ErrInvalidValue, "empty metadata")
	}
	rule.Options = append(rule.Options, entries)
	return nil
}

func flagOption(name string) OptionParser {
	return func(rule *Surule, value string, hasValue bool) error {
		if hasValue {
			return newRuleError(ErrInvalidValue, "%s takes no value", name)
		}
		rule.Options = append(rule.Options, Flag(name))
		return nil
	}
}

// Pcre is a pcre option compiled to a Go regular expression. Patterns
// using features Go does not support parse with a warning and never match.
type Pcre struct {
	Pattern   string
	Modifiers string
	Negate    bool

	re *regexp.Regexp
}

func (p *Pcre) Keyword() string { return "pcre" }

func (p *Pcre) Value() (string, bool) {
	v := `"/` + p.Pattern + "/" + p.Modifiers + `"`
	if p.Negate {
		v = "!" + v
	}
	return v, true
}

// Regexp returns the compiled expression, or nil if it did not compile.
func (p *Pcre) Regexp() *regexp.Regexp {
	return p.re
}

// Relative reports whether the R modifier anchors the search at the
// previous match.
func (p *Pcre) Relative() bool {
	return strings.ContainsRune(p.Modifiers, 'R')
}

func parsePcre(rule *Surule, value string, hasValue bool) error {
	pcre := &Pcre{}
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "!") {
		pcre.Negate = true
		value = strings.TrimSpace(value[1:])
	}
	quoted, ok := unquote(value)
	if !ok || !strings.HasPrefix(quoted, "/") {
		return newRuleError(ErrInvalidValue, "pcre:%s", value)
	}
	end := strings.LastIndex(quoted, "/")
	if end == 0 {
		return newRuleError(ErrInvalidValue, "unterminated pcre: %s", value)
	}
	pcre.Pattern = quoted[1:end]
	pcre.Modifiers = quoted[end+1:]

	flags := ""
	for _, m := range pcre.Modifiers {
		switch m {
		case 'i', 'm', 's':
			if !strings.ContainsRune(flags, m) {
				flags += string(m)
			}
		case 'x':
			rule.Warnings = append(rule.Warnings,
				newRuleError(ErrUnsupportedPcre, "extended modifier ignored: %s", value))
		}
	}
	expr := pcre.Pattern
	if flags != "" {
		expr = "(?" + flags + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		rule.Warnings = append(rule.Warnings,
			newRuleError(ErrUnsupportedPcre, "%s: %v", value, err))
	} else {
		pcre.re = re
	}
	rule.Options = append(rule.Options, pcre)
	return nil
}

type Endian string

const (
	EndianBig    Endian = "big"
	EndianLittle Endian = "little"
)

// NumType is the base of a number written as a string in the payload.
type NumType string

const (
	NumTypeHex NumType = "hex"
	NumTypeDec NumType = "dec"
	NumTypeOct NumType = "oct"
)

type ByteTestOp string

const (
	ByteTestLess         ByteTestOp = "<"
	ByteTestGreater      ByteTestOp = ">"
	ByteTestEqual        ByteTestOp = "="
	ByteTestLessEqual    ByteTestOp = "<="
	ByteTestGreaterEqual ByteTestOp = ">="
	ByteTestAnd          ByteTestOp = "&"
	ByteTestOr           ByteTestOp = "^"
)

// ByteTest compares bytes extracted from the payload with a value.
type ByteTest struct {
	Count    int
	Negate   bool
	Operator ByteTestOp
	Test     uint64
	Offset   int
	Relative bool
	Endian   Endian
	String   bool
	NumType  NumType
	DCE      bool
	Bitmask  *uint64
}

func (b *ByteTest) Keyword() string { return "byte_test" }

func (b *ByteTest) Value() (string, bool) {
	op := string(b.Operator)
	if b.Negate {
		op = "!" + op
	}
	parts := []string{
		strconv.Itoa(b.Count),
		op,
		strconv.FormatUint(b.Test, 10),
		strconv.Itoa(b.Offset),
	}
	parts = append(parts, extractFlags(b.Relative, b.Endian, b.String, b.NumType, b.DCE)...)
	if b.Bitmask != nil {
		parts = append(parts, fmt.Sprintf("bitmask 0x%x", *b.Bitmask))
	}
	return strings.Join(parts, ","), true
}

type ByteJumpFrom string

const (
	JumpFromBeginning ByteJumpFrom = "from_beginning"
	JumpFromEnd       ByteJumpFrom = "from_end"
)

// ByteJump moves the detection cursor by a value read from the payload.
type ByteJump struct {
	Count      int
	Offset     int
	Relative   bool
	Multiplier *uint64
	Endian     Endian
	String     bool
	NumType    NumType
	Align      bool
	From       ByteJumpFrom
	PostOffset *int
	DCE        bool
	Bitmask    *uint64
}

func (b *ByteJump) Keyword() string { return "byte_jump" }

func (b *ByteJump) Value() (string, bool) {
	parts := []string{strconv.Itoa(b.Count), strconv.Itoa(b.Offset)}
	parts = append(parts, extractFlags(b.Relative, b.Endian, b.String, b.NumType, b.DCE)...)
	if b.Multiplier != nil {
		parts = append(parts, "multiplier "+strconv.FormatUint(*b.Multiplier, 10))
	}
	if b.Align {
		parts = append(parts, "align")
	}
	if b.From != "" {
		parts = append(parts, string(b.From))
	}
	if b.PostOffset != nil {
		parts = append(parts, "post_offset "+strconv.Itoa(*b.PostOffset))
	}
	if b.Bitmask != nil {
		parts = append(parts, fmt.Sprintf("bitmask 0x%x", *b.Bitmask))
	}
	return strings.Join(parts, ","), true
}

func extractFlags(relative bool, endian Endian, str bool, numType NumType, dce bool) []string {
	var flags []string
	if relative {
		flags = append(flags, "relative")
	}
	if endian != "" {
		flags = append(flags, string(endian))
	}
	if str {
		flags = append(flags, "string")
	}
	if numType != "" {
		flags = append(flags, string(numType))
	}
	if dce {
		flags = append(flags, "dce")
	}
	return flags
}

// byteArgs holds the optional trailing arguments shared by byte_test and
// byte_jump.
type byteArgs struct {
	relative   bool
	endian     Endian
	str        bool
	numType    NumType
	dce        bool
	bitmask    *uint64
	multiplier *uint64
	align      bool
	from       ByteJumpFrom
	postOffset *int
}

func parseByteArgs(keyword string, args []string, jump bool) (byteArgs, error) {
	var b byteArgs
	invalid := func(arg string) error {
		return newRuleError(ErrInvalidValue, "%s: unknown parameter %q", keyword, arg)
	}
	for _, arg := range args {
		name, param := splitAt(arg, " ")
		switch name {
		case "relative":
			b.relative = true
		case "big", "little":
			if b.endian != "" {
				return b, invalid(arg)
			}
			b.endian = Endian(name)
		case "string":
			b.str = true
		case "hex", "dec", "oct":
			if b.numType != "" {
				return b, invalid(arg)
			}
			b.numType = NumType(name)
		case "dce":
			b.dce = true
		case "bitmask":
			v, err := strconv.ParseUint(param, 0, 64)
			if err != nil {
				return b, invalid(arg)
			}
			b.bitmask = &v
		case "multiplier":
			v, err := strconv.ParseUint(param, 10, 64)
			if !jump || err != nil || v == 0 {
				return b, invalid(arg)
			}
			b.multiplier = &v
		case "align":
			if !jump {
				return b, invalid(arg)
			}
			b.align = true
		case "from_beginning", "from_end":
			if !jump || b.from != "" {
				return b, invalid(arg)
			}
			b.from = ByteJumpFrom(name)
		case "post_offset":
			v, err := strconv.Atoi(param)
			if !jump || err != nil {
				return b, invalid(arg)
			}
			b.postOffset = &v
		default:
			return b, invalid(arg)
		}
	}
	if b.numType != "" && !b.str {
		return b, newRuleError(ErrInvalidValue, "%s: %s requires string", keyword, b.numType)
	}
	return b, nil
}

func splitArgs(value string) []string {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseCount(keyword string, s string, str bool) (int, error) {
	count, err := strconv.Atoi(s)
	max := 8
	if str {
		max = 10
	}
	if err != nil || count < 1 || count > max {
		return 0, newRuleError(ErrInvalidValue, "%s: invalid byte count %q", keyword, s)
	}
	return count, nil
}

func parseByteTest(rule *Surule, value string, hasValue bool) error {
	args := splitArgs(value)
	if len(args) < 4 {
		return newRuleError(ErrInvalidValue, "byte_test:%s", value)
	}
	extra, err := parseByteArgs("byte_test", args[4:], false)
	if err != nil {
		return err
	}
	bt := &ByteTest{
		Relative: extra.relative,
		Endian:   extra.endian,
		String:   extra.str,
		NumType:  extra.numType,
		DCE:      extra.dce,
		Bitmask:  extra.bitmask,
	}
	if bt.Count, err = parseCount("byte_test", args[0], bt.String); err != nil {
		return err
	}
	op := args[1]
	if strings.HasPrefix(op, "!") {
		bt.Negate = true
		op = op[1:]
	}
	switch ByteTestOp(op) {
	case ByteTestLess, ByteTestGreater, ByteTestEqual, ByteTestLessEqual,
		ByteTestGreaterEqual, ByteTestAnd, ByteTestOr:
		bt.Operator = ByteTestOp(op)
	default:
		return newRuleError(ErrInvalidValue, "byte_test: unknown operator %q", args[1])
	}
	if bt.Test, err = strconv.ParseUint(args[2], 0, 64); err != nil {
		return newRuleError(ErrInvalidValue, "byte_test: invalid value %q", args[2])
	}
	if bt.Offset, err = strconv.Atoi(args[3]); err != nil {
		return newRuleError(ErrInvalidValue, "byte_test: invalid offset %q", args[3])
	}
	rule.Options = append(rule.Options, bt)
	return nil
}

func parseByteJump(rule *Surule, value string, hasValue bool) error {
	args := splitArgs(value)
	if len(args) < 2 {
		return newRuleError(ErrInvalidValue, "byte_jump:%s", value)
	}
	extra, err := parseByteArgs("byte_jump", args[2:], true)
	if err != nil {
		return err
	}
	bj := &ByteJump{
		Relative:   extra.relative,
		Multiplier: extra.multiplier,
		Endian:     extra.endian,
		String:     extra.str,
		NumType:    extra.numType,
		Align:      extra.align,
		From:       extra.from,
		PostOffset: extra.postOffset,
		DCE:        extra.dce,
		Bitmask:    extra.bitmask,
	}
	if bj.Count, err = parseCount("byte_jump", args[0], bj.String); err != nil {
		return err
	}
	if bj.Offset, err = strconv.Atoi(args[1]); err != nil {
		return newRuleError(ErrInvalidValue, "byte_jump: invalid offset %q", args[1])
	}
	rule.Options = append(rule.Options, bj)
	return nil
}

type DsizeOp string

const (
	DsizeEqual    DsizeOp = "="
	DsizeNotEqual DsizeOp = "!"
	DsizeLess     DsizeOp = "<"
	DsizeGreater  DsizeOp = ">"
	DsizeRange    DsizeOp = "<>"
)

// Dsize tests the payload size. Range bounds are exclusive.
type Dsize struct {
	Op  DsizeOp
	Min int
	Max int
}

func (d *Dsize) Keyword() string { return "dsize" }

func (d *Dsize) Value() (string, bool) {
	switch d.Op {
	case DsizeRange:
		return fmt.Sprintf("%d<>%d", d.Min, d.Max), true
	case DsizeEqual:
		return strconv.Itoa(d.Min), true
	}
	return string(d.Op) + strconv.Itoa(d.Min), true
}

func parseDsize(rule *Surule, value string, hasValue bool) error {
	value = strings.TrimSpace(value)
	invalid := newRuleError(ErrInvalidValue, "dsize:%s", value)
	dsize := &Dsize{}
	var err error
	if i := strings.Index(value, "<>"); i >= 0 {
		dsize.Op = DsizeRange
		if dsize.Min, err = strconv.Atoi(strings.TrimSpace(value[:i])); err != nil {
			return invalid
		}
		if dsize.Max, err = strconv.Atoi(strings.TrimSpace(value[i+2:])); err != nil {
			return invalid
		}
		if dsize.Min < 0 || dsize.Max <= dsize.Min {
			return invalid
		}
	} else {
		dsize.Op = DsizeEqual
		if value != "" {
			switch DsizeOp(value[:1]) {
			case DsizeNotEqual, DsizeLess, DsizeGreater:
				dsize.Op = DsizeOp(value[:1])
				value = strings.TrimSpace(value[1:])
			}
		}
		if dsize.Min, err = strconv.Atoi(value); err != nil || dsize.Min < 0 {
			return invalid
		}
	}
	rule.Options = append(rule.Options, dsize)
	return nil
}

type IsDataAt struct {
	Pos      int
	Negate   bool
	Relative bool
}

func (d *IsDataAt) Keyword() string { return "isdataat" }

func (d *IsDataAt) Value() (string, bool) {
	v := strconv.Itoa(d.Pos)
	if d.Negate {
		v = "!" + v
	}
	if d.Relative {
		v += ",relative"
	}
	return v, true
}

func parseIsDataAt(rule *Surule, value string, hasValue bool) error {
	args := splitArgs(value)
	isdataat := &IsDataAt{}
	pos := args[0]
	if strings.HasPrefix(pos, "!") {
		isdataat.Negate = true
		pos = pos[1:]
	}
	var err error
	if isdataat.Pos, err = strconv.Atoi(pos); err != nil || isdataat.Pos < 0 {
		return newRuleError(ErrInvalidValue, "isdataat:%s", value)
	}
	for _, arg := range args[1:] {
		switch arg {
		case "relative":
			isdataat.Relative = true
		case "rawbytes":
		default:
			return newRuleError(ErrInvalidValue, "isdataat: unknown parameter %q", arg)
		}
	}
	rule.Options = append(rule.Options, isdataat)
	return nil
}

type FlowMatcher string

const (
	FlowToClient       FlowMatcher = "to_client"
	FlowToServer       FlowMatcher = "to_server"
	FlowFromClient     FlowMatcher = "from_client"
	FlowFromServer     FlowMatcher = "from_server"
	FlowEstablished    FlowMatcher = "established"
	FlowNotEstablished FlowMatcher = "not_established"
	FlowStateless      FlowMatcher = "stateless"
	FlowOnlyStream     FlowMatcher = "only_stream"
	FlowNoStream       FlowMatcher = "no_stream"
	FlowOnlyFrag       FlowMatcher = "only_frag"
	FlowNoFrag         FlowMatcher = "no_frag"
)

var flowMatchers = map[FlowMatcher]bool{
	FlowToClient: true, FlowToServer: true, FlowFromClient: true,
	FlowFromServer: true, FlowEstablished: true, FlowNotEstablished: true,
	FlowStateless: true, FlowOnlyStream: true, FlowNoStream: true,
	FlowOnlyFrag: true, FlowNoFrag: true,
}

type Flow []FlowMatcher

func (f Flow) Keyword() string { return "flow" }

func (f Flow) Value() (string, bool) {
	parts := make([]string, len(f))
	for i, m := range f {
		parts[i] = string(m)
	}
	return strings.Join(parts, ","), true
}

func parseFlow(rule *Surule, value string, hasValue bool) error {
	var flow Flow
	for _, arg := range splitArgs(value) {
		m := FlowMatcher(arg)
		if !flowMatchers[m] {
			return newRuleError(ErrUnknownFlowOption, "%q", arg)
		}
		flow = append(flow, m)
	}
	rule.Options = append(rule.Options, flow)
	return nil
}

type FlowbitCommand string

const (
	FlowbitNoAlert  FlowbitCommand = "noalert"
	FlowbitSet      FlowbitCommand = "set"
	FlowbitIsSet    FlowbitCommand = "isset"
	FlowbitToggle   FlowbitCommand = "toggle"
	FlowbitUnset    FlowbitCommand = "unset"
	FlowbitIsNotSet FlowbitCommand = "isnotset"
)

type Flowbits struct {
	Command FlowbitCommand
	Names   []string
}

func (f *Flowbits) Keyword() string { return "flowbits" }

func (f *Flowbits) Value() (string, bool) {
	if len(f.Names) == 0 {
		return string(f.Command), true
	}
	return string(f.Command) + "," + strings.Join(f.Names, "|"), true
}

func parseFlowbits(rule *Surule, value string, hasValue bool) error {
	command, names := splitAt(value, ",")
	fb := &Flowbits{Command: FlowbitCommand(command)}
	switch fb.Command {
	case FlowbitNoAlert:
		if names != "" {
			return newRuleError(ErrFlowbits, "noalert takes no names")
		}
	case FlowbitSet, FlowbitIsSet, FlowbitToggle, FlowbitUnset, FlowbitIsNotSet:
		for _, name := range strings.Split(names, "|") {
			if name = strings.TrimSpace(name); name != "" {
				fb.Names = append(fb.Names, name)
			}
		}
		if len(fb.Names) == 0 {
			return newRuleError(ErrFlowbits, "%s requires a name", command)
		}
	default:
		return newRuleError(ErrFlowbits, "unknown command %q", command)
	}
	rule.Options = append(rule.Options, fb)
	return nil
}

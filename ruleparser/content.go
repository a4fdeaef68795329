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
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Content is a content match together with its modifiers.
type Content struct {
	Pattern []byte
	Negate  bool

	Nocase      bool
	RawBytes    bool
	FastPattern bool
	StartsWith  bool
	EndsWith    bool

	// Absolute position modifiers.
	Offset *int
	Depth  *int

	// Relative position modifiers.
	Distance *int
	Within   *int
}

func (c *Content) Keyword() string { return "content" }

func (c *Content) Value() (string, bool) {
	v := `"` + encodeContent(c.Pattern) + `"`
	if c.Negate {
		v = "!" + v
	}
	return v, true
}

// Relative reports whether the match is anchored at the previous match.
func (c *Content) Relative() bool {
	return c.Distance != nil || c.Within != nil
}

func (c *Content) Absolute() bool {
	return c.Offset != nil || c.Depth != nil
}

func (c *Content) positioned() bool {
	return c.Relative() || c.Absolute() || c.StartsWith || c.EndsWith
}

func (c *Content) modifiers() []string {
	var mods []string
	if c.Nocase {
		mods = append(mods, "nocase")
	}
	if c.RawBytes {
		mods = append(mods, "rawbytes")
	}
	if c.FastPattern {
		mods = append(mods, "fast_pattern")
	}
	if c.StartsWith {
		mods = append(mods, "startswith")
	}
	if c.EndsWith {
		mods = append(mods, "endswith")
	}
	intMod := func(name string, v *int) {
		if v != nil {
			mods = append(mods, fmt.Sprintf("%s:%d", name, *v))
		}
	}
	intMod("offset", c.Offset)
	intMod("depth", c.Depth)
	intMod("distance", c.Distance)
	intMod("within", c.Within)
	return mods
}

func parseContent(rule *Surule, value string, hasValue bool) error {
	if !hasValue {
		return newRuleError(ErrInvalidValue, "content requires a pattern")
	}
	content := &Content{}
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "!") {
		content.Negate = true
		value = strings.TrimSpace(value[1:])
	}
	quoted, ok := unquote(value)
	if !ok {
		return newRuleError(ErrInvalidValue, "content must be quoted: %s", value)
	}
	pattern, err := decodeContent(quoted)
	if err != nil {
		return err
	}
	if len(pattern) == 0 {
		return newRuleError(ErrInvalidValue, "empty content")
	}
	content.Pattern = pattern
	rule.Options = append(rule.Options, content)
	return nil
}

// contentModifier returns the parser for a modifier keyword.
func contentModifier(name string) OptionParser {
	return func(rule *Surule, value string, hasValue bool) error {
		content := rule.lastContent()
		if content == nil {
			return newRuleError(ErrWildContentModifier, "%s", name)
		}
		return applyContentModifier(content, name, strings.TrimSpace(value), hasValue)
	}
}

func applyContentModifier(c *Content, name string, value string, hasValue bool) error {
	duplicated := newRuleError(ErrDuplicatedContentModifier, "%s", name)
	conflict := newRuleError(ErrConflictContentModifier, "%s", name)

	flag := func(field *bool) error {
		if hasValue {
			return newRuleError(ErrInvalidValue, "%s takes no value", name)
		}
		if *field {
			return duplicated
		}
		*field = true
		return nil
	}
	number := func(field **int, min int) error {
		if *field != nil {
			return duplicated
		}
		if !hasValue {
			return newRuleError(ErrInvalidValue, "%s requires a value", name)
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < min {
			return newRuleError(ErrInvalidValue, "%s:%s", name, value)
		}
		*field = &n
		return nil
	}

	switch name {
	case "nocase":
		return flag(&c.Nocase)
	case "rawbytes":
		return flag(&c.RawBytes)
	case "fast_pattern":
		// fast_pattern:only and chop variants only tune prefiltering.
		if c.FastPattern {
			return duplicated
		}
		c.FastPattern = true
		return nil
	case "startswith", "endswith":
		if c.positioned() {
			if (name == "startswith" && c.StartsWith) || (name == "endswith" && c.EndsWith) {
				return duplicated
			}
			return conflict
		}
		if name == "startswith" {
			return flag(&c.StartsWith)
		}
		return flag(&c.EndsWith)
	case "offset", "depth":
		if c.Relative() || c.StartsWith || c.EndsWith {
			return conflict
		}
		if name == "offset" {
			return number(&c.Offset, 0)
		}
		return number(&c.Depth, 1)
	case "distance", "within":
		if c.Absolute() || c.StartsWith || c.EndsWith {
			return conflict
		}
		if name == "distance" {
			return number(&c.Distance, -65535)
		}
		return number(&c.Within, 1)
	}
	return newRuleError(ErrUnknownOption, "%s", name)
}

// unquote strips the surrounding double quotes of an option value.
func unquote(value string) (string, bool) {
	if len(value) < 2 || value[0] != '"' || value[len(value)-1] != '"' {
		return "", false
	}
	return value[1 : len(value)-1], true
}

// decodeContent converts content text with |hex| runs and backslash
// escapes to bytes.
func decodeContent(text string) ([]byte, error) {
	var out []byte
	inHex := false
	var digits []byte
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inHex {
			switch {
			case ch == '|':
				if len(digits)%2 != 0 {
					return nil, newRuleError(ErrOddContentHex, "%q", text)
				}
				decoded, err := hex.DecodeString(string(digits))
				if err != nil {
					return nil, newRuleError(ErrInvalidValue, "bad hex in content %q", text)
				}
				out = append(out, decoded...)
				digits = digits[:0]
				inHex = false
			case ch == ' ':
			default:
				digits = append(digits, ch)
			}
			continue
		}
		switch ch {
		case '|':
			inHex = true
		case '\\':
			if i+1 >= len(text) {
				return nil, newRuleError(ErrInvalidValue, "trailing escape in %q", text)
			}
			i++
			out = append(out, text[i])
		case '"', ';':
			return nil, newRuleError(ErrInvalidValue, "unescaped %q in content", ch)
		default:
			out = append(out, ch)
		}
	}
	if inHex {
		return nil, newRuleError(ErrOddContentHex, "unterminated hex in %q", text)
	}
	return out, nil
}

// encodeContent renders bytes as content text, using hex runs for anything
// that is not plain printable text.
func encodeContent(pattern []byte) string {
	var b strings.Builder
	inHex := false
	for _, ch := range pattern {
		literal := ch >= 0x20 && ch < 0x7f &&
			ch != '"' && ch != ';' && ch != '\\' && ch != '|' && ch != ':'
		if literal {
			if inHex {
				b.WriteString("|")
				inHex = false
			}
			b.WriteByte(ch)
			continue
		}
		if inHex {
			b.WriteString(" ")
		} else {
			b.WriteString("|")
			inHex = true
		}
		fmt.Fprintf(&b, "%02X", ch)
	}
	if inHex {
		b.WriteString("|")
	}
	return b.String()
}

// unescapeText undoes the backslash escaping of quoted values like msg.
func unescapeText(text string) string {
	if !strings.Contains(text, "\\") {
		return text
	}
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		if text[i] == '\\' && i+1 < len(text) {
			i++
		}
		b.WriteByte(text[i])
	}
	return b.String()
}

func escapeText(text string) string {
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '"', ';', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(text[i])
	}
	return b.String()
}

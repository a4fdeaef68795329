/* Copyright (c) 2017 Jason Ish
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

package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jasonish/icsdpi/ruleparser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ruleOne   = `alert tcp any any -> any 502 (msg:"one"; content:"|00 00|"; sid:1;)`
	ruleTwo   = `alert tcp any any -> any 502 (msg:"two"; sid:2;)`
	ruleThree = `alert udp any any -> any any (msg:"three"; sid:3;)`
	ruleDup   = `drop tcp any any -> any any (msg:"duplicate"; sid:1;)`
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewRuleMapFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "local.rules", ruleOne+"\n"+ruleTwo+"\n")

	ruleMap, err := NewRuleMap([]string{path})
	require.NoError(t, err)
	assert.Equal(t, 2, ruleMap.Len())
	assert.Equal(t, []string{path}, ruleMap.Files())

	rule := ruleMap.FindById(2)
	require.NotNil(t, rule)
	assert.Equal(t, "two", rule.Msg)
	assert.Nil(t, ruleMap.FindById(3))
}

func TestNewRuleMapDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.rules", ruleOne+"\n")
	writeFile(t, dir, "b.rules", ruleDup+"\n"+ruleTwo+"\n")
	writeFile(t, dir, "notes.txt", "not rules\n")

	ruleMap, err := NewRuleMap([]string{dir})
	require.NoError(t, err)

	var sids []uint64
	for _, rule := range ruleMap.Rules() {
		sids = append(sids, rule.Sid)
	}
	assert.Equal(t, []uint64{1, 2}, sids)

	// The first rule for a sid wins.
	assert.Equal(t, "one", ruleMap.FindById(1).Msg)
	assert.Len(t, ruleMap.Files(), 2)
}

func TestNewRuleMapGlob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "modbus-1.rules", ruleOne+"\n")
	writeFile(t, dir, "modbus-2.rules", ruleThree+"\n")
	writeFile(t, dir, "other.rules", ruleTwo+"\n")

	ruleMap, err := NewRuleMap([]string{filepath.Join(dir, "modbus-*.rules")})
	require.NoError(t, err)
	assert.Equal(t, 2, ruleMap.Len())
	assert.NotNil(t, ruleMap.FindById(3))
	assert.Nil(t, ruleMap.FindById(2))
}

func TestNewRuleMapDiagnostics(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "local.rules", ruleOne+"\nalert tcp any any <- any any (sid:5;)\n"+
		`alert tcp any any -> any any (msg:"x"; foo:bar; sid:6;)`+"\n")

	ruleMap, err := NewRuleMap([]string{path})
	require.NoError(t, err)
	assert.Equal(t, 2, ruleMap.Len())

	diagnostics := ruleMap.Diagnostics()
	require.Len(t, diagnostics, 2)
	assert.Equal(t, path, diagnostics[0].File)
	assert.Equal(t, 2, diagnostics[0].Line)
	assert.Equal(t, ruleparser.SeverityError, diagnostics[0].Severity)
	assert.Equal(t, ruleparser.SeverityWarning, diagnostics[1].Severity)
	assert.Contains(t, diagnostics[0].String(), "local.rules:2: error")

	_, err = NewRuleMapWith([]string{path}, ruleparser.ParseOptions{Strict: true})
	require.NoError(t, err)
}

func TestNewRuleMapErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewRuleMap([]string{filepath.Join(dir, "missing.rules")})
	assert.Error(t, err)

	broken := writeFile(t, dir, "broken.rules", "alert tcp any any <> any any (msg:\"x\";)\n")
	_, err = NewRuleMap([]string{broken})
	assert.Error(t, err)
}

func TestNilRuleMap(t *testing.T) {
	var ruleMap *RuleMap
	assert.Nil(t, ruleMap.FindById(1))
	assert.Equal(t, 0, ruleMap.Len())
	assert.Nil(t, ruleMap.Rules())
}

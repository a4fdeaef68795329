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

package check

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

const icsRules = `[{"rid": 1, "action": "alert", "msg": "write", "proname": "Modbus",
	"args": [{"args_type": "ModbusReq", "function": "WriteSingleRegister"}]}]`

const goodRules = `alert modbus any any -> any 502 (msg:"modbus write"; content:"|06|"; offset:7; depth:1; sid:100;)
# alert tcp any any -> any any (msg:"disabled"; sid:101;)
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCheckDumpRules(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	err := Run([]string{"--dump", "rules",
		writeFile(t, dir, "ics.json", icsRules),
		writeFile(t, dir, "good.rules", goodRules)}, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `alert modbus any any -> any 502 (msg:"modbus write"; content:"|06|"; offset:7; depth:1; sid:100;)`,
		lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "# alert tcp"))
}

func TestCheckDumpJson(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	err := Run([]string{"--dump=json",
		writeFile(t, dir, "ics.json", icsRules),
		writeFile(t, dir, "good.rules", goodRules)}, &out)
	require.NoError(t, err)

	var decoded struct {
		IcsRules      []map[string]interface{} `json:"ics_rules"`
		SuricataRules []struct {
			Sid     uint64 `json:"sid"`
			Enabled bool   `json:"enabled"`
		} `json:"suricata_rules"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded.IcsRules, 1)
	assert.Equal(t, float64(1), decoded.IcsRules[0]["rid"])
	require.Len(t, decoded.SuricataRules, 2)
	assert.Equal(t, uint64(100), decoded.SuricataRules[0].Sid)
	assert.True(t, decoded.SuricataRules[0].Enabled)
	assert.False(t, decoded.SuricataRules[1].Enabled)
}

func TestCheckDumpYaml(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, Run([]string{"--dump=yaml", writeFile(t, dir, "good.rules", goodRules)}, &out))

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.NotContains(t, decoded, "ics_rules")
	assert.Len(t, decoded["suricata_rules"], 2)
}

func TestCheckProblems(t *testing.T) {
	dir := t.TempDir()
	rules := goodRules + `alert tcp any any -> any any (msg:"bad"; content:"|0|"; sid:102;)
alert tcp $NOWHERE any -> any any (msg:"undefined var"; sid:103;)
`
	var out bytes.Buffer
	err := Run([]string{writeFile(t, dir, "mixed.rules", rules)}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 rule problems")
	assert.Empty(t, out.String())

	err = Run([]string{writeFile(t, dir, "bad.json", "{")}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 rule problems")
}

func TestCheckUsageErrors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, Run([]string{"--dump=xml", "a.rules"}, &out))
	assert.Error(t, Run(nil, &out))
	assert.Error(t, Run([]string{"--no-such-flag"}, &out))
}

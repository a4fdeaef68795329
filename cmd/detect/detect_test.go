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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jasonish/icsdpi/eve"
	"github.com/jasonish/icsdpi/packet"
	"github.com/jasonish/icsdpi/packettest"
	"github.com/jasonish/icsdpi/pcap"
	"github.com/jasonish/icsdpi/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const icsRules = `[{"rid": 1, "action": "alert", "msg": "write", "proname": "Modbus",
	"args": [{"args_type": "ModbusReq", "function": "WriteSingleRegister"}]}]`

const modbusWriteRule = `alert modbus any any -> any 502 (msg:"modbus write"; content:"|06|"; offset:7; depth:1; sid:100;)
`

const neverRule = `alert modbus any any -> any 502 (msg:"never"; content:"|99|"; offset:7; depth:1; sid:200;)
`

type testFiles struct {
	dir      string
	ics      string
	suricata string
	pcap     string
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func setup(t *testing.T, suricataRules string) testFiles {
	t.Helper()
	dir := t.TempDir()
	files := testFiles{
		dir:      dir,
		ics:      filepath.Join(dir, "ics.json"),
		suricata: filepath.Join(dir, "local.rules"),
		pcap:     filepath.Join(dir, "input.pcap"),
	}
	writeFile(t, files.ics, icsRules)
	writeFile(t, files.suricata, suricataRules)

	request := packettest.ModbusRequest(packettest.ADU(1, 1, packet.ModbusWriteSingleRegister,
		packettest.U16(100, 7)...))
	ts := time.Date(2017, 1, 2, 3, 4, 5, 0, time.UTC)
	buf, err := pcap.CreatePcap(
		worker.Frame{Timestamp: ts, Data: request},
		worker.Frame{Timestamp: ts.Add(time.Second), Data: request[:packettest.EthernetLen+10]},
	)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(files.pcap, buf, 0644))
	return files
}

func (f testFiles) args(extra ...string) []string {
	args := []string{
		"--ics-rules", f.ics,
		"--suricata-rules", f.suricata,
		"--workers", "2",
	}
	args = append(args, extra...)
	return append(args, f.pcap)
}

func decodeEvents(t *testing.T, buf []byte) []eve.Event {
	t.Helper()
	var events []eve.Event
	for _, line := range strings.Split(strings.TrimSpace(string(buf)), "\n") {
		if line == "" {
			continue
		}
		var event eve.Event
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		events = append(events, event)
	}
	return events
}

func TestDetect(t *testing.T) {
	files := setup(t, modbusWriteRule)
	pcapOut := filepath.Join(files.dir, "hits.pcap")
	metricsOut := filepath.Join(files.dir, "metrics.prom")

	var out bytes.Buffer
	err := Run(context.Background(), files.args("--write-pcap", pcapOut, "--metrics-file", metricsOut), &out)
	require.NoError(t, err)

	events := decodeEvents(t, out.Bytes())
	require.Len(t, events, 3)

	assert.Equal(t, eve.EventTypeAlert, events[0].EventType)
	assert.Equal(t, "ics", events[0].Alert.Source)
	assert.Equal(t, uint64(1), events[0].Alert.SignatureID)
	assert.Equal(t, 1, events[0].PcapCount)
	assert.Equal(t, "2017-01-02T03:04:05.000000Z", events[0].Timestamp)
	require.NotNil(t, events[0].Modbus)
	assert.Equal(t, "WriteSingleRegister", events[0].Modbus.Function)

	assert.Equal(t, "suricata", events[1].Alert.Source)
	assert.Equal(t, uint64(100), events[1].Alert.SignatureID)
	assert.Equal(t, strings.TrimSpace(modbusWriteRule), events[1].Alert.Rule)

	assert.Equal(t, eve.EventTypeAnomaly, events[2].EventType)
	assert.Equal(t, 2, events[2].PcapCount)
	require.NotNil(t, events[2].DecodeError)
	assert.Equal(t, "IPv4", events[2].DecodeError.Layer)

	reader, err := pcap.Open(pcapOut)
	require.NoError(t, err)
	defer reader.Close()
	count := 0
	for {
		if _, err := reader.Next(); err != nil {
			break
		}
		count++
	}
	assert.Equal(t, 2, count)

	metrics, err := os.ReadFile(metricsOut)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "icsdpi_packets_total 2")
	assert.Contains(t, string(metrics), `icsdpi_matches_total{source="suricata"} 1`)
}

func TestDetectErrors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, Run(context.Background(), nil, &out))

	files := setup(t, modbusWriteRule)
	writeFile(t, files.ics, "not json")
	assert.Error(t, Run(context.Background(), files.args(), &out))

	files = setup(t, modbusWriteRule)
	assert.Error(t, Run(context.Background(), files.args("--policy", "best-match"), &out))
	assert.Empty(t, out.String())
}

func TestDetectWatch(t *testing.T) {
	files := setup(t, neverRule)
	output := filepath.Join(files.dir, "eve.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, files.args("--watch", "--reload-debounce", "10ms", "--output", output), nil)
	}()

	readEvents := func() []eve.Event {
		buf, _ := os.ReadFile(output)
		var events []eve.Event
		for _, line := range strings.Split(string(buf), "\n") {
			var event eve.Event
			if json.Unmarshal([]byte(line), &event) == nil {
				events = append(events, event)
			}
		}
		return events
	}

	// The ICS alert and the anomaly.
	require.Eventually(t, func() bool {
		return len(readEvents()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	// The watcher starts after the first pass, so keep replacing the file
	// until a reload is seen. Each pass adds the Suricata alert.
	tmp := filepath.Join(files.dir, "local.rules.tmp")
	require.Eventually(t, func() bool {
		if len(readEvents()) >= 5 {
			return true
		}
		if os.WriteFile(tmp, []byte(modbusWriteRule), 0644) == nil {
			os.Rename(tmp, files.suricata)
		}
		return false
	}, 5*time.Second, 100*time.Millisecond)

	events := readEvents()
	assert.Equal(t, "suricata", events[3].Alert.Source)
	assert.Equal(t, uint64(100), events[3].Alert.SignatureID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("detect did not stop")
	}
}

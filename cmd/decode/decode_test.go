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

package decode

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jasonish/icsdpi/packet"
	"github.com/jasonish/icsdpi/packettest"
	"github.com/jasonish/icsdpi/pcap"
	"github.com/jasonish/icsdpi/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePcap(t *testing.T) string {
	t.Helper()
	request := packettest.ModbusRequest(packettest.ADU(1, 1, packet.ModbusReadHoldingRegisters,
		packettest.U16(0, 10)...))
	datas := [][]byte{
		request,
		request[:packettest.EthernetLen+10],
		packettest.Frame{UDP: true, SrcPort: 40000, DstPort: 53, Payload: []byte("dns?")}.Bytes(),
	}

	filename := filepath.Join(t.TempDir(), "test.pcap")
	writer, err := pcap.Create(filename)
	require.NoError(t, err)
	ts := time.Date(2017, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, data := range datas {
		require.NoError(t, writer.Write(worker.Frame{
			Index:     i,
			Timestamp: ts.Add(time.Duration(i) * time.Second),
			Data:      data,
		}))
	}
	require.NoError(t, writer.Close())
	return filename
}

func TestDecodeText(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Run([]string{writePcap(t)}, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1 Ethernet/IPv4/TCP/ModbusReq Eof", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2 Ethernet Error: "), lines[1])
	assert.Contains(t, lines[1], "ParsingHeader")
	assert.True(t, strings.HasPrefix(lines[2], "3 Ethernet/IPv4/UDP"), lines[2])
	assert.True(t, strings.HasSuffix(lines[2], " Unknown"), lines[2])
}

func TestDecodeJson(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Run([]string{"--json", "--modbus-port=53", writePcap(t)}, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var summary FrameSummary
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &summary))
	assert.Equal(t, 1, summary.Index)
	assert.Equal(t, "2017-01-02T03:04:05.000000Z", summary.Timestamp)
	// Port 502 is no longer Modbus.
	assert.Equal(t, []string{"Ethernet", "IPv4", "TCP", "Unknown"}, summary.Layers)
	assert.Empty(t, summary.Error)

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &summary))
	assert.Equal(t, packettest.EthernetLen+10, summary.Length)
	assert.Equal(t, "Error", summary.End)
	assert.NotEmpty(t, summary.Error)
}

func TestDecodeErrors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, Run(nil, &out))
	assert.Error(t, Run([]string{"/does/not/exist.pcap"}, &out))
}

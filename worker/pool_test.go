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

package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jasonish/icsdpi/detect"
	"github.com/jasonish/icsdpi/packet"
	"github.com/jasonish/icsdpi/packettest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lengthInspector hits on frames longer than min.
type lengthInspector struct {
	min   int
	calls int64
}

func (i *lengthInspector) Inspect(data []byte) detect.CheckResult {
	atomic.AddInt64(&i.calls, 1)
	if len(data) > i.min {
		return detect.CheckResult{
			Verdict: detect.Hit,
			Matches: []detect.Match{{RuleID: uint64(len(data))}},
		}
	}
	return detect.CheckResult{Verdict: detect.Miss}
}

func makeFrames(n int) []Frame {
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = Frame{Index: i, Data: make([]byte, i)}
	}
	return frames
}

func TestInspectAllOrder(t *testing.T) {
	inspector := &lengthInspector{min: 50}
	pool := NewPool(inspector, Options{Workers: 4})
	assert.Equal(t, 4, pool.Workers())

	results, err := pool.InspectAll(context.Background(), FromSlice(makeFrames(100)))
	require.NoError(t, err)
	require.Len(t, results, 100)
	assert.Equal(t, int64(100), inspector.calls)
	for i, result := range results {
		assert.Equal(t, i, result.Frame.Index)
		if i > 50 {
			assert.Equal(t, detect.Hit, result.Result.Verdict)
			assert.Equal(t, uint64(i), result.Result.Matches[0].RuleID)
		} else {
			assert.Equal(t, detect.Miss, result.Result.Verdict)
		}
	}
}

func TestInspectAllEngine(t *testing.T) {
	engine := detect.NewEngine(detect.Options{})
	pool := NewPool(engine, Options{})
	assert.True(t, pool.Workers() > 0)

	adu := packettest.ADU(1, 1, packet.ModbusWriteSingleRegister, packettest.U16(100)...)
	frames := []Frame{
		{Index: 0, Data: packettest.ModbusRequest(packettest.ADU(1, 1, 6, packettest.U16(1, 2)...))},
		{Index: 1, Data: packettest.ModbusRequest(adu)},
	}
	results, err := pool.InspectAll(context.Background(), FromSlice(frames))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, detect.Miss, results[0].Result.Verdict)
	assert.Equal(t, detect.Malformed, results[1].Result.Verdict)
}

func TestInspectAllSourceError(t *testing.T) {
	pool := NewPool(&lengthInspector{}, Options{Workers: 2})
	failure := errors.New("read failed")
	_, err := pool.InspectAll(context.Background(), func(ctx context.Context, out chan<- Frame) error {
		out <- Frame{Index: 0}
		return failure
	})
	assert.Equal(t, failure, err)
}

func TestRunCancel(t *testing.T) {
	pool := NewPool(&lengthInspector{}, Options{Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())

	// Nothing reads the results, so the workers block until cancelled.
	frames := make(chan Frame, 10)
	for _, frame := range makeFrames(10) {
		frames <- frame
	}
	results := make(chan Result)
	done := make(chan error)
	go func() {
		done <- pool.Run(ctx, frames, results)
	}()
	cancel()
	assert.Equal(t, context.Canceled, <-done)
}

func TestRunClosedInput(t *testing.T) {
	pool := NewPool(&lengthInspector{}, Options{Workers: 3})
	frames := make(chan Frame)
	close(frames)
	assert.NoError(t, pool.Run(context.Background(), frames, make(chan Result)))
}

// orderInspector records frames that arrive out of order within their flow.
// The first byte of a frame is its flow, the next four its sequence.
type orderInspector struct {
	mu         sync.Mutex
	last       map[byte]uint32
	outOfOrder int
}

func (i *orderInspector) FlowHash(data []byte) uint64 {
	return uint64(data[0])
}

func (i *orderInspector) Inspect(data []byte) detect.CheckResult {
	seq := binary.BigEndian.Uint32(data[1:])
	i.mu.Lock()
	defer i.mu.Unlock()
	if last, ok := i.last[data[0]]; ok && seq < last {
		i.outOfOrder++
	}
	i.last[data[0]] = seq
	return detect.CheckResult{Verdict: detect.Miss}
}

func TestRunFlowOrder(t *testing.T) {
	inspector := &orderInspector{last: make(map[byte]uint32)}
	pool := NewPool(inspector, Options{Workers: 8})

	var frames []Frame
	for seq := 0; seq < 500; seq++ {
		for flow := 0; flow < 16; flow++ {
			data := make([]byte, 5)
			data[0] = byte(flow)
			binary.BigEndian.PutUint32(data[1:], uint32(seq))
			frames = append(frames, Frame{Index: len(frames), Data: data})
		}
	}

	results, err := pool.InspectAll(context.Background(), FromSlice(frames))
	require.NoError(t, err)
	assert.Len(t, results, len(frames))
	assert.Equal(t, 0, inspector.outOfOrder)
}

func TestInspectAllFlowbits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowbits.rules")
	require.NoError(t, os.WriteFile(path, []byte(
		`alert tcp any any -> any 8000 (msg:"login"; content:"login"; flowbits:set,logged; flowbits:noalert; sid:1;)`+"\n"+
			`alert tcp any any -> any 8000 (msg:"command"; content:"cmd"; flowbits:isset,logged; sid:2;)`+"\n"),
		0644))

	engine := detect.NewEngine(detect.Options{})
	_, err := engine.LoadSurules(path)
	require.NoError(t, err)

	const flows = 2000
	var frames []Frame
	for i := 0; i < flows; i++ {
		for _, payload := range []string{"login", "cmd"} {
			frames = append(frames, Frame{
				Index: len(frames),
				Data: packettest.Frame{
					SrcPort: 10000 + uint16(i),
					DstPort: 8000,
					Payload: []byte(payload),
				}.Bytes(),
			})
		}
	}

	pool := NewPool(engine, Options{Workers: 8})
	results, err := pool.InspectAll(context.Background(), FromSlice(frames))
	require.NoError(t, err)
	require.Len(t, results, len(frames))

	hits := 0
	for _, result := range results {
		if result.Result.Verdict == detect.Hit {
			require.Len(t, result.Result.Matches, 1)
			assert.Equal(t, uint64(2), result.Result.Matches[0].RuleID)
			assert.Equal(t, 1, result.Frame.Index%2)
			hits++
		}
	}
	assert.Equal(t, flows, hits)
}

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

// Package worker inspects frames on a pool of goroutines.
package worker

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/jasonish/icsdpi/detect"
	"golang.org/x/sync/errgroup"
)

// Frame is one captured frame. Index is its position in the capture.
type Frame struct {
	Index     int
	Timestamp time.Time
	Data      []byte
}

type Result struct {
	Frame  Frame
	Result detect.CheckResult
}

// Inspector is satisfied by *detect.Engine.
type Inspector interface {
	Inspect(data []byte) detect.CheckResult
}

// FlowHasher is implemented by inspectors that keep per-flow state, such
// as flowbits. A pool pins every flow to one worker so the frames of a
// flow are inspected in capture order.
type FlowHasher interface {
	FlowHash(data []byte) uint64
}

type Options struct {
	// Defaults to the number of CPUs.
	Workers int

	// Capacity of the result channel used by InspectAll.
	QueueSize int
}

type Pool struct {
	inspector Inspector
	options   Options
}

func NewPool(inspector Inspector, options Options) *Pool {
	if options.Workers <= 0 {
		options.Workers = runtime.NumCPU()
	}
	if options.QueueSize <= 0 {
		options.QueueSize = options.Workers * 64
	}
	return &Pool{
		inspector: inspector,
		options:   options,
	}
}

func (p *Pool) Workers() int {
	return p.options.Workers
}

// Run inspects frames until the channel is closed or ctx is done. Results
// are sent in completion order. Run does not close results.
//
// When the inspector is a FlowHasher, frames are dispatched to workers by
// flow, and the results of one flow are sent in frame order.
func (p *Pool) Run(ctx context.Context, frames <-chan Frame, results chan<- Result) error {
	g, ctx := errgroup.WithContext(ctx)

	inputs := make([]<-chan Frame, p.options.Workers)
	hasher, pinned := p.inspector.(FlowHasher)
	if pinned && p.options.Workers > 1 {
		queues := make([]chan Frame, p.options.Workers)
		for i := range queues {
			queues[i] = make(chan Frame, queueDepth)
			inputs[i] = queues[i]
		}
		g.Go(func() error {
			defer func() {
				for _, queue := range queues {
					close(queue)
				}
			}()
			return dispatch(ctx, frames, queues, hasher)
		})
	} else {
		for i := range inputs {
			inputs[i] = frames
		}
	}

	for _, input := range inputs {
		input := input
		g.Go(func() error {
			return p.work(ctx, input, results)
		})
	}
	return g.Wait()
}

// Frames buffered per worker when dispatching by flow.
const queueDepth = 64

func dispatch(ctx context.Context, frames <-chan Frame, queues []chan Frame, hasher FlowHasher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			queue := queues[hasher.FlowHash(frame.Data)%uint64(len(queues))]
			select {
			case queue <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (p *Pool) work(ctx context.Context, frames <-chan Frame, results chan<- Result) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			result := Result{
				Frame:  frame,
				Result: p.inspector.Inspect(frame.Data),
			}
			select {
			case results <- result:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// InspectAll feeds every frame produced by source through the pool and
// returns the results in frame order. The frame channel is closed when
// source returns; source should return early when ctx is cancelled.
func (p *Pool) InspectAll(ctx context.Context, source func(ctx context.Context, out chan<- Frame) error) ([]Result, error) {
	frames := make(chan Frame, p.options.QueueSize)
	results := make(chan Result, p.options.QueueSize)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(frames)
		return source(ctx, frames)
	})
	g.Go(func() error {
		defer close(results)
		return p.Run(ctx, frames, results)
	})

	var collected []Result
	for result := range results {
		collected = append(collected, result)
	}
	if err := g.Wait(); err != nil {
		return collected, err
	}

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].Frame.Index < collected[j].Frame.Index
	})
	return collected, nil
}

// FromSlice returns a source for InspectAll that sends the given frames.
func FromSlice(frames []Frame) func(ctx context.Context, out chan<- Frame) error {
	return func(ctx context.Context, out chan<- Frame) error {
		for _, frame := range frames {
			select {
			case out <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

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

// Package pcap reads and writes capture files of Ethernet frames.
package pcap

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/jasonish/icsdpi/worker"
	"github.com/pkg/errors"
)

const snapLen = 0xffff

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader reads frames from a pcap or pcapng file.
type Reader struct {
	closer io.Closer
	reader packetReader
	count  int
}

// Open opens a capture file. Only Ethernet captures are accepted.
func Open(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	reader, err := NewReader(file)
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "failed to read %s", filename)
	}
	reader.closer = file
	return reader, nil
}

func NewReader(r io.Reader) (*Reader, error) {
	buffered := bufio.NewReader(r)
	magic, err := buffered.Peek(len(pcapngMagic))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file header")
	}

	var reader packetReader
	if bytes.Equal(magic, pcapngMagic) {
		reader, err = pcapgo.NewNgReader(buffered, pcapgo.DefaultNgReaderOptions)
	} else {
		reader, err = pcapgo.NewReader(buffered)
	}
	if err != nil {
		return nil, err
	}
	if reader.LinkType() != layers.LinkTypeEthernet {
		return nil, errors.Errorf("unsupported link type %s", reader.LinkType())
	}
	return &Reader{reader: reader}, nil
}

// Next returns the next frame, or io.EOF at the end of the file.
func (r *Reader) Next() (worker.Frame, error) {
	data, ci, err := r.reader.ReadPacketData()
	if err != nil {
		return worker.Frame{}, err
	}
	frame := worker.Frame{
		Index:     r.count,
		Timestamp: ci.Timestamp,
		Data:      data,
	}
	r.count++
	return frame, nil
}

// Count returns the number of frames read so far.
func (r *Reader) Count() int {
	return r.count
}

// Frames sends every remaining frame to out. It is a worker.Pool source.
func (r *Reader) Frames(ctx context.Context, out chan<- worker.Frame) error {
	for {
		frame, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to read frame %d", r.count+1)
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Writer writes Ethernet frames to a pcap file.
type Writer struct {
	closer io.Closer
	writer *pcapgo.Writer
}

func Create(filename string) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	writer, err := NewWriter(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	writer.closer = file
	return writer, nil
}

// NewWriter writes the file header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}
	return &Writer{writer: writer}, nil
}

func (w *Writer) Write(frame worker.Frame) error {
	return w.writer.WritePacket(gopacket.CaptureInfo{
		Timestamp:     frame.Timestamp,
		CaptureLength: len(frame.Data),
		Length:        len(frame.Data),
	}, frame.Data)
}

func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// CreatePcap returns a complete pcap file holding the given frames.
func CreatePcap(frames ...worker.Frame) ([]byte, error) {
	var output bytes.Buffer
	writer, err := NewWriter(&output)
	if err != nil {
		return nil, err
	}
	for _, frame := range frames {
		if err := writer.Write(frame); err != nil {
			return nil, err
		}
	}
	return output.Bytes(), nil
}

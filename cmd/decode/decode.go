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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jasonish/icsdpi/config"
	"github.com/jasonish/icsdpi/decoder"
	"github.com/jasonish/icsdpi/eve"
	"github.com/jasonish/icsdpi/log"
	"github.com/jasonish/icsdpi/packet"
	"github.com/jasonish/icsdpi/pcap"
	"github.com/jasonish/icsdpi/util"
	"github.com/jasonish/icsdpi/worker"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// FrameSummary describes how a frame decoded.
type FrameSummary struct {
	Index     int      `json:"index"`
	Timestamp string   `json:"timestamp"`
	Length    int      `json:"length"`
	Layers    []string `json:"layers"`
	End       string   `json:"end"`
	Error     string   `json:"error,omitempty"`
}

func Summarize(frame worker.Frame, pkt *packet.Packet) FrameSummary {
	summary := FrameSummary{
		Index:     frame.Index + 1,
		Timestamp: eve.FormatTimestampUTC(frame.Timestamp),
		Length:    len(frame.Data),
		End:       pkt.End.String(),
	}
	for _, layer := range pkt.Layers {
		if layer.LayerType() == packet.LayerTypeError {
			continue
		}
		summary.Layers = append(summary.Layers, layer.LayerType().String())
	}
	if err := pkt.Err(); err != nil {
		summary.Error = err.Error()
	}
	return summary
}

func (s FrameSummary) String() string {
	line := fmt.Sprintf("%d %s %s", s.Index, strings.Join(s.Layers, "/"), s.End)
	if s.Error != "" {
		line += ": " + s.Error
	}
	return line
}

func usage(flagset *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: icsdpi decode [options] <pcap>...\n\n")
	flagset.PrintDefaults()
}

func Main(args []string) {
	if err := Run(args, os.Stdout); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		log.Fatal(err)
	}
}

// Run prints one line per frame of each pcap.
func Run(args []string, out io.Writer) error {
	var asJson bool

	flagset := pflag.NewFlagSet("icsdpi decode", pflag.ContinueOnError)
	flagset.Usage = func() {
		usage(flagset)
	}
	config.AddFlags(flagset)
	flagset.BoolVar(&asJson, "json", false, "Print JSON instead of text")
	if err := flagset.Parse(args); err != nil {
		return err
	}
	if len(flagset.Args()) == 0 {
		return errors.New("no input files")
	}

	cfg, err := config.LoadFlags(flagset)
	if err != nil {
		return err
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	d := decoder.New(decoder.Options{
		ModbusPort: uint16(cfg.ModbusPort),
		Strict:     cfg.Strict,
		MaxLayers:  cfg.MaxLayers,
	})

	for _, filename := range flagset.Args() {
		if err := decodeFile(d, filename, asJson, out); err != nil {
			return err
		}
	}
	return nil
}

func decodeFile(d *decoder.Decoder, filename string, asJson bool, out io.Writer) error {
	reader, err := pcap.Open(filename)
	if err != nil {
		return err
	}
	defer reader.Close()

	errorCount := 0
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return errors.Wrapf(err, "failed to read %s", filename)
		}
		summary := Summarize(frame, d.Decode(frame.Data))
		if summary.Error != "" {
			errorCount++
		}
		if asJson {
			fmt.Fprintln(out, util.ToJson(summary))
		} else {
			fmt.Fprintln(out, summary.String())
		}
	}
	log.Info("%s: %d frames, %d with decode errors", filename, reader.Count(), errorCount)
	return nil
}

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
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jasonish/icsdpi/appcontext"
	"github.com/jasonish/icsdpi/config"
	"github.com/jasonish/icsdpi/eve"
	"github.com/jasonish/icsdpi/log"
	"github.com/jasonish/icsdpi/pcap"
	"github.com/jasonish/icsdpi/rules"
	"github.com/jasonish/icsdpi/worker"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

var opts struct {
	Watch       bool
	Output      string
	WritePcap   string
	Packet      bool
	MetricsFile string
}

func usage(flagset *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: icsdpi detect [options] <pcap>...\n\n")
	flagset.PrintDefaults()
}

func Main(args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := Run(ctx, args, os.Stdout); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		log.Fatal(err)
	}
}

// Run inspects each pcap and writes an EVE record per alert or anomaly.
// With --watch, or reload set in the config, the pcaps are inspected again
// after every rule reload until the context is cancelled.
func Run(ctx context.Context, args []string, out io.Writer) error {
	flagset := pflag.NewFlagSet("icsdpi detect", pflag.ContinueOnError)
	flagset.Usage = func() {
		usage(flagset)
	}
	config.AddFlags(flagset)
	flagset.BoolVar(&opts.Watch, "watch", false, "Inspect again when rule files change")
	flagset.StringVarP(&opts.Output, "output", "o", "", "EVE output filename (default stdout)")
	flagset.StringVar(&opts.WritePcap, "write-pcap", "", "Write frames that produced events to a pcap")
	flagset.BoolVar(&opts.Packet, "packet", false, "Include the frame in each event")
	flagset.StringVar(&opts.MetricsFile, "metrics-file", "", "Write Prometheus metrics to a text file after each run")
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

	appContext, err := appcontext.New(cfg)
	if err != nil {
		return err
	}
	if err := appContext.LoadRules(); err != nil {
		return err
	}

	if opts.Output != "" {
		file, err := os.OpenFile(opts.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, "failed to open output")
		}
		defer file.Close()
		out = file
	}

	runner := &Runner{
		App:       appContext,
		Pool:      worker.NewPool(appContext.Engine, worker.Options{Workers: cfg.Workers}),
		Events:    eve.NewWriter(out),
		Filenames: flagset.Args(),
		WritePcap: opts.WritePcap,
	}
	runner.Builder = eve.NewBuilder(appContext.Engine.Decoder(), eve.BuilderOptions{
		Packet: opts.Packet,
		Rules:  appContext,
	})
	if opts.MetricsFile != "" {
		runner.Registry = prometheus.NewRegistry()
		if err := appContext.Metrics.Register(runner.Registry); err != nil {
			return err
		}
		runner.MetricsFile = opts.MetricsFile
	}

	if err := runner.Run(ctx); err != nil {
		return err
	}

	if !opts.Watch && !cfg.Reload {
		return nil
	}

	watcher, err := rules.NewWatcher(appContext.RulePaths(), cfg.ReloadDebounce, func() error {
		if err := appContext.LoadRules(); err != nil {
			return err
		}
		return runner.Run(ctx)
	})
	if err != nil {
		return err
	}
	defer watcher.Close()
	log.Info("Watching %d rule paths for changes", len(appContext.RulePaths()))
	return watcher.Run(ctx)
}

// Runner inspects a list of pcaps with the current rules.
type Runner struct {
	App       *appcontext.AppContext
	Pool      *worker.Pool
	Builder   *eve.Builder
	Events    *eve.Writer
	Filenames []string

	// Optional.
	WritePcap   string
	Registry    *prometheus.Registry
	MetricsFile string
}

func (r *Runner) Run(ctx context.Context) error {
	// Flow state would otherwise leak from the previous pass.
	r.App.Engine.Flowbits().Reset()

	var pcapWriter *pcap.Writer
	if r.WritePcap != "" {
		var err error
		if pcapWriter, err = pcap.Create(r.WritePcap); err != nil {
			return err
		}
		defer pcapWriter.Close()
	}

	frames, events := 0, 0
	for _, filename := range r.Filenames {
		reader, err := pcap.Open(filename)
		if err != nil {
			return err
		}
		results, err := r.Pool.InspectAll(ctx, reader.Frames)
		reader.Close()
		if err != nil {
			return errors.Wrapf(err, "failed to inspect %s", filename)
		}
		frames += len(results)

		for _, result := range results {
			built := r.Builder.Build(result.Frame, result.Result)
			for _, event := range built {
				if err := r.Events.Write(event); err != nil {
					return errors.Wrap(err, "failed to write event")
				}
			}
			events += len(built)
			if pcapWriter != nil && len(built) > 0 {
				if err := pcapWriter.Write(result.Frame); err != nil {
					return err
				}
			}
		}
	}

	log.WithFields(log.Fields{
		"frames": frames,
		"events": events,
	}).Info("Inspected %d pcap files", len(r.Filenames))

	if r.MetricsFile != "" && r.Registry != nil {
		if err := prometheus.WriteToTextfile(r.MetricsFile, r.Registry); err != nil {
			return errors.Wrap(err, "failed to write metrics")
		}
	}
	return nil
}

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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jasonish/icsdpi/config"
	"github.com/jasonish/icsdpi/detect"
	"github.com/jasonish/icsdpi/icsrule"
	"github.com/jasonish/icsdpi/log"
	"github.com/jasonish/icsdpi/ruleparser"
	"github.com/jasonish/icsdpi/rules"
	"github.com/jasonish/icsdpi/util"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

const (
	DumpRules = "rules"
	DumpJson  = "json"
	DumpYaml  = "yaml"
)

type dump struct {
	// ICS rules in their file form.
	IcsRules      interface{}          `json:"ics_rules,omitempty" yaml:"ics_rules,omitempty"`
	SuricataRules []ruleparser.Summary `json:"suricata_rules,omitempty" yaml:"suricata_rules,omitempty"`

	surules []*ruleparser.Surule
}

func usage(flagset *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: icsdpi check [options] [rule files...]\n\n")
	fmt.Fprintf(os.Stderr, "Files ending in .json are loaded as ICS rules, anything else as Suricata rules.\n\n")
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

// Run checks the configured rule files and any given as arguments. An
// error is returned if any rule failed to load.
func Run(args []string, out io.Writer) error {
	var dumpFormat string

	flagset := pflag.NewFlagSet("icsdpi check", pflag.ContinueOnError)
	flagset.Usage = func() {
		usage(flagset)
	}
	config.AddFlags(flagset)
	flagset.StringVar(&dumpFormat, "dump", "", "Dump the loaded rules: rules, json or yaml")
	if err := flagset.Parse(args); err != nil {
		return err
	}

	switch dumpFormat {
	case "", DumpRules, DumpJson, DumpYaml:
	default:
		return errors.Errorf("unknown dump format: %s", dumpFormat)
	}

	cfg, err := config.LoadFlags(flagset)
	if err != nil {
		return err
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	icsPath := cfg.IcsRules
	suricataPaths := cfg.SuricataRules
	for _, arg := range flagset.Args() {
		if strings.EqualFold(filepath.Ext(arg), ".json") {
			icsPath = arg
		} else {
			suricataPaths = append(suricataPaths, arg)
		}
	}
	if icsPath == "" && len(suricataPaths) == 0 {
		return errors.New("no rule files to check")
	}

	failed := 0
	var output dump

	if icsPath != "" {
		icsRules, err := icsrule.Load(icsPath)
		if err != nil {
			log.WithError(err).Error("Failed to load ICS rules from %s", icsPath)
			failed++
		} else {
			log.Info("%s: %d ICS rules OK", icsPath, icsRules.Len())
			if output.IcsRules, err = icsDump(icsRules); err != nil {
				return err
			}
		}
	}

	if len(suricataPaths) > 0 {
		n, err := checkSurules(cfg, suricataPaths, &output)
		if err != nil {
			log.WithError(err).Error("Failed to load Suricata rules")
			failed++
		}
		failed += n
	}

	switch dumpFormat {
	case DumpRules:
		for _, rule := range output.surules {
			fmt.Fprintln(out, rule.String())
		}
	case DumpJson:
		fmt.Fprintln(out, util.ToJsonPretty(output))
	case DumpYaml:
		fmt.Fprint(out, util.ToYaml(output))
	}

	if failed > 0 {
		return errors.Errorf("%d rule problems found", failed)
	}
	return nil
}

func icsDump(icsRules *icsrule.Rules) (interface{}, error) {
	buf, err := json.Marshal(icsRules)
	if err != nil {
		return nil, err
	}
	var value interface{}
	if err := json.Unmarshal(buf, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// checkSurules loads and compiles Suricata rules, returning the number of
// rules that failed.
func checkSurules(cfg *config.Config, paths []string, output *dump) (int, error) {
	ruleMap, err := rules.NewRuleMapWith(paths, ruleparser.ParseOptions{
		Strict:       cfg.Strict,
		KeepDisabled: true,
	})
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, diagnostic := range ruleMap.Diagnostics() {
		if diagnostic.Severity == ruleparser.SeverityError {
			log.Error("%s", diagnostic)
			failed++
		} else {
			log.Warning("%s", diagnostic)
		}
	}

	vars, err := detect.NewVars(cfg.Vars.AddressGroups, cfg.Vars.PortGroups)
	if err != nil {
		return failed, errors.Wrap(err, "invalid vars")
	}
	compiled, errs := detect.Compile(ruleMap.Rules(), vars)
	for _, err := range errs {
		log.Error("%v", err)
	}
	failed += len(errs)

	output.surules = ruleMap.Rules()
	for _, rule := range ruleMap.Rules() {
		output.SuricataRules = append(output.SuricataRules, rule.Summary())
	}
	log.Info("%d Suricata rules, %d enabled and usable", ruleMap.Len(), compiled.Len())
	return failed, nil
}
